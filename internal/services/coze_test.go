package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatStreamAssemblesDeltas(t *testing.T) {
	body := strings.Join([]string{
		"event: conversation.chat.created",
		`data: {"conversation_id":"conv-42"}`,
		"",
		"event: conversation.message.delta",
		`data: {"role":"assistant","content":"Hello"}`,
		"",
		"event: conversation.message.delta",
		`data: {"role":"assistant","content":", rider!"}`,
		"",
		"event: conversation.chat.completed",
		`data: {}`,
		"",
	}, "\n")

	var deltas []string
	reply, err := parseChatStream(strings.NewReader(body), func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, rider!", reply.Content)
	assert.Equal(t, "conv-42", reply.ConversationID)
	assert.Equal(t, []string{"Hello", ", rider!"}, deltas)
}

func TestParseChatStreamSkipsNonAssistantDeltas(t *testing.T) {
	body := strings.Join([]string{
		"event: conversation.message.delta",
		`data: {"role":"tool","content":"internal"}`,
		"",
		"event: conversation.message.delta",
		`data: {"role":"assistant","content":"visible"}`,
		"",
	}, "\n")

	reply, err := parseChatStream(strings.NewReader(body), nil)
	require.NoError(t, err)
	assert.Equal(t, "visible", reply.Content)
}

func TestParseChatStreamFailure(t *testing.T) {
	body := strings.Join([]string{
		"event: conversation.message.delta",
		`data: {"role":"assistant","content":"partial"}`,
		"",
		"event: conversation.chat.failed",
		`data: {"last_error":{"code":700,"msg":"workflow exploded"}}`,
		"",
	}, "\n")

	_, err := parseChatStream(strings.NewReader(body), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamChat)
	assert.Contains(t, err.Error(), "workflow exploded")
}

func TestParseChatStreamEmptyIsError(t *testing.T) {
	_, err := parseChatStream(strings.NewReader(""), nil)
	assert.ErrorIs(t, err, ErrUpstreamChat)
}

func TestParseChatStreamIgnoresDoneMarker(t *testing.T) {
	body := strings.Join([]string{
		"event: conversation.message.delta",
		`data: {"role":"assistant","content":"ok"}`,
		"",
		"event: done",
		"data: [DONE]",
		"",
	}, "\n")

	reply, err := parseChatStream(strings.NewReader(body), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Content)
}

func TestAudienceFor(t *testing.T) {
	assert.Equal(t, "api.coze.cn", audienceFor("https://api.coze.cn"))
	assert.Equal(t, "api.coze.com", audienceFor("https://api.coze.com"))
	assert.Equal(t, "api.coze.com", audienceFor("https://proxy.internal"))
}
