package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrUpstreamChat marks failures reported by the AI workflow itself, as
// opposed to transport problems. Handlers map it to 502.
var ErrUpstreamChat = fmt.Errorf("upstream chat failed")

// EngineReply is the assembled outcome of one AI turn.
type EngineReply struct {
	Content        string
	ConversationID string
}

// DeltaFunc receives each incremental content chunk during streaming.
type DeltaFunc func(delta string)

// ChatEngine produces the assistant reply for a user message. Implemented
// by CozeClient in production and by fakes in tests.
type ChatEngine interface {
	Chat(ctx context.Context, sessionName, message string, params map[string]interface{}) (*EngineReply, error)
	ChatStream(ctx context.Context, sessionName, message string, params map[string]interface{}, onDelta DeltaFunc) (*EngineReply, error)
}

// CozeClient calls the Coze workflow chat endpoint and parses its SSE
// response. Auth tokens come from the TokenManager; a rejected token is
// invalidated and the request retried exactly once.
type CozeClient struct {
	base       string
	workflowID string
	appID      string
	tokens     *TokenManager
	client     *http.Client
}

// NewCozeClientFromEnv reads COZE_API_BASE, COZE_WORKFLOW_ID and
// COZE_APP_ID. Connect and read timeouts follow HTTP_TIMEOUT_CONNECT and
// HTTP_TIMEOUT_READ (seconds).
func NewCozeClientFromEnv(tokens *TokenManager) (*CozeClient, error) {
	workflowID := os.Getenv("COZE_WORKFLOW_ID")
	appID := os.Getenv("COZE_APP_ID")
	if workflowID == "" || appID == "" {
		return nil, fmt.Errorf("coze: COZE_WORKFLOW_ID and COZE_APP_ID are required")
	}

	connectTimeout := envSeconds("HTTP_TIMEOUT_CONNECT", 10)
	readTimeout := envSeconds("HTTP_TIMEOUT_READ", 30)
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		ResponseHeaderTimeout: readTimeout,
	}

	return &CozeClient{
		base:       strings.TrimRight(getEnv("COZE_API_BASE", "https://api.coze.com"), "/"),
		workflowID: workflowID,
		appID:      appID,
		tokens:     tokens,
		// No overall client timeout: streamed responses outlive any
		// fixed deadline, the caller's context bounds the request.
		client: &http.Client{Transport: transport},
	}, nil
}

func envSeconds(name string, fallback int) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(fallback) * time.Second
}

// Chat runs one turn and returns the full assembled reply.
func (c *CozeClient) Chat(ctx context.Context, sessionName, message string, params map[string]interface{}) (*EngineReply, error) {
	return c.ChatStream(ctx, sessionName, message, params, nil)
}

// ChatStream runs one turn, invoking onDelta for every content chunk as it
// arrives, and returns the assembled reply once the stream ends.
func (c *CozeClient) ChatStream(ctx context.Context, sessionName, message string, params map[string]interface{}, onDelta DeltaFunc) (*EngineReply, error) {
	reply, retriable, err := c.chatOnce(ctx, sessionName, message, params, onDelta)
	if err != nil && retriable {
		// Token may have been revoked upstream. Mint a new one and
		// retry a single time.
		c.tokens.Invalidate(sessionName)
		reply, _, err = c.chatOnce(ctx, sessionName, message, params, onDelta)
	}
	return reply, err
}

func (c *CozeClient) chatOnce(ctx context.Context, sessionName, message string, params map[string]interface{}, onDelta DeltaFunc) (*EngineReply, bool, error) {
	token, err := c.tokens.Token(sessionName)
	if err != nil {
		return nil, false, err
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	params["USER_INPUT"] = message

	payload := map[string]interface{}{
		"workflow_id":  c.workflowID,
		"app_id":       c.appID,
		"session_name": sessionName,
		"parameters":   params,
		"additional_messages": []map[string]interface{}{
			{
				"content":      message,
				"content_type": "text",
				"role":         "user",
				"type":         "question",
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("coze: marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/workflows/chat", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("coze: build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("coze: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("coze: chat request unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, false, fmt.Errorf("coze: chat endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	reply, err := parseChatStream(resp.Body, onDelta)
	return reply, false, err
}

// parseChatStream walks the SSE body line by line. Assistant message
// deltas accumulate into the reply, chat.created carries the conversation
// id, chat.failed aborts with the upstream error message.
func parseChatStream(body io.Reader, onDelta DeltaFunc) (*EngineReply, error) {
	var (
		reply   EngineReply
		event   string
		content strings.Builder
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			switch event {
			case "conversation.chat.created":
				var msg struct {
					ConversationID string `json:"conversation_id"`
				}
				if err := json.Unmarshal([]byte(data), &msg); err == nil && msg.ConversationID != "" {
					reply.ConversationID = msg.ConversationID
				}
			case "conversation.message.delta":
				var msg struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				}
				if err := json.Unmarshal([]byte(data), &msg); err != nil {
					continue
				}
				if msg.Role != "" && msg.Role != "assistant" {
					continue
				}
				if msg.Content != "" {
					content.WriteString(msg.Content)
					if onDelta != nil {
						onDelta(msg.Content)
					}
				}
			case "conversation.chat.failed":
				var msg struct {
					LastError struct {
						Code int    `json:"code"`
						Msg  string `json:"msg"`
					} `json:"last_error"`
				}
				reason := "unknown error"
				if err := json.Unmarshal([]byte(data), &msg); err == nil && msg.LastError.Msg != "" {
					reason = msg.LastError.Msg
				}
				return nil, fmt.Errorf("%w: %s", ErrUpstreamChat, reason)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("coze: read chat stream: %w", err)
	}

	reply.Content = content.String()
	if reply.Content == "" {
		return nil, fmt.Errorf("%w: empty response", ErrUpstreamChat)
	}
	return &reply, nil
}
