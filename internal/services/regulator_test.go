package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

func testRegulatorConfig() RegulatorConfig {
	return RegulatorConfig{
		Keywords:        []string{"human", "live agent", "complaint"},
		FailKeywords:    []string{"sorry", "unable to answer", "i don't know"},
		FailThreshold:   3,
		VIPAutoEscalate: true,
	}
}

func TestRegulatorNoMatch(t *testing.T) {
	r := NewRegulator(testRegulatorConfig())
	s := models.NewSession("s1", "")

	result := r.Evaluate(s, RegulatorInput{UserMessage: "how long does shipping take?"})
	assert.False(t, result.ShouldEscalate)
	assert.Equal(t, "no regulation rule matched", result.Details)
}

func TestRegulatorKeywordMatch(t *testing.T) {
	r := NewRegulator(testRegulatorConfig())
	s := models.NewSession("s1", "")

	result := r.Evaluate(s, RegulatorInput{UserMessage: "I want to talk to a HUMAN right now"})
	require.True(t, result.ShouldEscalate)
	assert.Equal(t, models.ReasonKeyword, result.Reason)
	assert.Equal(t, models.SeverityHigh, result.Severity)
	assert.Contains(t, result.Details, "human")
}

func TestRegulatorVIPBeatsKeyword(t *testing.T) {
	r := NewRegulator(testRegulatorConfig())
	s := models.NewSession("s1", "")
	s.Profile.VIP = true

	result := r.Evaluate(s, RegulatorInput{UserMessage: "I have a complaint"})
	require.True(t, result.ShouldEscalate)
	assert.Equal(t, models.ReasonVIP, result.Reason, "vip rule fires before keyword")
}

func TestRegulatorVIPParameterOverride(t *testing.T) {
	r := NewRegulator(testRegulatorConfig())
	s := models.NewSession("s1", "")

	result := r.Evaluate(s, RegulatorInput{
		UserMessage: "hello",
		Parameters:  map[string]interface{}{"vip": true},
	})
	require.True(t, result.ShouldEscalate)
	assert.Equal(t, models.ReasonVIP, result.Reason)
}

func TestRegulatorVIPDisabled(t *testing.T) {
	cfg := testRegulatorConfig()
	cfg.VIPAutoEscalate = false
	r := NewRegulator(cfg)
	s := models.NewSession("s1", "")
	s.Profile.VIP = true

	result := r.Evaluate(s, RegulatorInput{UserMessage: "hello"})
	assert.False(t, result.ShouldEscalate)
}

func TestRegulatorFailLoop(t *testing.T) {
	r := NewRegulator(testRegulatorConfig())
	s := models.NewSession("s1", "")

	// Two failing responses are not enough.
	r.UpdateFailCount(s, "Sorry, I am unable to answer that")
	r.UpdateFailCount(s, "I don't know about this one")
	result := r.Evaluate(s, RegulatorInput{UserMessage: "ok", AIResponse: "I don't know"})
	assert.False(t, result.ShouldEscalate)

	// The third consecutive failure crosses the threshold.
	r.UpdateFailCount(s, "Sorry, still no idea")
	result = r.Evaluate(s, RegulatorInput{UserMessage: "ok", AIResponse: "Sorry, still no idea"})
	require.True(t, result.ShouldEscalate)
	assert.Equal(t, models.ReasonFailLoop, result.Reason)
	assert.Equal(t, models.SeverityLow, result.Severity)
}

func TestRegulatorFailCountResets(t *testing.T) {
	r := NewRegulator(testRegulatorConfig())
	s := models.NewSession("s1", "")

	assert.Equal(t, 1, r.UpdateFailCount(s, "sorry, no idea"))
	assert.Equal(t, 2, r.UpdateFailCount(s, "I don't know"))
	assert.Equal(t, 0, r.UpdateFailCount(s, "Your battery charges in four hours."))
	assert.Equal(t, 1, r.UpdateFailCount(s, "sorry again"))
}

func TestResponseFailedIsCaseInsensitive(t *testing.T) {
	r := NewRegulator(testRegulatorConfig())
	assert.True(t, r.ResponseFailed("SORRY, I cannot help"))
	assert.False(t, r.ResponseFailed("Here is your answer."))
}

func TestRegulatorConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("REGULATOR_KEYWORDS", "")
	t.Setenv("REGULATOR_FAIL_THRESHOLD", "")
	cfg := RegulatorConfigFromEnv()
	assert.Equal(t, 3, cfg.FailThreshold)
	assert.True(t, cfg.VIPAutoEscalate)
	assert.Contains(t, cfg.Keywords, "human")
}

func TestRegulatorConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("REGULATOR_KEYWORDS", "agent, manager")
	t.Setenv("REGULATOR_FAIL_THRESHOLD", "5")
	t.Setenv("REGULATOR_VIP_AUTO_ESCALATE", "false")

	cfg := RegulatorConfigFromEnv()
	assert.Equal(t, []string{"agent", "manager"}, cfg.Keywords)
	assert.Equal(t, 5, cfg.FailThreshold)
	assert.False(t, cfg.VIPAutoEscalate)
}
