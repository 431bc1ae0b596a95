package services

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// EscalationResult is the regulation engine's verdict for one exchange.
type EscalationResult struct {
	ShouldEscalate bool                    `json:"should_escalate"`
	Reason         models.EscalationReason `json:"reason,omitempty"`
	Severity       models.Severity         `json:"severity,omitempty"`
	Details        string                  `json:"details"`
}

// RegulatorInput carries the per-request material the rules inspect.
type RegulatorInput struct {
	UserMessage string
	AIResponse  string
	// Parameters may carry a request-supplied vip override.
	Parameters map[string]interface{}
}

// RegulatorConfig holds the rule tunables, loaded from the environment.
type RegulatorConfig struct {
	Keywords        []string
	FailKeywords    []string
	FailThreshold   int
	VIPAutoEscalate bool
}

// RegulatorConfigFromEnv reads REGULATOR_* variables with sane defaults.
func RegulatorConfigFromEnv() RegulatorConfig {
	cfg := RegulatorConfig{
		Keywords:        splitList(getEnv("REGULATOR_KEYWORDS", "human,live agent,real person,customer service,complaint,transfer to human")),
		FailKeywords:    splitList(getEnv("REGULATOR_AI_FAIL_KEYWORDS", "sorry,unable to answer,cannot answer,not sure,i don't know")),
		FailThreshold:   3,
		VIPAutoEscalate: getEnv("REGULATOR_VIP_AUTO_ESCALATE", "true") == "true",
	}
	if n, err := strconv.Atoi(os.Getenv("REGULATOR_FAIL_THRESHOLD")); err == nil && n > 0 {
		cfg.FailThreshold = n
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// rule is one predicate in the ordered table. A nil result means "no match,
// try the next rule".
type rule struct {
	name  string
	check func(*models.Session, RegulatorInput) *EscalationResult
}

// Regulator decides when a bot-served session must escalate to a human.
// It is stateless over the session passed in and never mutates it; the
// caller applies the returned decision.
type Regulator struct {
	cfg   RegulatorConfig
	rules []rule
}

// NewRegulator builds the engine with its rule table in strict priority
// order: vip, then keyword, then fail loop. First match wins.
func NewRegulator(cfg RegulatorConfig) *Regulator {
	r := &Regulator{cfg: cfg}
	r.rules = []rule{
		{name: "vip", check: r.checkVIP},
		{name: "keyword", check: r.checkKeyword},
		{name: "fail_loop", check: r.checkFailLoop},
	}
	return r
}

// Evaluate walks the rule table and returns the first match, or a
// no-escalation result with a diagnostic note.
func (r *Regulator) Evaluate(s *models.Session, in RegulatorInput) EscalationResult {
	for _, rl := range r.rules {
		if res := rl.check(s, in); res != nil {
			return *res
		}
	}
	return EscalationResult{
		ShouldEscalate: false,
		Details:        "no regulation rule matched",
	}
}

func (r *Regulator) checkVIP(s *models.Session, in RegulatorInput) *EscalationResult {
	if !r.cfg.VIPAutoEscalate {
		return nil
	}
	vip := s.Profile.VIP
	if v, ok := in.Parameters["vip"].(bool); ok && v {
		vip = true
	}
	if !vip {
		return nil
	}
	return &EscalationResult{
		ShouldEscalate: true,
		Reason:         models.ReasonVIP,
		Severity:       models.SeverityHigh,
		Details:        "vip customer, auto escalation",
	}
}

func (r *Regulator) checkKeyword(_ *models.Session, in RegulatorInput) *EscalationResult {
	if in.UserMessage == "" {
		return nil
	}
	msg := strings.ToLower(in.UserMessage)
	var matched []string
	for _, kw := range r.cfg.Keywords {
		if strings.Contains(msg, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return &EscalationResult{
		ShouldEscalate: true,
		Reason:         models.ReasonKeyword,
		Severity:       models.SeverityHigh,
		Details:        "matched keywords: " + strings.Join(matched, ", "),
	}
}

// checkFailLoop reads the counter maintained by UpdateFailCount; callers
// apply UpdateFailCount for the current response before evaluating.
func (r *Regulator) checkFailLoop(s *models.Session, _ RegulatorInput) *EscalationResult {
	count := s.AIFailCount
	if count < r.cfg.FailThreshold {
		return nil
	}
	return &EscalationResult{
		ShouldEscalate: true,
		Reason:         models.ReasonFailLoop,
		Severity:       models.SeverityLow,
		Details:        fmt.Sprintf("ai failed %d consecutive times (threshold %d)", count, r.cfg.FailThreshold),
	}
}

// ResponseFailed classifies an AI response against the failure phrases
// (case-insensitive substring match).
func (r *Regulator) ResponseFailed(response string) bool {
	resp := strings.ToLower(response)
	for _, kw := range r.cfg.FailKeywords {
		if strings.Contains(resp, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// UpdateFailCount maintains the consecutive-failure counter on the session:
// a failed response increments it, any other response resets it to zero.
// Returns the new count. The caller persists the session.
func (r *Regulator) UpdateFailCount(s *models.Session, response string) int {
	if r.ResponseFailed(response) {
		s.AIFailCount++
	} else {
		s.AIFailCount = 0
	}
	return s.AIFailCount
}
