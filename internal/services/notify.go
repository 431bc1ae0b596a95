package services

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// AlertService pings the on-call support channel over Twilio SMS when an
// escalation lands with nobody reachable to take it. A nil receiver is
// valid and drops everything, so the orchestrator never has to branch on
// whether alerts are configured.
type AlertService struct {
	client *twilio.RestClient
	from   string
	to     []string
}

// NewAlertServiceFromEnv builds the service from TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN, TWILIO_ALERT_FROM and TWILIO_ALERT_TO (comma-separated
// recipients).
func NewAlertServiceFromEnv() (*AlertService, error) {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_ALERT_FROM")
	to := splitList(os.Getenv("TWILIO_ALERT_TO"))

	if accountSid == "" || authToken == "" || from == "" || len(to) == 0 {
		return nil, fmt.Errorf("missing Twilio alert credentials in environment variables")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &AlertService{client: client, from: from, to: to}, nil
}

// SendEscalationAlert notifies every recipient about a waiting session.
// Delivery runs in the background, failures are logged and not returned.
func (a *AlertService) SendEscalationAlert(s *models.Session) {
	if a == nil || s.Escalation == nil {
		return
	}

	body := fmt.Sprintf("[Fiido support] Session %s escalated (%s, %s severity): %s",
		s.SessionName, s.Escalation.Reason, s.Escalation.Severity, s.Escalation.Details)
	if s.Profile.VIP {
		body = "[VIP] " + body
	}

	go func() {
		for _, recipient := range a.to {
			params := &twilioApi.CreateMessageParams{}
			params.SetFrom(a.from)
			params.SetTo(recipient)
			params.SetBody(body)

			resp, err := a.client.Api.CreateMessage(params)
			if err != nil {
				log.Printf("❌ Failed to send escalation alert to %s: %v", recipient, err)
				continue
			}
			if resp.Sid != nil {
				log.Printf("✅ Escalation alert sent for %s (SID: %s)", s.SessionName, strings.TrimSpace(*resp.Sid))
			}
		}
	}()
}
