// Package msg sends operator alerts over SMS when WhatsApp delivery fails.
package msg

import (
	"errors"
	"fmt"

	"github.com/kevinburke/twilio-go"

	"companion/internal/config"
)

// Twilio sends alert messages through the Twilio SMS API.
type Twilio struct {
	client  *twilio.Client
	smsFrom string
	alertTo string
}

// NewTwilio creates a Twilio notifier from configuration. Returns nil when
// the channel is disabled or not configured.
func NewTwilio(cfg config.NotifyConfig) *Twilio {
	if !cfg.Enabled || cfg.TwilioSID == "" {
		return nil
	}
	return &Twilio{
		client:  twilio.NewClient(cfg.TwilioSID, cfg.TwilioAuth, nil),
		smsFrom: cfg.SMSFrom,
		alertTo: cfg.AlertTo,
	}
}

// Alert sends the message to the configured operator number.
func (m *Twilio) Alert(message string) error {
	if m == nil || m.client == nil {
		return errors.New("twilio not set up")
	}

	ret, err := m.client.Messages.SendMessage(m.smsFrom, m.alertTo, message, nil)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	if ret.ErrorCode != 0 {
		return errors.New(ret.ErrorMessage)
	}
	return nil
}
