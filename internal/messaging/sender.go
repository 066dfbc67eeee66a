package messaging

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/config"
)

// ErrGatewayUnavailable wraps every failure to hand a message to the SMS
// provider. It is recoverable: the caller keeps its state and may resend.
var ErrGatewayUnavailable = errors.New("sms gateway unavailable")

const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// MessageSender delivers one text message and returns the provider id.
type MessageSender interface {
	Send(ctx context.Context, to, body string) (sid string, err error)
	Mode() string
}

// FromConfig picks the live sender only when SMS_SIMULATE is off and the
// Twilio credentials look real; anything else falls back to simulation.
func FromConfig(cfg config.Config, log *zap.Logger) MessageSender {
	if !cfg.SimulateSMS && LiveCredentials(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber) {
		log.Info("sms mode: live", zap.String("from", cfg.TwilioPhoneNumber))
		return NewLiveSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, log)
	}
	log.Info("sms mode: simulated")
	return NewSimulatedSender(log)
}

// LiveCredentials rejects empty values and the placeholders shipped in
// example env files.
func LiveCredentials(sid, token, from string) bool {
	if sid == "" || token == "" || from == "" {
		return false
	}
	if !strings.HasPrefix(sid, "AC") || len(token) < 20 || !strings.HasPrefix(from, "+") {
		return false
	}
	lower := strings.ToLower(sid)
	return !strings.Contains(lower, "your_") && !strings.Contains(lower, "placeholder")
}
