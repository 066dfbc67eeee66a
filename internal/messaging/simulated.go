package messaging

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SimulatedSender logs messages instead of sending them.
type SimulatedSender struct {
	log *zap.Logger
}

func NewSimulatedSender(log *zap.Logger) *SimulatedSender {
	return &SimulatedSender{log: log.With(zap.String("component", "sms"))}
}

func (s *SimulatedSender) Mode() string { return ModeSimulated }

func (s *SimulatedSender) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sid := "sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	s.log.Info("sms simulated",
		zap.String("to", to),
		zap.String("sid", sid),
		zap.Int("chars", len(body)))
	s.log.Debug("sms body", zap.String("body", body))
	return sid, nil
}
