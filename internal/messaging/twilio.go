package messaging

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// LiveSender sends through the Twilio Messages API.
type LiveSender struct {
	api  messageAPI
	from string
	log  *zap.Logger
}

func NewLiveSender(accountSID, authToken, from string, log *zap.Logger) *LiveSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &LiveSender{api: client.Api, from: from, log: log.With(zap.String("component", "sms"))}
}

func (s *LiveSender) Mode() string { return ModeLive }

func (s *LiveSender) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		s.log.Warn("twilio send failed", zap.String("to", to), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.log.Info("sms sent", zap.String("to", to), zap.String("sid", sid))
	return sid, nil
}
