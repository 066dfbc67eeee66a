package messaging

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/models"
)

// Notifier is told when a client finishes an upload. Implementations must not
// block the upload on delivery problems.
type Notifier interface {
	DocumentsReceived(ctx context.Context, client models.Client, link models.UploadLink, docs []models.UploadedDocument)
}

// SMSNotifier texts staff through the same sender used for clients. With no
// number configured it only logs.
type SMSNotifier struct {
	sender  MessageSender
	to      string
	baseURL string
	log     *zap.Logger
}

func NewSMSNotifier(sender MessageSender, to, baseURL string, log *zap.Logger) *SMSNotifier {
	return &SMSNotifier{sender: sender, to: to, baseURL: baseURL, log: log.With(zap.String("component", "notify"))}
}

func (n *SMSNotifier) DocumentsReceived(ctx context.Context, client models.Client, link models.UploadLink, docs []models.UploadedDocument) {
	n.log.Info("documents received",
		zap.Uint("client_id", client.ID),
		zap.Uint("link_id", link.ID),
		zap.Int("files", len(docs)))
	if n.to == "" {
		return
	}
	body := renderReceived(client, link, len(docs), fmt.Sprintf("%s/admin/clients/%d", n.baseURL, client.ID))
	if _, err := n.sender.Send(ctx, n.to, body); err != nil {
		n.log.Warn("staff notification failed", zap.Error(err))
	}
}
