package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodbank/fuelsupport/internal/config"
	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/logger"
	"github.com/foodbank/fuelsupport/internal/messaging"
	"github.com/foodbank/fuelsupport/internal/models"
)

// Summary counts the outcome of a batch send.
type Summary struct {
	Sent   int
	Failed int
}

// Dispatcher issues links and texts them to clients.
type Dispatcher struct {
	db     *gorm.DB
	issuer *links.Issuer
	store  *links.Store
	sender messaging.MessageSender
	cfg    config.Config
	log    *zap.Logger
}

func NewDispatcher(db *gorm.DB, issuer *links.Issuer, store *links.Store, sender messaging.MessageSender, cfg config.Config, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		issuer: issuer,
		store:  store,
		sender: sender,
		cfg:    cfg,
		log:    log.With(zap.String("component", "dispatch")),
	}
}

// SendRequests issues one link per client and texts it. Missing and
// non-consenting clients count as failed; so does a gateway error, but the
// link it was meant for stays pending and can be resent.
func (d *Dispatcher) SendRequests(ctx context.Context, clientIDs []uint, purpose models.Purpose) (Summary, error) {
	var sum Summary
	if !purpose.Valid() {
		return sum, fmt.Errorf("%w: %q", links.ErrUnknownPurpose, purpose)
	}
	for _, id := range clientIDs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		link, err := d.issuer.Issue(ctx, id, purpose)
		if err != nil {
			d.log.Warn("skip client", zap.Uint("client_id", id), zap.Error(err))
			sum.Failed++
			continue
		}
		if err := d.deliver(ctx, link); err != nil {
			sum.Failed++
			continue
		}
		sum.Sent++
	}
	d.log.Info("requests dispatched",
		zap.String("purpose", string(purpose)),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// Resend texts a link again. With the reuse policy the same link is sent and
// must still be pending; with the new policy the old link is revoked and a
// replacement is issued. The returned link is the one that was sent.
func (d *Dispatcher) Resend(ctx context.Context, linkID uint) (*models.UploadLink, error) {
	link, err := d.store.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}

	switch d.cfg.ResendPolicy {
	case config.ResendNew:
		if link.Status == models.LinkConsumed {
			return nil, links.ErrLinkNotPending
		}
		// revoking an already stale link is fine, it is being replaced anyway
		if err := d.store.Revoke(ctx, link.ID); err != nil && !errors.Is(err, links.ErrLinkNotPending) {
			return nil, err
		}
		fresh, err := d.issuer.Issue(ctx, link.ClientID, link.Purpose)
		if err != nil {
			return nil, err
		}
		d.log.Info("link replaced", zap.Uint("old_link_id", link.ID), zap.Uint("link_id", fresh.ID))
		link = fresh
	default:
		if link.EffectiveStatus(d.store.Now().UTC()) != models.LinkPending {
			return nil, links.ErrLinkNotPending
		}
	}

	if err := d.deliver(ctx, link); err != nil {
		return link, err
	}
	return link, nil
}

// deliver renders and sends the SMS for link and records the attempt on both
// the link and the SMS log.
func (d *Dispatcher) deliver(ctx context.Context, link *models.UploadLink) error {
	client := link.Client
	body, err := messaging.RenderUploadRequest(messaging.UploadRequest{
		Name:      client.Name,
		FoodBank:  d.cfg.FoodBankName,
		Purpose:   link.Purpose,
		URL:       d.cfg.UploadURL(link.Token),
		ExpiresIn: link.ExpiresAt.Sub(d.store.Now()),
		Phone:     d.cfg.FoodBankPhone,
	})
	if err != nil {
		return err
	}

	sid, sendErr := d.sender.Send(ctx, client.PhoneNumber, body)

	linkID := link.ID
	entry := models.SMSLog{
		ClientID:     client.ID,
		UploadLinkID: &linkID,
		PhoneNumber:  client.PhoneNumber,
		Body:         body,
		Status:       "sent",
		ProviderSID:  sid,
	}
	if sendErr != nil {
		entry.Status = "failed"
		entry.Error = sendErr.Error()
	} else {
		now := time.Now().UTC()
		entry.SentAt = &now
	}
	if err := d.db.WithContext(ctx).Create(&entry).Error; err != nil {
		d.log.Error("record sms log", zap.Error(err))
	}
	if err := d.store.RecordDelivery(ctx, link.ID, sid, sendErr); err != nil {
		d.log.Error("record delivery", zap.Uint("link_id", link.ID), zap.Error(err))
	}

	if sendErr != nil {
		d.log.Warn("sms failed",
			zap.Uint("link_id", link.ID),
			zap.Uint("client_id", client.ID),
			logger.Token(link.Token),
			zap.Error(sendErr))
		return sendErr
	}
	d.log.Info("sms sent",
		zap.Uint("link_id", link.ID),
		zap.Uint("client_id", client.ID),
		zap.String("mode", d.sender.Mode()),
		zap.String("sid", sid))
	return nil
}
