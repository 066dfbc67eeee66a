package links

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/foodbank/fuelsupport/internal/models"
)

// Store persists upload links. Every status change is a conditional UPDATE so
// concurrent requests cannot both win; nothing is cached between calls.
type Store struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, Now: time.Now}
}

func (s *Store) now() time.Time { return s.Now().UTC() }

// IsExpired reports whether link can no longer be redeemed because of time
// or a stored expiry.
func (s *Store) IsExpired(link *models.UploadLink) bool {
	return link.ExpiredAt(s.now())
}

func (s *Store) Create(ctx context.Context, link *models.UploadLink) error {
	return s.db.WithContext(ctx).Create(link).Error
}

// Resolve looks a token up without judging it.
func (s *Store) Resolve(ctx context.Context, token string) (*models.UploadLink, error) {
	if !WellFormed(token) {
		return nil, ErrInvalidToken
	}
	var link models.UploadLink
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("resolve link: %w", err)
	}
	return &link, nil
}

// Redeemable resolves token and checks that it can still accept an upload.
func (s *Store) Redeemable(ctx context.Context, token string) (*models.UploadLink, error) {
	link, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.usable(link); err != nil {
		return link, err
	}
	return link, nil
}

func (s *Store) usable(link *models.UploadLink) error {
	switch {
	case link.Status == models.LinkConsumed:
		return ErrAlreadyConsumed
	case s.IsExpired(link):
		return ErrExpiredToken
	case link.Status != models.LinkPending:
		return ErrInvalidToken
	}
	return nil
}

// MarkConsumed flips token from pending to consumed. Exactly one caller
// succeeds; the rest get the reason the link is unusable.
func (s *Store) MarkConsumed(ctx context.Context, token string) error {
	return s.MarkConsumedTx(s.db.WithContext(ctx), token)
}

// MarkConsumedTx is MarkConsumed inside an existing transaction.
func (s *Store) MarkConsumedTx(tx *gorm.DB, token string) error {
	now := s.now()
	res := tx.Model(&models.UploadLink{}).
		Where("token = ? AND status = ? AND expires_at >= ?", token, models.LinkPending, now).
		Updates(map[string]any{"status": models.LinkConsumed, "consumed_at": now})
	if res.Error != nil {
		return fmt.Errorf("consume link: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var link models.UploadLink
	err := tx.Where("token = ?", token).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("consume link: %w", err)
	}
	if err := s.usable(&link); err != nil {
		return err
	}
	// pending and in date, yet the update missed: someone else got there first
	return ErrAlreadyConsumed
}

// Revoke expires a pending link now. Used when staff replace a link.
func (s *Store) Revoke(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.UploadLink{}).
		Where("id = ? AND status = ?", id, models.LinkPending).
		Update("status", models.LinkExpired)
	if res.Error != nil {
		return fmt.Errorf("revoke link: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLinkNotPending
	}
	return nil
}

// ExpireStale persists the expired status for pending links past their
// expiry. Redemption does not depend on it; it keeps staff views honest.
func (s *Store) ExpireStale(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.UploadLink{}).
		Where("status = ? AND expires_at < ?", models.LinkPending, s.now()).
		Update("status", models.LinkExpired)
	return res.RowsAffected, res.Error
}

// Get loads a link by id together with its client.
func (s *Store) Get(ctx context.Context, id uint) (*models.UploadLink, error) {
	var link models.UploadLink
	err := s.db.WithContext(ctx).Preload("Client").First(&link, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// Pending lists links that can still be redeemed, soonest expiry first.
func (s *Store) Pending(ctx context.Context) ([]models.UploadLink, error) {
	var out []models.UploadLink
	err := s.db.WithContext(ctx).
		Preload("Client").
		Where("status = ? AND expires_at >= ?", models.LinkPending, s.now()).
		Order("expires_at asc, id asc").
		Find(&out).Error
	return out, err
}

// RecordDelivery stores the outcome of one SMS attempt for a link.
func (s *Store) RecordDelivery(ctx context.Context, id uint, sid string, sendErr error) error {
	now := s.now()
	upd := map[string]any{"send_attempts": gorm.Expr("send_attempts + 1")}
	if sendErr == nil {
		upd["sms_sent"] = true
		upd["sms_sent_at"] = now
		upd["sms_sid"] = sid
		upd["delivery_failed"] = false
	} else {
		upd["delivery_failed"] = true
	}
	return s.db.WithContext(ctx).Model(&models.UploadLink{}).Where("id = ?", id).Updates(upd).Error
}
