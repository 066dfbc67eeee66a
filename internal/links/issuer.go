package links

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodbank/fuelsupport/internal/logger"
	"github.com/foodbank/fuelsupport/internal/models"
)

// Issuer mints upload links for consenting clients.
type Issuer struct {
	db    *gorm.DB
	store *Store
	ttl   time.Duration
	log   *zap.Logger
}

func NewIssuer(db *gorm.DB, store *Store, ttl time.Duration, log *zap.Logger) *Issuer {
	return &Issuer{db: db, store: store, ttl: ttl, log: log.With(zap.String("component", "issuer"))}
}

// Issue creates a pending link for clientID valid for the configured TTL.
func (i *Issuer) Issue(ctx context.Context, clientID uint, purpose models.Purpose) (*models.UploadLink, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}

	var client models.Client
	err := i.db.WithContext(ctx).First(&client, clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if !client.Consent {
		return nil, ErrNoConsent
	}

	// retry a few times in case of a unique collision; with 256-bit tokens
	// this only guards against a broken random source
	for attempt := 0; attempt < 3; attempt++ {
		tok, err := NewToken()
		if err != nil {
			return nil, err
		}
		now := i.store.now()
		link := &models.UploadLink{
			Token:     tok,
			ClientID:  client.ID,
			Purpose:   purpose,
			Status:    models.LinkPending,
			ExpiresAt: now.Add(i.ttl),
		}
		link.CreatedAt = now
		if err := i.store.Create(ctx, link); err != nil {
			if isUniqueViolation(err) {
				i.log.Warn("token collision, retrying", zap.Int("attempt", attempt))
				continue
			}
			return nil, fmt.Errorf("create link: %w", err)
		}
		link.Client = client
		i.log.Info("link issued",
			zap.Uint("link_id", link.ID),
			zap.Uint("client_id", client.ID),
			zap.String("purpose", string(purpose)),
			logger.Token(tok),
			zap.Time("expires_at", link.ExpiresAt))
		return link, nil
	}
	return nil, errors.New("unable to generate a unique upload token")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	le := strings.ToLower(err.Error())
	return strings.Contains(le, "unique") || strings.Contains(le, "duplicate key")
}
