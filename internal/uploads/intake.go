package uploads

import (
	"context"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/logger"
	"github.com/foodbank/fuelsupport/internal/messaging"
	"github.com/foodbank/fuelsupport/internal/models"
	"github.com/foodbank/fuelsupport/internal/storage"
)

type Limits struct {
	MaxFileBytes    int64
	MaxRequestBytes int64
	MaxStorageBytes int64
}

// Intake redeems upload links: it checks the link and the files, stores the
// files and consumes the link together with the document rows.
type Intake struct {
	db       *gorm.DB
	links    *links.Store
	files    storage.Store
	notifier messaging.Notifier
	limits   Limits
	log      *zap.Logger
}

func NewIntake(db *gorm.DB, store *links.Store, files storage.Store, notifier messaging.Notifier, limits Limits, log *zap.Logger) *Intake {
	return &Intake{
		db:       db,
		links:    store,
		files:    files,
		notifier: notifier,
		limits:   limits,
		log:      log.With(zap.String("component", "uploads")),
	}
}

func (in *Intake) Limits() Limits { return in.limits }

// Lookup returns the link behind token if it can still take an upload.
func (in *Intake) Lookup(ctx context.Context, token string) (*models.UploadLink, error) {
	link, err := in.links.Redeemable(ctx, token)
	if err != nil {
		in.log.Info("upload link refused", logger.Token(token), zap.Error(err))
		return nil, err
	}
	return link, nil
}

// Receive stores one file per slot of the link and consumes it. On any error
// nothing is recorded and staged files are removed; the link is only
// consumed when every file made it.
func (in *Intake) Receive(ctx context.Context, token string, files map[models.Purpose]*multipart.FileHeader) ([]models.UploadedDocument, error) {
	link, err := in.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	type checked struct {
		slot        models.Purpose
		fh          *multipart.FileHeader
		contentType string
		ext         string
	}
	slots := link.Purpose.Slots()
	var (
		batch    []checked
		incoming int64
	)
	for _, slot := range slots {
		fh, ok := files[slot]
		if !ok {
			return nil, reject(ReasonMissingFile, "%s", slot.Label())
		}
		ct, ext, err := inspect(fh, in.limits.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		incoming += fh.Size
		batch = append(batch, checked{slot: slot, fh: fh, contentType: ct, ext: ext})
	}
	if incoming > in.limits.MaxRequestBytes {
		return nil, reject(ReasonTooLarge, "files exceed %d bytes", in.limits.MaxRequestBytes)
	}
	if err := in.checkQuota(in.db.WithContext(ctx), incoming); err != nil {
		return nil, err
	}

	// stage under a per-attempt name so racing posts never touch each other's files
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	var docs []models.UploadedDocument
	cleanup := func() {
		bg := context.WithoutCancel(ctx)
		for _, d := range docs {
			if err := in.files.Delete(bg, d.StoragePath); err != nil {
				in.log.Warn("remove staged file", zap.String("key", d.StoragePath), zap.Error(err))
			}
		}
	}
	received := time.Now().UTC()
	for _, c := range batch {
		key := storage.DocumentKey(token, string(c.slot)+"-"+nonce, c.ext)
		f, err := c.fh.Open()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open upload: %w", err)
		}
		n, err := in.files.Save(ctx, key, c.contentType, f)
		f.Close()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("store %s: %w", c.slot, err)
		}
		docs = append(docs, models.UploadedDocument{
			ReceivedAt:       received,
			UploadLinkID:     link.ID,
			ClientID:         link.ClientID,
			Purpose:          c.slot,
			StoragePath:      key,
			OriginalFilename: c.fh.Filename,
			ContentType:      c.contentType,
			SizeBytes:        n,
		})
	}

	err = in.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := in.links.MarkConsumedTx(tx, token); err != nil {
			return err
		}
		// other links may have committed files since the first check
		if err := lockQuota(tx); err != nil {
			return err
		}
		if err := in.checkQuota(tx, incoming); err != nil {
			return err
		}
		return tx.Create(&docs).Error
	})
	if err != nil {
		cleanup()
		in.log.Info("upload not recorded", logger.Token(token), zap.Uint("link_id", link.ID), zap.Error(err))
		return nil, err
	}

	in.log.Info("upload received",
		logger.Token(token),
		zap.Uint("link_id", link.ID),
		zap.Uint("client_id", link.ClientID),
		zap.Int("files", len(docs)),
		zap.Int64("bytes", incoming))

	var client models.Client
	if err := in.db.WithContext(ctx).First(&client, link.ClientID).Error; err != nil {
		in.log.Warn("load client for notification", zap.Error(err))
		return docs, nil
	}
	link.Status = models.LinkConsumed
	in.notifier.DocumentsReceived(ctx, client, *link, docs)
	return docs, nil
}

// quotaLockKey names the transaction-scoped advisory lock that serialises the
// storage check and the document insert on Postgres. SQLite runs one writer
// on one connection, so the transaction alone is enough there.
const quotaLockKey = 0x66756e64

func lockQuota(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", quotaLockKey).Error; err != nil {
		return fmt.Errorf("lock storage quota: %w", err)
	}
	return nil
}

func (in *Intake) checkQuota(db *gorm.DB, incoming int64) error {
	var used int64
	err := db.Model(&models.UploadedDocument{}).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&used).Error
	if err != nil {
		return fmt.Errorf("storage usage: %w", err)
	}
	if used+incoming > in.limits.MaxStorageBytes {
		in.log.Warn("storage cap reached", zap.Int64("used", used), zap.Int64("incoming", incoming))
		return reject(ReasonStorageFull, "storage limit reached")
	}
	return nil
}
