package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodbank/fuelsupport/internal/models"
	"github.com/foodbank/fuelsupport/internal/storage"
)

var (
	ErrNameRequired  = errors.New("name is required")
	ErrInvalidPhone  = errors.New("phone number is not valid")
	ErrNotFound      = errors.New("client not found")
	ErrUnknownAction = errors.New("unknown bulk action")
)

// DuplicatePhoneError is returned when another client already uses the number.
type DuplicatePhoneError struct {
	Phone    string
	Existing string
}

func (e *DuplicatePhoneError) Error() string {
	return fmt.Sprintf("phone %s already belongs to %s", e.Phone, e.Existing)
}

// ClientInput is what the add, quick-add and edit forms submit.
type ClientInput struct {
	Name           string
	Phone          string
	HasCameraPhone bool
	Consent        bool
}

// Bulk actions on a selection of clients.
const (
	BulkDelete       = "delete"
	BulkGrantConsent = "grant_consent"
	BulkSetCamera    = "set_camera"
)

type Clients struct {
	db          *gorm.DB
	files       storage.Store
	countryCode string
	log         *zap.Logger
	Now         func() time.Time
}

func NewClients(db *gorm.DB, files storage.Store, countryCode string, log *zap.Logger) *Clients {
	return &Clients{
		db:          db,
		files:       files,
		countryCode: countryCode,
		log:         log.With(zap.String("component", "clients")),
		Now:         time.Now,
	}
}

func (s *Clients) now() time.Time { return s.Now().UTC() }

func (s *Clients) normalise(in ClientInput) (ClientInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, ErrNameRequired
	}
	phone := NormPhone(in.Phone, s.countryCode)
	if phone == "" {
		return in, ErrInvalidPhone
	}
	in.Phone = phone
	return in, nil
}

// checkDuplicate fails if phone belongs to a client other than self.
func (s *Clients) checkDuplicate(tx *gorm.DB, phone string, self uint) error {
	var other models.Client
	err := tx.Where("phone_number = ?", phone).First(&other).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if other.ID == self {
		return nil
	}
	return &DuplicatePhoneError{Phone: phone, Existing: other.Name}
}

func (s *Clients) Create(ctx context.Context, in ClientInput) (*models.Client, error) {
	in, err := s.normalise(in)
	if err != nil {
		return nil, err
	}
	c := &models.Client{Name: in.Name, PhoneNumber: in.Phone, HasCameraPhone: in.HasCameraPhone, Consent: in.Consent}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkDuplicate(tx, in.Phone, 0); err != nil {
			return err
		}
		return tx.Create(c).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("client created", zap.Uint("client_id", c.ID))
	return c, nil
}

func (s *Clients) Update(ctx context.Context, id uint, in ClientInput) (*models.Client, error) {
	in, err := s.normalise(in)
	if err != nil {
		return nil, err
	}
	var c models.Client
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			return err
		}
		if err := s.checkDuplicate(tx, in.Phone, id); err != nil {
			return err
		}
		c.Name = in.Name
		c.PhoneNumber = in.Phone
		c.HasCameraPhone = in.HasCameraPhone
		c.Consent = in.Consent
		return tx.Save(&c).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Clients) Get(ctx context.Context, id uint) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &c, err
}

// Search matches the name case-insensitively or the phone ignoring
// separators. An empty query lists everyone, newest first.
func (s *Clients) Search(ctx context.Context, query string) ([]models.Client, error) {
	q := s.db.WithContext(ctx).Order("created_at desc, id desc")
	query = strings.TrimSpace(query)
	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		cond := s.db.Where("LOWER(name) LIKE ?", like).Or("phone_number LIKE ?", "%"+query+"%")
		if d := digitsOnly(query); d != "" {
			cond = cond.Or("REPLACE(phone_number, '+', '') LIKE ?", "%"+d+"%")
			// national form: 07700... should find +447700...
			if strings.HasPrefix(d, "0") && len(d) > 1 {
				cond = cond.Or("phone_number LIKE ?", "%"+s.countryCode+d[1:]+"%")
			}
		}
		q = q.Where(cond)
	}
	var out []models.Client
	return out, q.Find(&out).Error
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Delete removes a client with their links, SMS history, documents and the
// stored files.
func (s *Clients) Delete(ctx context.Context, id uint) error {
	var keys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Client
		if err := tx.First(&c, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.UploadedDocument{}).Where("client_id = ?", id).Pluck("storage_path", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("client_id = ?", id).Delete(&models.UploadedDocument{}).Error; err != nil {
			return err
		}
		if err := tx.Where("client_id = ?", id).Delete(&models.SMSLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("client_id = ?", id).Delete(&models.UploadLink{}).Error; err != nil {
			return err
		}
		return tx.Delete(&c).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	for _, k := range keys {
		if err := s.files.Delete(ctx, k); err != nil {
			s.log.Warn("delete stored file", zap.String("key", k), zap.Error(err))
		}
	}
	s.log.Info("client deleted", zap.Uint("client_id", id), zap.Int("files", len(keys)))
	return nil
}

// Bulk applies action to ids and returns how many clients it touched. flag
// is the new value for set_camera.
func (s *Clients) Bulk(ctx context.Context, action string, ids []uint, flag bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	switch action {
	case BulkDelete:
		n := 0
		for _, id := range ids {
			err := s.Delete(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	case BulkGrantConsent:
		res := s.db.WithContext(ctx).Model(&models.Client{}).Where("id IN ?", ids).Update("consent", true)
		return int(res.RowsAffected), res.Error
	case BulkSetCamera:
		res := s.db.WithContext(ctx).Model(&models.Client{}).Where("id IN ?", ids).Update("has_camera_phone", flag)
		return int(res.RowsAffected), res.Error
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

type ClientDetails struct {
	Client    models.Client
	Links     []models.UploadLink
	RecentSMS []models.SMSLog

	Total     int
	Completed int
	Pending   int
	Expired   int
}

// Details loads a client with their requests (newest first, documents
// included) and the last five messages.
func (s *Clients) Details(ctx context.Context, id uint) (*ClientDetails, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &ClientDetails{Client: *c}
	err = s.db.WithContext(ctx).Preload("Documents").
		Where("client_id = ?", id).Order("created_at desc, id desc").Find(&d.Links).Error
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Where("client_id = ?", id).
		Order("created_at desc, id desc").Limit(5).Find(&d.RecentSMS).Error
	if err != nil {
		return nil, err
	}

	now := s.now()
	d.Total = len(d.Links)
	for _, l := range d.Links {
		switch l.EffectiveStatus(now) {
		case models.LinkConsumed:
			d.Completed++
		case models.LinkPending:
			d.Pending++
		case models.LinkExpired:
			d.Expired++
		}
	}
	return d, nil
}

// PurgeRetention deletes clients created more than days ago who have no link
// still open. days <= 0 disables it.
func (s *Clients) PurgeRetention(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	now := s.now()
	cutoff := now.AddDate(0, 0, -days)

	open := s.db.Model(&models.UploadLink{}).Select("client_id").
		Where("status = ? AND expires_at >= ?", models.LinkPending, now)
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Client{}).
		Where("created_at < ?", cutoff).
		Where("id NOT IN (?)", open).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("retention candidates: %w", err)
	}
	n, err := s.Bulk(ctx, BulkDelete, ids, false)
	if err != nil {
		return n, err
	}
	s.log.Info("retention purge", zap.Int("days", days), zap.Int("deleted", n))
	return n, nil
}
