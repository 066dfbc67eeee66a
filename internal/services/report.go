package services

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/foodbank/fuelsupport/internal/models"
)

// Stats are the totals shown on the dashboard and the report page.
type Stats struct {
	Clients      int64
	CameraPhones int64
	Consented    int64

	Requests  int64
	Completed int64
	Pending   int64
	Expired   int64

	Documents int64
	SMSSent   int64
	SMSFailed int64
}

// CameraRate is the share of clients with a camera phone, in percent.
func (s Stats) CameraRate() float64 {
	if s.Clients == 0 {
		return 0
	}
	return float64(s.CameraPhones) * 100 / float64(s.Clients)
}

type Reports struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewReports(db *gorm.DB) *Reports {
	return &Reports{db: db, Now: time.Now}
}

func (r *Reports) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	now := r.Now().UTC()
	conn := r.db.WithContext(ctx)

	counts := []struct {
		dst   *int64
		model any
		where string
		args  []any
	}{
		{&s.Clients, &models.Client{}, "", nil},
		{&s.CameraPhones, &models.Client{}, "has_camera_phone = ?", []any{true}},
		{&s.Consented, &models.Client{}, "consent = ?", []any{true}},
		{&s.Requests, &models.UploadLink{}, "", nil},
		{&s.Completed, &models.UploadLink{}, "status = ?", []any{models.LinkConsumed}},
		{&s.Pending, &models.UploadLink{}, "status = ? AND expires_at >= ?", []any{models.LinkPending, now}},
		{&s.Expired, &models.UploadLink{}, "status = ? OR (status = ? AND expires_at < ?)", []any{models.LinkExpired, models.LinkPending, now}},
		{&s.Documents, &models.UploadedDocument{}, "", nil},
		{&s.SMSSent, &models.SMSLog{}, "status = ?", []any{"sent"}},
		{&s.SMSFailed, &models.SMSLog{}, "status = ?", []any{"failed"}},
	}
	for _, c := range counts {
		q := conn.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return s, err
		}
	}
	return s, nil
}

// SMSEntry is a log line joined with the client's name.
type SMSEntry struct {
	models.SMSLog
	ClientName string
}

// RecentSMS returns the newest limit messages.
func (r *Reports) RecentSMS(ctx context.Context, limit int) ([]SMSEntry, error) {
	var out []SMSEntry
	err := r.db.WithContext(ctx).Table("sms_logs").
		Select("sms_logs.*, clients.name AS client_name").
		Joins("LEFT JOIN clients ON clients.id = sms_logs.client_id").
		Order("sms_logs.created_at DESC, sms_logs.id DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// Document loads one uploaded document row.
func (r *Reports) Document(ctx context.Context, id uint) (*models.UploadedDocument, error) {
	var d models.UploadedDocument
	err := r.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// WriteClientsCSV writes every client with their request counts.
func (r *Reports) WriteClientsCSV(ctx context.Context, w io.Writer) error {
	type row struct {
		ID             uint
		Name           string
		PhoneNumber    string
		HasCameraPhone bool
		Consent        bool
		CreatedAt      time.Time
		Total          int64
		Completed      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Table("clients").
		Select(`clients.id, clients.name, clients.phone_number, clients.has_camera_phone, clients.consent, clients.created_at,
		        COUNT(upload_links.id) AS total,
		        COALESCE(SUM(CASE WHEN upload_links.status = ? THEN 1 ELSE 0 END), 0) AS completed`, models.LinkConsumed).
		Joins("LEFT JOIN upload_links ON upload_links.client_id = clients.id").
		Group("clients.id, clients.name, clients.phone_number, clients.has_camera_phone, clients.consent, clients.created_at").
		Order("clients.name ASC, clients.id ASC").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Name", "Phone", "Camera Phone", "Consent", "Created", "Total Requests", "Completed Requests"})
	for _, rr := range rows {
		_ = cw.Write([]string{
			rr.Name,
			rr.PhoneNumber,
			yesNo(rr.HasCameraPhone),
			yesNo(rr.Consent),
			rr.CreatedAt.Format("2006-01-02 15:04"),
			strconv.FormatInt(rr.Total, 10),
			strconv.FormatInt(rr.Completed, 10),
		})
	}
	cw.Flush()
	return cw.Error()
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
