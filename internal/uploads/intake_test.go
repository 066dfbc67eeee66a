package uploads

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foodbank/fuelsupport/internal/db"
	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/models"
	"github.com/foodbank/fuelsupport/internal/storage"
	"github.com/foodbank/fuelsupport/internal/storage/local"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{1}, 64)...)
)

type notified struct {
	mu    sync.Mutex
	calls int
	docs  int
}

func (n *notified) DocumentsReceived(_ context.Context, _ models.Client, _ models.UploadLink, docs []models.UploadedDocument) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.docs += len(docs)
}

type fixture struct {
	db       *gorm.DB
	store    *links.Store
	issuer   *links.Issuer
	intake   *Intake
	notified *notified
	dir      string
	clock    time.Time
	client   models.Client
}

func newFixture(t *testing.T, limits Limits) *fixture {
	t.Helper()
	tmp := t.TempDir()
	gdb, err := db.OpenSQLite(filepath.Join(tmp, "uploads.db"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	f := &fixture{db: gdb, dir: filepath.Join(tmp, "files"), notified: &notified{}}
	f.clock = time.Now().UTC().Truncate(time.Second)
	f.store = links.NewStore(gdb)
	f.store.Now = func() time.Time { return f.clock }
	f.issuer = links.NewIssuer(gdb, f.store, 48*time.Hour, zap.NewNop())

	files, err := local.New(f.dir)
	require.NoError(t, err)
	f.intake = NewIntake(gdb, f.store, files, f.notified, limits, zap.NewNop())

	f.client = models.Client{Name: "John Smith", PhoneNumber: "+447700900123", Consent: true}
	require.NoError(t, gdb.Create(&f.client).Error)
	return f
}

func defaultLimits() Limits {
	return Limits{MaxFileBytes: 1 << 20, MaxRequestBytes: 2 << 20, MaxStorageBytes: 10 << 20}
}

func (f *fixture) issue(t *testing.T, purpose models.Purpose) *models.UploadLink {
	t.Helper()
	link, err := f.issuer.Issue(context.Background(), f.client.ID, purpose)
	require.NoError(t, err)
	return link
}

type part struct {
	field, name string
	data        []byte
}

// post builds a real multipart request and parses it the way the handler does.
func post(t *testing.T, purpose models.Purpose, maxRequest int64, parts ...part) (*Form, error) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		w, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/upload/x", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ReadForm(httptest.NewRecorder(), req, purpose.Slots(), maxRequest)
}

func mustForm(t *testing.T, purpose models.Purpose, parts ...part) *Form {
	t.Helper()
	form, err := post(t, purpose, 4<<20, parts...)
	require.NoError(t, err)
	t.Cleanup(form.Close)
	return form
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func (f *fixture) docCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.UploadedDocument{}).Count(&n).Error)
	return n
}

func asReject(t *testing.T, err error) *RejectError {
	t.Helper()
	var re *RejectError
	require.True(t, errors.As(err, &re), "want RejectError, got %v", err)
	return re
}

func TestReceive_ValidUploadConsumesLink(t *testing.T) {
	f := newFixture(t, defaultLimits())
	link := f.issue(t, models.PurposeFuelSupport)
	ctx := context.Background()

	form := mustForm(t, link.Purpose,
		part{"meter-reading", "meter.PNG", pngBytes},
		part{"identity-document", "me.jpg", jpegBytes})

	docs, err := f.intake.Receive(ctx, link.Token, form.Files)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, models.PurposeMeterReading, docs[0].Purpose)
	assert.Equal(t, "image/png", docs[0].ContentType)
	assert.Equal(t, "image/jpeg", docs[1].ContentType)
	assert.EqualValues(t, len(pngBytes), docs[0].SizeBytes)
	assert.NotContains(t, docs[0].StoragePath, link.Token)

	stored, err := f.store.Resolve(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, models.LinkConsumed, stored.Status)
	assert.Equal(t, 2, countFiles(t, f.dir))
	assert.Equal(t, 1, f.notified.calls)
	assert.Equal(t, 2, f.notified.docs)

	// second attempt with the same token
	_, err = f.intake.Receive(ctx, link.Token, form.Files)
	assert.ErrorIs(t, err, links.ErrAlreadyConsumed)
	assert.EqualValues(t, 2, f.docCount(t))
	assert.Equal(t, 2, countFiles(t, f.dir))
	assert.Equal(t, 1, f.notified.calls)
}

func TestReceive_ExpiredLink(t *testing.T) {
	f := newFixture(t, defaultLimits())
	link := f.issue(t, models.PurposeMeterReading)
	f.clock = f.clock.Add(49 * time.Hour)

	form := mustForm(t, link.Purpose, part{"meter-reading", "meter.png", pngBytes})
	_, err := f.intake.Receive(context.Background(), link.Token, form.Files)
	assert.ErrorIs(t, err, links.ErrExpiredToken)
	assert.True(t, links.IsUnusable(err))
	assert.Zero(t, f.docCount(t))
	assert.Zero(t, countFiles(t, f.dir))
	assert.Zero(t, f.notified.calls)
}

func TestReceive_UnknownToken(t *testing.T) {
	f := newFixture(t, defaultLimits())
	form := mustForm(t, models.PurposeMeterReading, part{"meter-reading", "meter.png", pngBytes})
	_, err := f.intake.Receive(context.Background(), "not-a-token", form.Files)
	assert.ErrorIs(t, err, links.ErrInvalidToken)
}

func TestReceive_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		purpose models.Purpose
		limits  func(*Limits)
		parts   []part
		reason  Reason
	}{
		{
			name:    "missing slot",
			purpose: models.PurposeFuelSupport,
			parts:   []part{{"meter-reading", "meter.png", pngBytes}},
			reason:  ReasonMissingFile,
		},
		{
			name:    "empty file",
			purpose: models.PurposeMeterReading,
			parts:   []part{{"meter-reading", "meter.png", nil}},
			reason:  ReasonMissingFile,
		},
		{
			name:    "executable extension",
			purpose: models.PurposeMeterReading,
			parts:   []part{{"meter-reading", "meter.exe", pngBytes}},
			reason:  ReasonUnsupportedType,
		},
		{
			name:    "text disguised as png",
			purpose: models.PurposeMeterReading,
			parts:   []part{{"meter-reading", "meter.png", []byte("#!/bin/sh\necho hi\n")}},
			reason:  ReasonUnsupportedType,
		},
		{
			name:    "jpeg named png",
			purpose: models.PurposeMeterReading,
			parts:   []part{{"meter-reading", "meter.png", jpegBytes}},
			reason:  ReasonUnsupportedType,
		},
		{
			name:    "file over limit",
			purpose: models.PurposeMeterReading,
			limits:  func(l *Limits) { l.MaxFileBytes = 16 },
			parts:   []part{{"meter-reading", "meter.png", pngBytes}},
			reason:  ReasonTooLarge,
		},
		{
			name:    "storage full",
			purpose: models.PurposeMeterReading,
			limits:  func(l *Limits) { l.MaxStorageBytes = 32 },
			parts:   []part{{"meter-reading", "meter.png", pngBytes}},
			reason:  ReasonStorageFull,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := defaultLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}
			f := newFixture(t, limits)
			link := f.issue(t, tt.purpose)
			form := mustForm(t, tt.purpose, tt.parts...)

			_, err := f.intake.Receive(context.Background(), link.Token, form.Files)
			assert.Equal(t, tt.reason, asReject(t, err).Reason)

			// rejected payloads leave the link usable
			stored, err := f.store.Redeemable(context.Background(), link.Token)
			require.NoError(t, err)
			assert.Equal(t, models.LinkPending, stored.Status)
			assert.Zero(t, f.docCount(t))
			assert.Zero(t, countFiles(t, f.dir))
		})
	}
}

func TestReceive_StorageCountsExistingDocuments(t *testing.T) {
	limits := defaultLimits()
	limits.MaxStorageBytes = 100
	f := newFixture(t, limits)

	first := f.issue(t, models.PurposeMeterReading)
	require.NoError(t, f.db.Create(&models.UploadedDocument{
		ReceivedAt: time.Now(), UploadLinkID: first.ID, ClientID: f.client.ID,
		Purpose: models.PurposeMeterReading, StoragePath: "old/meter.png", SizeBytes: 60,
	}).Error)

	link := f.issue(t, models.PurposeMeterReading)
	form := mustForm(t, link.Purpose, part{"meter-reading", "meter.png", pngBytes})
	_, err := f.intake.Receive(context.Background(), link.Token, form.Files)
	assert.Equal(t, ReasonStorageFull, asReject(t, err).Reason)
}

// racingFiles commits another link's document while this upload is being
// stored, after the first storage check has already passed.
type racingFiles struct {
	storage.Store
	once   sync.Once
	commit func() error
}

func (r *racingFiles) Save(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	var err error
	r.once.Do(func() { err = r.commit() })
	if err != nil {
		return 0, err
	}
	return r.Store.Save(ctx, key, contentType, body)
}

func TestReceive_StorageRecheckedAtCommit(t *testing.T) {
	limits := defaultLimits()
	limits.MaxStorageBytes = int64(len(pngBytes)) + 10
	f := newFixture(t, limits)

	other := f.issue(t, models.PurposeMeterReading)
	files, err := local.New(f.dir)
	require.NoError(t, err)
	racing := &racingFiles{Store: files, commit: func() error {
		return f.db.Create(&models.UploadedDocument{
			ReceivedAt: time.Now(), UploadLinkID: other.ID, ClientID: f.client.ID,
			Purpose: models.PurposeMeterReading, StoragePath: "other/meter.png", SizeBytes: 20,
		}).Error
	}}
	intake := NewIntake(f.db, f.store, racing, f.notified, limits, zap.NewNop())

	link := f.issue(t, models.PurposeMeterReading)
	form := mustForm(t, link.Purpose, part{"meter-reading", "meter.png", pngBytes})
	_, err = intake.Receive(context.Background(), link.Token, form.Files)
	assert.Equal(t, ReasonStorageFull, asReject(t, err).Reason)

	assert.EqualValues(t, 1, f.docCount(t), "only the competing document is recorded")
	assert.Zero(t, countFiles(t, f.dir), "staged file removed")
	_, err = f.store.Redeemable(context.Background(), link.Token)
	assert.NoError(t, err, "link stays usable")
	assert.Zero(t, f.notified.calls)
}

func TestReadForm_RequestTooLarge(t *testing.T) {
	_, err := post(t, models.PurposeMeterReading, 128,
		part{"meter-reading", "meter.png", bytes.Repeat([]byte{1}, 4096)})
	assert.Equal(t, ReasonTooLarge, asReject(t, err).Reason)
}

func TestReadForm_OneFilePerSlot(t *testing.T) {
	_, err := post(t, models.PurposeMeterReading, 1<<20,
		part{"meter-reading", "a.png", pngBytes},
		part{"meter-reading", "b.png", pngBytes})
	assert.Equal(t, ReasonTooLarge, asReject(t, err).Reason)

	form, err := post(t, models.PurposeMeterReading, 1<<20,
		part{"meter-reading", "a.png", pngBytes},
		part{"unrelated", "b.png", pngBytes})
	require.NoError(t, err)
	defer form.Close()
	assert.Len(t, form.Files, 1)
}

func TestReceive_ConcurrentRedemption(t *testing.T) {
	f := newFixture(t, defaultLimits())
	link := f.issue(t, models.PurposeMeterReading)
	form := mustForm(t, link.Purpose, part{"meter-reading", "meter.png", pngBytes})

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.intake.Receive(context.Background(), link.Token, form.Files)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	for _, err := range errs {
		assert.ErrorIs(t, err, links.ErrAlreadyConsumed)
	}
	assert.EqualValues(t, 1, f.docCount(t))
	assert.Equal(t, 1, countFiles(t, f.dir))
	assert.Equal(t, 1, f.notified.calls)
}
