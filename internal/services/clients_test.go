package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodbank/fuelsupport/internal/config"
	"github.com/foodbank/fuelsupport/internal/models"
	"github.com/foodbank/fuelsupport/internal/storage"
)

func TestClients_CreateValidation(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	ctx := context.Background()

	_, err := e.clients.Create(ctx, ClientInput{Name: "  ", Phone: "07700900123"})
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = e.clients.Create(ctx, ClientInput{Name: "John", Phone: "call me"})
	assert.ErrorIs(t, err, ErrInvalidPhone)

	john := e.addClient(t, "John Smith", "07700 900123", true)
	assert.Equal(t, "+447700900123", john.PhoneNumber)

	_, err = e.clients.Create(ctx, ClientInput{Name: "Impostor", Phone: "+44 7700 900123"})
	var dup *DuplicatePhoneError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "John Smith", dup.Existing)
}

func TestClients_Update(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	ctx := context.Background()
	john := e.addClient(t, "John Smith", "07700 900123", true)
	jane := e.addClient(t, "Jane Doe", "07700 900124", true)

	// keeping your own number is not a duplicate
	got, err := e.clients.Update(ctx, john.ID, ClientInput{Name: "John A. Smith", Phone: "07700900123", HasCameraPhone: false, Consent: false})
	require.NoError(t, err)
	assert.Equal(t, "John A. Smith", got.Name)

	stored, err := e.clients.Get(ctx, john.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasCameraPhone)
	assert.False(t, stored.Consent)

	_, err = e.clients.Update(ctx, john.ID, ClientInput{Name: "John", Phone: jane.PhoneNumber})
	var dup *DuplicatePhoneError
	assert.True(t, errors.As(err, &dup))

	_, err = e.clients.Update(ctx, 9999, ClientInput{Name: "Ghost", Phone: "07700900999"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClients_Search(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	e.addClient(t, "John Smith", "07700 900123", true)
	e.addClient(t, "Mary Johnson", "07700 900124", true)
	e.addClient(t, "Sarah Davis", "07700 900126", true)

	cases := map[string]int{
		"":              3,
		"john":          2,
		"SMITH":         1,
		"900126":        1,
		"07700 900124":  1,
		"+447700900123": 1,
		"nobody":        0,
	}
	for q, want := range cases {
		got, err := e.clients.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, got, want, "query %q", q)
	}
}

func TestClients_DeleteRemovesEverything(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	ctx := context.Background()
	john := e.addClient(t, "John Smith", "07700 900123", true)
	_, err := e.dispatch.SendRequests(ctx, []uint{john.ID}, models.PurposeMeterReading)
	require.NoError(t, err)
	link := e.linksFor(t, john.ID)[0]

	key := storage.DocumentKey(link.Token, "meter-reading-x", ".png")
	_, err = e.files.Save(ctx, key, "image/png", strings.NewReader("png"))
	require.NoError(t, err)
	require.NoError(t, e.db.Create(&models.UploadedDocument{
		ReceivedAt: time.Now(), UploadLinkID: link.ID, ClientID: john.ID,
		Purpose: models.PurposeMeterReading, StoragePath: key, SizeBytes: 3,
	}).Error)

	require.NoError(t, e.clients.Delete(ctx, john.ID))
	assert.ErrorIs(t, e.clients.Delete(ctx, john.ID), ErrNotFound)

	for _, m := range []any{&models.Client{}, &models.UploadLink{}, &models.UploadedDocument{}, &models.SMSLog{}} {
		var n int64
		require.NoError(t, e.db.Model(m).Count(&n).Error)
		assert.Zero(t, n, "%T", m)
	}
	_, err = os.Stat(filepath.Join(e.dir, filepath.FromSlash(key)))
	assert.True(t, os.IsNotExist(err))
}

func TestClients_Bulk(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	ctx := context.Background()
	a := e.addClient(t, "A", "07700 900001", false)
	b := e.addClient(t, "B", "07700 900002", false)
	c := e.addClient(t, "C", "07700 900003", false)

	n, err := e.clients.Bulk(ctx, BulkGrantConsent, []uint{a.ID, b.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.clients.Bulk(ctx, BulkSetCamera, []uint{a.ID, b.ID, c.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := e.clients.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Consent)
	assert.False(t, got.HasCameraPhone)

	n, err = e.clients.Bulk(ctx, BulkDelete, []uint{c.ID, 9999}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.clients.Bulk(ctx, "explode", []uint{a.ID}, false)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestClients_Details(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	ctx := context.Background()
	john := e.addClient(t, "John Smith", "07700 900123", true)
	_, err := e.dispatch.SendRequests(ctx, []uint{john.ID, john.ID, john.ID}, models.PurposeMeterReading)
	require.NoError(t, err)
	ls := e.linksFor(t, john.ID)
	require.Len(t, ls, 3)
	require.NoError(t, e.store.MarkConsumed(ctx, ls[0].Token))
	require.NoError(t, e.store.Revoke(ctx, ls[1].ID))

	d, err := e.clients.Details(ctx, john.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Total)
	assert.Equal(t, 1, d.Completed)
	assert.Equal(t, 1, d.Expired)
	assert.Equal(t, 1, d.Pending)
	assert.Len(t, d.RecentSMS, 3)
}

func TestClients_PurgeRetention(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	ctx := context.Background()
	old := e.addClient(t, "Old", "07700 900001", true)
	busy := e.addClient(t, "Busy", "07700 900002", true)
	fresh := e.addClient(t, "Fresh", "07700 900003", true)

	past := e.clock.AddDate(0, 0, -400)
	require.NoError(t, e.db.Model(&models.Client{}).Where("id IN ?", []uint{old.ID, busy.ID}).Update("created_at", past).Error)
	_, err := e.dispatch.SendRequests(ctx, []uint{busy.ID}, models.PurposeMeterReading)
	require.NoError(t, err)

	n, err := e.clients.PurgeRetention(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.clients.PurgeRetention(ctx, 365)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.clients.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.clients.Get(ctx, busy.ID)
	assert.NoError(t, err, "client with an open link is kept")
	_, err = e.clients.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestReports_StatsAndCSV(t *testing.T) {
	e := newEnv(t, config.ResendReuse)
	ctx := context.Background()
	john := e.addClient(t, "John Smith", "07700 900123", true)
	mary := e.addClient(t, "Mary Johnson", "07700 900124", true)
	_, err := e.dispatch.SendRequests(ctx, []uint{john.ID, john.ID, mary.ID}, models.PurposeMeterReading)
	require.NoError(t, err)
	require.NoError(t, e.store.MarkConsumed(ctx, e.linksFor(t, john.ID)[0].Token))

	e.sender.fail = true
	_, err = e.dispatch.SendRequests(ctx, []uint{mary.ID}, models.PurposeIdentity)
	require.NoError(t, err)

	e.clock = e.clock.Add(time.Hour)
	s, err := e.reports.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.Clients)
	assert.EqualValues(t, 2, s.CameraPhones)
	assert.EqualValues(t, 4, s.Requests)
	assert.EqualValues(t, 1, s.Completed)
	assert.EqualValues(t, 3, s.Pending)
	assert.EqualValues(t, 0, s.Expired)
	assert.EqualValues(t, 3, s.SMSSent)
	assert.EqualValues(t, 1, s.SMSFailed)
	assert.InDelta(t, 100.0, s.CameraRate(), 0.001)

	recent, err := e.reports.RecentSMS(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "Mary Johnson", recent[0].ClientName)
	assert.Equal(t, "failed", recent[0].Status)

	var buf bytes.Buffer
	require.NoError(t, e.reports.WriteClientsCSV(ctx, &buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Name", "Phone", "Camera Phone", "Consent", "Created", "Total Requests", "Completed Requests"}, rows[0])
	assert.Equal(t, "John Smith", rows[1][0])
	assert.Equal(t, "Yes", rows[1][2])
	assert.Equal(t, "2", rows[1][5])
	assert.Equal(t, "1", rows[1][6])
	assert.Equal(t, "2", rows[2][5])
	assert.Equal(t, "0", rows[2][6])
}
