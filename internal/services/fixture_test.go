package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foodbank/fuelsupport/internal/config"
	"github.com/foodbank/fuelsupport/internal/db"
	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/messaging"
	"github.com/foodbank/fuelsupport/internal/storage/local"
)

// stubSender records messages and fails while fail is set.
type stubSender struct {
	mu   sync.Mutex
	fail bool
	sent []string
}

func (s *stubSender) Mode() string { return messaging.ModeSimulated }

func (s *stubSender) Send(_ context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", messaging.ErrGatewayUnavailable
	}
	s.sent = append(s.sent, to+"|"+body)
	return "sim_test", nil
}

type env struct {
	db       *gorm.DB
	cfg      config.Config
	store    *links.Store
	issuer   *links.Issuer
	sender   *stubSender
	dispatch *Dispatcher
	clients  *Clients
	reports  *Reports
	files    *local.Store
	dir      string
	clock    time.Time
}

func newEnv(t *testing.T, policy string) *env {
	t.Helper()
	tmp := t.TempDir()
	gdb, err := db.OpenSQLite(filepath.Join(tmp, "services.db"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	e := &env{
		db:     gdb,
		sender: &stubSender{},
		dir:    filepath.Join(tmp, "files"),
		clock:  time.Now().UTC().Truncate(time.Second),
		cfg: config.Config{
			BaseURL:            "https://fb.example",
			LinkTTL:            48 * time.Hour,
			ResendPolicy:       policy,
			FoodBankName:       "Community Food Bank",
			FoodBankPhone:      "01234 567890",
			DefaultCountryCode: "44",
		},
	}
	clock := func() time.Time { return e.clock }
	e.store = links.NewStore(gdb)
	e.store.Now = clock
	e.issuer = links.NewIssuer(gdb, e.store, e.cfg.LinkTTL, zap.NewNop())
	e.dispatch = NewDispatcher(gdb, e.issuer, e.store, e.sender, e.cfg, zap.NewNop())

	e.files, err = local.New(e.dir)
	require.NoError(t, err)
	e.clients = NewClients(gdb, e.files, "44", zap.NewNop())
	e.clients.Now = clock
	e.reports = NewReports(gdb)
	e.reports.Now = clock
	return e
}
