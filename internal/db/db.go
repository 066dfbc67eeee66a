package db

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foodbank/fuelsupport/internal/config"
	"github.com/foodbank/fuelsupport/internal/models"
)

// sqlitePragmas are appended to the SQLite path: WAL, a busy timeout and FK enforcement.
const sqlitePragmas = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// Open connects to Postgres when DATABASE_URL is set, otherwise to the SQLite
// file at SQLitePath, and migrates the schema.
func Open(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if cfg.Production() {
		gcfg.Logger = logger.Default.LogMode(logger.Error)
	}

	var (
		conn *gorm.DB
		err  error
	)
	if cfg.DatabaseURL != "" {
		conn, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gcfg)
	} else {
		conn, err = OpenSQLite(cfg.SQLitePath, gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := Migrate(conn); err != nil {
		return nil, err
	}
	log.Info("database ready", zap.String("dialect", conn.Dialector.Name()))
	return conn, nil
}

// OpenSQLite opens path with the pragmas the app relies on and caps the pool
// to one connection, since SQLite allows a single writer.
func OpenSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += sqlitePragmas
	}
	conn, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return conn, nil
}

// Migrate creates or updates all tables and the composite indexes GORM does
// not derive from struct tags.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.Client{},
		&models.UploadLink{},
		&models.UploadedDocument{},
		&models.SMSLog{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_links_client_status ON upload_links(client_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_sms_logs_created ON sms_logs(created_at)",
	} {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// SeedSample inserts demo clients into an empty database. It reports how many
// rows were added.
func SeedSample(conn *gorm.DB) (int, error) {
	var n int64
	if err := conn.Model(&models.Client{}).Count(&n).Error; err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	sample := []models.Client{
		{Name: "John Smith", PhoneNumber: "+447700900123", HasCameraPhone: true, Consent: true},
		{Name: "Mary Johnson", PhoneNumber: "+447700900124", HasCameraPhone: false, Consent: true},
		{Name: "Bob Wilson", PhoneNumber: "+447700900125", HasCameraPhone: true, Consent: true},
		{Name: "Sarah Davis", PhoneNumber: "+447700900126", HasCameraPhone: true, Consent: false},
	}
	if err := conn.Create(&sample).Error; err != nil {
		return 0, err
	}
	return len(sample), nil
}
