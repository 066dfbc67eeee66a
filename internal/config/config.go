package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ResendReuse = "reuse"
	ResendNew   = "new"

	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds application configuration. It is built once at startup and
// handed to the components that need it.
type Config struct {
	Addr     string
	Env      string
	LogLevel string
	BaseURL  string

	DatabaseURL string
	SQLitePath  string

	Storage   string
	UploadDir string
	S3Bucket  string
	S3Prefix  string
	AWSRegion string

	LinkTTL         time.Duration
	MaxFileBytes    int64
	MaxRequestBytes int64
	MaxStorageBytes int64
	ResendPolicy    string
	RetentionDays   int

	HousekeepingInterval time.Duration

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	SimulateSMS       bool
	StaffNotifyNumber string

	FoodBankName       string
	FoodBankPhone      string
	DefaultCountryCode string

	AdminPassword string
	SecretKey     string
}

// Load reads configuration from environment variables with sensible defaults.
// .env files are loaded first, best-effort, without overriding real env vars.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		Addr:     getEnv("ADDR", ":8080"),
		Env:      strings.ToLower(getEnv("ENV", "dev")),
		LogLevel: getEnv("LOG_LEVEL", ""),
		BaseURL:  strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "foodbank.db"),

		Storage:   strings.ToLower(getEnv("STORAGE", StorageLocal)),
		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		S3Bucket:  os.Getenv("S3_BUCKET"),
		S3Prefix:  os.Getenv("S3_PREFIX"),
		AWSRegion: os.Getenv("AWS_REGION"),

		ResendPolicy: strings.ToLower(getEnv("RESEND_POLICY", ResendReuse)),

		TwilioAccountSID:  strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:   strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioPhoneNumber: strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER")),
		StaffNotifyNumber: strings.TrimSpace(os.Getenv("STAFF_NOTIFY_NUMBER")),

		FoodBankName:       getEnv("FOOD_BANK_NAME", "Lewisham Food Bank"),
		FoodBankPhone:      getEnv("FOOD_BANK_PHONE", "020-XXXX-XXXX"),
		DefaultCountryCode: strings.TrimPrefix(getEnv("DEFAULT_COUNTRY_CODE", "44"), "+"),

		AdminPassword: getEnv("ADMIN_PASSWORD", DefaultAdminPassword),
		SecretKey:     os.Getenv("SECRET_KEY"),
	}

	var err error
	if cfg.LinkTTL, err = getDuration("LINK_TTL", 48*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.MaxFileBytes, err = getInt64("MAX_FILE_BYTES", 8<<20); err != nil {
		return cfg, err
	}
	if cfg.MaxRequestBytes, err = getInt64("MAX_REQUEST_BYTES", 16<<20); err != nil {
		return cfg, err
	}
	if cfg.MaxStorageBytes, err = getInt64("MAX_STORAGE_BYTES", 1<<30); err != nil {
		return cfg, err
	}
	if cfg.HousekeepingInterval, err = getDuration("HOUSEKEEPING_INTERVAL", 10*time.Minute); err != nil {
		return cfg, err
	}
	days, err := getInt64("RETENTION_DAYS", 0)
	if err != nil {
		return cfg, err
	}
	cfg.RetentionDays = int(days)
	if cfg.SimulateSMS, err = getBool("SMS_SIMULATE", false); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DefaultAdminPassword is only accepted outside production.
const DefaultAdminPassword = "admin123"

// Validate reports the first malformed value.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute http(s) url, got %q", c.BaseURL)
	}
	if c.LinkTTL <= 0 {
		return fmt.Errorf("LINK_TTL must be positive")
	}
	if c.MaxFileBytes <= 0 || c.MaxRequestBytes <= 0 || c.MaxStorageBytes <= 0 {
		return fmt.Errorf("size limits must be positive")
	}
	if c.MaxFileBytes > c.MaxRequestBytes {
		return fmt.Errorf("MAX_FILE_BYTES (%d) exceeds MAX_REQUEST_BYTES (%d)", c.MaxFileBytes, c.MaxRequestBytes)
	}
	switch c.ResendPolicy {
	case ResendReuse, ResendNew:
	default:
		return fmt.Errorf("RESEND_POLICY must be %q or %q, got %q", ResendReuse, ResendNew, c.ResendPolicy)
	}
	switch c.Storage {
	case StorageLocal:
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}
	if c.HousekeepingInterval < 0 {
		return fmt.Errorf("HOUSEKEEPING_INTERVAL must not be negative")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative")
	}
	if c.Production() {
		pw := strings.TrimSpace(c.AdminPassword)
		if pw == "" || pw == DefaultAdminPassword {
			return fmt.Errorf("ADMIN_PASSWORD must be set to a non-default value when ENV=production")
		}
	}
	return nil
}

func (c Config) Production() bool { return c.Env == "production" }

// UploadURL is the public link texted to a client.
func (c Config) UploadURL(token string) string {
	return c.BaseURL + "/upload/" + token
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
