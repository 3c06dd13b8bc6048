package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // canonical timezone must resolve on minimal images

	"github.com/joho/godotenv"
)

const (
	LedgerSQLite = "sqlite"
	LedgerMongo  = "mongo"

	PhotoLocal      = "local"
	PhotoCloudinary = "cloudinary"

	MirrorSync  = "sync"
	MirrorAsync = "async"

	IdentityIP      = "ip"
	IdentitySession = "session"
)

type Config struct {
	Port            string
	AppEnv          string
	FrontendURL     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Quota and identity
	Timezone          string
	Location          *time.Location
	DailyReportLimit  int
	StrictQuota       bool
	SubmitBurstLimit  int
	SubmitterIdentity string
	SessionSecret     string
	SessionTTL        time.Duration

	// Local ledger
	LedgerDriver string
	SQLitePath   string
	MongoURI     string
	MongoDB      string

	// Photos
	PhotoStorage        string
	UploadDir           string
	MaxPhotoBytes       int64
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	// Remote mirror
	SheetsEnabled     bool
	SpreadsheetID     string
	Worksheet         string
	CredentialsFile   string
	SheetsProjectID   string
	SheetsPrivKeyID   string
	SheetsPrivateKey  string
	SheetsClientEmail string
	SheetsClientID    string

	MirrorMode              string
	MirrorAttempts          int
	MirrorRetryDelay        time.Duration
	MirrorAttemptTimeout    time.Duration
	MirrorReconnectInterval time.Duration
	MirrorWorkers           int
	MirrorQueueSize         int
	MirrorAPIRPS            float64

	ReconcileInterval time.Duration
	ReconcileBatch    int
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AppEnv:          getEnv("APP_ENV", "development"),
		FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:3000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", "10s"),

		Timezone:          getEnv("TIMEZONE", "Asia/Jakarta"),
		DailyReportLimit:  p.integer("DAILY_REPORT_LIMIT", 10),
		StrictQuota:       p.boolean("STRICT_QUOTA", false),
		SubmitBurstLimit:  p.integer("SUBMIT_BURST_LIMIT", 30),
		SubmitterIdentity: getEnv("SUBMITTER_IDENTITY", IdentityIP),
		SessionSecret:     getEnv("SESSION_SECRET", ""),
		SessionTTL:        p.duration("SESSION_TTL", "720h"),

		LedgerDriver: getEnv("LEDGER_DRIVER", LedgerSQLite),
		SQLitePath:   getEnv("SQLITE_PATH", "flood_system.db"),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DB", "floodreport"),

		PhotoStorage:        getEnv("PHOTO_STORAGE", PhotoLocal),
		UploadDir:           getEnv("UPLOAD_DIR", "uploads"),
		MaxPhotoBytes:       int64(p.integer("MAX_PHOTO_BYTES", 5*1024*1024)),
		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_UPLOAD_FOLDER", "flood-reports"),

		SheetsEnabled:     p.boolean("SHEETS_ENABLED", false),
		SpreadsheetID:     getEnv("GOOGLE_SHEETS_SPREADSHEET_ID", ""),
		Worksheet:         getEnv("GOOGLE_SHEETS_WORKSHEET", "flood_reports"),
		CredentialsFile:   getEnv("GOOGLE_SHEETS_CREDENTIALS_FILE", ""),
		SheetsProjectID:   getEnv("GOOGLE_SHEETS_PROJECT_ID", ""),
		SheetsPrivKeyID:   getEnv("GOOGLE_SHEETS_PRIVATE_KEY_ID", ""),
		SheetsPrivateKey:  strings.ReplaceAll(getEnv("GOOGLE_SHEETS_PRIVATE_KEY", ""), `\n`, "\n"),
		SheetsClientEmail: getEnv("GOOGLE_SHEETS_CLIENT_EMAIL", ""),
		SheetsClientID:    getEnv("GOOGLE_SHEETS_CLIENT_ID", ""),

		MirrorMode:              getEnv("MIRROR_MODE", MirrorSync),
		MirrorAttempts:          p.integer("MIRROR_ATTEMPTS", 3),
		MirrorRetryDelay:        p.duration("MIRROR_RETRY_DELAY", "2s"),
		MirrorAttemptTimeout:    p.duration("MIRROR_ATTEMPT_TIMEOUT", "30s"),
		MirrorReconnectInterval: p.duration("MIRROR_RECONNECT_INTERVAL", "1m"),
		MirrorWorkers:           p.integer("MIRROR_WORKERS", 2),
		MirrorQueueSize:         p.integer("MIRROR_QUEUE_SIZE", 100),
		MirrorAPIRPS:            p.float("MIRROR_API_RPS", 1),

		ReconcileInterval: p.duration("RECONCILE_INTERVAL", "5m"),
		ReconcileBatch:    p.integer("RECONCILE_BATCH", 50),
	}
	if p.err != nil {
		return nil, p.err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := oneOf("LEDGER_DRIVER", c.LedgerDriver, LedgerSQLite, LedgerMongo); err != nil {
		return err
	}
	if err := oneOf("PHOTO_STORAGE", c.PhotoStorage, PhotoLocal, PhotoCloudinary); err != nil {
		return err
	}
	if err := oneOf("MIRROR_MODE", c.MirrorMode, MirrorSync, MirrorAsync); err != nil {
		return err
	}
	if err := oneOf("SUBMITTER_IDENTITY", c.SubmitterIdentity, IdentityIP, IdentitySession); err != nil {
		return err
	}
	if err := oneOf("LOG_FORMAT", c.LogFormat, "text", "json"); err != nil {
		return err
	}

	if c.DailyReportLimit < 1 {
		return errors.New("DAILY_REPORT_LIMIT must be at least 1")
	}
	if c.MaxPhotoBytes < 1 {
		return errors.New("MAX_PHOTO_BYTES must be positive")
	}
	if c.MirrorAttempts < 1 {
		return errors.New("MIRROR_ATTEMPTS must be at least 1")
	}
	if c.MirrorAttemptTimeout <= 0 {
		return errors.New("MIRROR_ATTEMPT_TIMEOUT must be positive")
	}
	if c.MirrorWorkers < 1 || c.MirrorQueueSize < 1 {
		return errors.New("MIRROR_WORKERS and MIRROR_QUEUE_SIZE must be at least 1")
	}
	if c.SheetsEnabled && c.SpreadsheetID == "" {
		return errors.New("SHEETS_ENABLED is true but GOOGLE_SHEETS_SPREADSHEET_ID is not set")
	}
	if c.SubmitterIdentity == IdentitySession && c.SessionSecret == "" {
		return errors.New("SUBMITTER_IDENTITY=session requires SESSION_SECRET")
	}
	if c.PhotoStorage == PhotoCloudinary && (c.CloudinaryCloudName == "" || c.CloudinaryAPIKey == "" || c.CloudinaryAPISecret == "") {
		return errors.New("PHOTO_STORAGE=cloudinary requires CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
	}
	return nil
}

// HasInlineCredentials reports whether the service account is given field by field
// instead of through a credentials file.
func (c *Config) HasInlineCredentials() bool {
	return c.SheetsClientEmail != "" && c.SheetsPrivateKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", key, value)
	}
}

func (p *parser) duration(key, def string) time.Duration {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		p.fail(key, raw)
		return 0
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		p.fail(key, raw)
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw)
		return def
	}
	return b
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (allowed: %s)", key, value, strings.Join(allowed, ", "))
}
