package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string // empty selects the in-memory store
	LogLevel    string
	Environment string
	HTTPAddr    string

	CronSpecSweep      string
	CronSpecReplyCheck string
	SweepConcurrency   int
	SweepTimeout       time.Duration
	SweepLease         time.Duration
	SweepBatchLimit    int

	SMTPHost      string // empty logs emails instead of sending them
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFromEmail string
	SMTPFromName  string
	StaffEmail    string
	StaffName     string

	TelegramToken       string // empty disables the bot
	AdminTelegramID     int64
	StaffTelegramChatID int64 // when set, staff reminders go to this chat

	IMAPAddr     string // empty disables reply polling
	IMAPUsername string
	IMAPPassword string
	IMAPMailbox  string
	IMAPTLS      bool
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", ":8080")

	cfg.CronSpecSweep = envOrDefault("CRON_SPEC_SWEEP", "* * * * *")                // every minute
	cfg.CronSpecReplyCheck = envOrDefault("CRON_SPEC_REPLY_CHECK", "*/5 * * * *") // every 5 minutes

	if cfg.SweepConcurrency, err = intEnv("SWEEP_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency < 1 {
		return nil, fmt.Errorf("SWEEP_CONCURRENCY must be at least 1")
	}
	if cfg.SweepBatchLimit, err = intEnv("SWEEP_BATCH_LIMIT", 500); err != nil {
		return nil, err
	}
	if cfg.SweepTimeout, err = durationEnv("SWEEP_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepLease, err = durationEnv("SWEEP_LEASE", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepLease <= cfg.SweepTimeout {
		return nil, fmt.Errorf("SWEEP_LEASE (%s) must be longer than SWEEP_TIMEOUT (%s)", cfg.SweepLease, cfg.SweepTimeout)
	}

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFromEmail = os.Getenv("SMTP_FROM_EMAIL")
	cfg.SMTPFromName = envOrDefault("SMTP_FROM_NAME", "Sales Team")
	if cfg.SMTPHost != "" && cfg.SMTPFromEmail == "" {
		return nil, fmt.Errorf("SMTP_FROM_EMAIL is not set")
	}
	cfg.StaffEmail = os.Getenv("STAFF_EMAIL")
	cfg.StaffName = envOrDefault("STAFF_NAME", "Sales team")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken != "" {
		adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
		if adminIDStr == "" {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
		}
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	if raw := os.Getenv("STAFF_TELEGRAM_CHAT_ID"); raw != "" {
		cfg.StaffTelegramChatID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid STAFF_TELEGRAM_CHAT_ID: %w", err)
		}
		if cfg.TelegramToken == "" {
			return nil, fmt.Errorf("STAFF_TELEGRAM_CHAT_ID requires TELEGRAM_TOKEN")
		}
	}
	if cfg.StaffEmail == "" && cfg.StaffTelegramChatID == 0 {
		return nil, fmt.Errorf("either STAFF_EMAIL or STAFF_TELEGRAM_CHAT_ID must be set")
	}

	cfg.IMAPAddr = os.Getenv("IMAP_ADDR")
	cfg.IMAPUsername = os.Getenv("IMAP_USERNAME")
	cfg.IMAPPassword = os.Getenv("IMAP_PASSWORD")
	cfg.IMAPMailbox = envOrDefault("IMAP_MAILBOX", "INBOX")
	cfg.IMAPTLS = !strings.EqualFold(os.Getenv("IMAP_TLS"), "false")
	if cfg.IMAPAddr != "" && cfg.IMAPUsername == "" {
		return nil, fmt.Errorf("IMAP_USERNAME is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
