package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config keeps runtime settings for the bot, the notifier and the CLI.
type Config struct {
	TelegramToken string
	DatabaseURL   string `validate:"required"`
	SentryDSN     string
	Debug         bool

	PollInterval    time.Duration `validate:"gt=0"`
	DeliveryPause   time.Duration `validate:"gte=0"`
	OverdueGrace    time.Duration `validate:"gte=0"`
	TokenDigits     int           `validate:"min=6,max=18"`
	AllowRelink     bool
	DisplayTimeZone string `validate:"required"`
	DigestAt        string `validate:"omitempty,datetime=15:04"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		TelegramToken:   env("TELEGRAM_TOKEN"),
		DatabaseURL:     env("DATABASE_URL"),
		SentryDSN:       env("SENTRY_DSN"),
		DisplayTimeZone: env("DISPLAY_TIMEZONE"),
		DigestAt:        env("DIGEST_AT"),
		PollInterval:    60 * time.Second,
		DeliveryPause:   500 * time.Millisecond,
		OverdueGrace:    2 * time.Minute,
		TokenDigits:     10,
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "stem.db"
	}
	if cfg.DisplayTimeZone == "" {
		cfg.DisplayTimeZone = "Local"
	}

	var err error
	if cfg.Debug, err = parseBool("DEBUG", cfg.Debug); err != nil {
		return cfg, err
	}
	if cfg.AllowRelink, err = parseBool("PAIRING_ALLOW_RELINK", cfg.AllowRelink); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = parseSeconds("POLL_INTERVAL_SECONDS", cfg.PollInterval); err != nil {
		return cfg, err
	}
	if cfg.DeliveryPause, err = parseSeconds("INTER_DELIVERY_PAUSE_SECONDS", cfg.DeliveryPause); err != nil {
		return cfg, err
	}
	if raw := env("OVERDUE_GRACE_PERIOD"); raw != "" {
		if cfg.OverdueGrace, err = time.ParseDuration(raw); err != nil {
			return cfg, fmt.Errorf("OVERDUE_GRACE_PERIOD: %w", err)
		}
	}
	if raw := env("PAIRING_TOKEN_DIGITS"); raw != "" {
		if cfg.TokenDigits, err = strconv.Atoi(raw); err != nil {
			return cfg, fmt.Errorf("PAIRING_TOKEN_DIGITS: %w", err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Location resolves DisplayTimeZone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimeZone)
	if err != nil {
		return nil, fmt.Errorf("DISPLAY_TIMEZONE %q: %w", c.DisplayTimeZone, err)
	}
	return loc, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseBool(key string, def bool) (bool, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// parseSeconds accepts fractional seconds, e.g. "0.5".
func parseSeconds(key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return def, fmt.Errorf("%s: expected a non-negative number of seconds, got %q", key, raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
