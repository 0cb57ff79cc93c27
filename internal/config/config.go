package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// RedisURL enables the cross-instance booking lock. Without it bookings
	// are serialized in-process only.
	RedisURL       string        `mapstructure:"REDIS_URL"`
	BookingLockTTL time.Duration `mapstructure:"BOOKING_LOCK_TTL"`

	ClinicTimezone string `mapstructure:"CLINIC_TIMEZONE"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins               []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS              float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst            int           `mapstructure:"RATE_LIMIT_BURST"`
	BookingRateLimitPerMinute int           `mapstructure:"BOOKING_RATE_LIMIT_PER_MINUTE"`
	RequestTimeout            time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit                 string        `mapstructure:"BODY_LIMIT"`

	VideoBaseURL        string `mapstructure:"VIDEO_BASE_URL"`
	NotifyWebhookURL    string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string `mapstructure:"NOTIFY_WEBHOOK_SECRET"`

	// AdmissionPermissiveWithoutSchedule is off by default, which departs
	// from the older admission rule: a doctor who never saved a schedule is
	// held to the default schedule when booking, the same one availability
	// lists slots from. Turning it on restores the older rule, under which
	// such doctors skip the blocked-date, weekday, working-hours and
	// lead-time checks and only conflicts are refused.
	AdmissionPermissiveWithoutSchedule bool `mapstructure:"ADMISSION_PERMISSIVE_WITHOUT_SCHEDULE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "BOOKING_LOCK_TTL", "CLINIC_TIMEZONE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BOOKING_RATE_LIMIT_PER_MINUTE",
	"REQUEST_TIMEOUT", "BODY_LIMIT",
	"VIDEO_BASE_URL", "NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET",
	"ADMISSION_PERMISSIVE_WITHOUT_SCHEDULE",
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one exists. Variables already set in the
// environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("BOOKING_LOCK_TTL", "10s")
	v.SetDefault("CLINIC_TIMEZONE", "America/Mexico_City")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BOOKING_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("ADMISSION_PERMISSIVE_WITHOUT_SCHEDULE", false)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads CLINIC_TIMEZONE. Civil booking dates and times are
// interpreted in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside
// development a token verification source is mandatory.
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("ENV must be development, staging or production, got %q", c.Env))
	}
	if !c.IsDev() && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		errs = append(errs, fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY is required when ENV=%s", c.Env))
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		errs = append(errs, errors.New("AUTH_SIGNING_KEY must be at least 32 bytes"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) out of range", c.DBMinConns, c.DBMaxConns))
	}
	if c.BookingLockTTL <= 0 {
		errs = append(errs, errors.New("BOOKING_LOCK_TTL must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 || c.BookingRateLimitPerMinute < 1 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.NotifyWebhookURL != "" && c.NotifyWebhookSecret == "" {
		errs = append(errs, errors.New("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set"))
	}
	return errors.Join(errs...)
}
