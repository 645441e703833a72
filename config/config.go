// Package config loads runtime settings from .env and the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP      HTTPConfig
	DB        DBConfig
	Auth      AuthConfig
	Ledger    LedgerConfig
	Referral  ReferralConfig
	Cache     CacheConfig
	OpenAI    OpenAIConfig
	Stripe    StripeConfig
	SMTP      SMTPConfig
	Reminders ReminderConfig
	Log       LogConfig
}

type HTTPConfig struct {
	Port        string `env:"PORT,default=8080"`
	CORSOrigins string `env:"CORS_ORIGINS,default=*"`
	AppURL      string `env:"APP_URL,default=http://localhost:5173"`
}

type DBConfig struct {
	User     string `env:"DB_USER,default=root"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST,default=127.0.0.1"`
	Port     string `env:"DB_PORT,default=3306"`
	Name     string `env:"DB_NAME,default=visualize"`
}

// AuthConfig describes how hosted-auth session tokens are verified.
// JWKSURL wins over JWTSecret when both are set.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
	JWKSURL   string `env:"AUTH_JWKS_URL"`
	Issuer    string `env:"AUTH_ISSUER"`
	Disabled  bool   `env:"AUTH_DISABLED,default=false"`
}

type LedgerConfig struct {
	WeeklyAllotment int           `env:"CREDITS_WEEKLY_ALLOTMENT,default=2"`
	ResetPeriod     time.Duration `env:"CREDITS_RESET_PERIOD,default=168h"`
	StrictConsume   bool          `env:"CREDITS_STRICT_CONSUME,default=true"`
	NewUserWindow   time.Duration `env:"NEW_USER_WINDOW,default=60s"`
}

type ReferralConfig struct {
	WebhookSecret string `env:"REFERRAL_WEBHOOK_SECRET"`
	CodeLength    int    `env:"REFERRAL_CODE_LENGTH,default=8"`
}

type CacheConfig struct {
	TTL      time.Duration `env:"RESPONSE_CACHE_TTL,default=10m"`
	Size     int           `env:"RESPONSE_CACHE_SIZE,default=1024"`
	RedisURL string        `env:"REDIS_URL"`
}

type OpenAIConfig struct {
	APIKey    string `env:"OPENAI_API_KEY"`
	TextModel string `env:"OPENAI_TEXT_MODEL,default=gpt-4o-mini"`
	TTSModel  string `env:"OPENAI_TTS_MODEL,default=tts-1"`
	TTSVoice  string `env:"OPENAI_TTS_VOICE,default=shimmer"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PriceMonthly  string `env:"STRIPE_PRICE_MONTHLY"`
	PriceAnnual   string `env:"STRIPE_PRICE_ANNUAL"`
	SuccessURL    string `env:"STRIPE_SUCCESS_URL"`
	CancelURL     string `env:"STRIPE_CANCEL_URL"`
}

type SMTPConfig struct {
	Host string `env:"SMTP_HOST"`
	Port int    `env:"SMTP_PORT,default=587"`
	User string `env:"SMTP_USER"`
	Pass string `env:"SMTP_PASS"`
	From string `env:"SMTP_FROM"`
}

type ReminderConfig struct {
	Schedule string `env:"REMINDER_SCHEDULE,default=@hourly"`
	Enabled  bool   `env:"REMINDERS_ENABLED,default=true"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
}

// Load reads the optional .env files and decodes the environment into a Config.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// a missing .env is normal outside local development
		_ = godotenv.Load(f)
	}
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Ledger.WeeklyAllotment < 0 {
		return fmt.Errorf("CREDITS_WEEKLY_ALLOTMENT must be >= 0, got %d", c.Ledger.WeeklyAllotment)
	}
	if c.Ledger.ResetPeriod <= 0 {
		return fmt.Errorf("CREDITS_RESET_PERIOD must be positive")
	}
	if c.Referral.CodeLength < 6 || c.Referral.CodeLength > 32 {
		return fmt.Errorf("REFERRAL_CODE_LENGTH must be between 6 and 32")
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
		return errors.New("AUTH_JWT_SECRET or AUTH_JWKS_URL must be set unless AUTH_DISABLED=true")
	}
	return nil
}

// DSN builds the go-sql-driver/mysql connection string. An empty name targets the server only.
func (d DBConfig) DSN(name string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC", d.User, d.Password, d.Host, d.Port, name)
}

// Origins splits CORS_ORIGINS on commas.
func (h HTTPConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(h.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.User != "" && s.Pass != ""
}
