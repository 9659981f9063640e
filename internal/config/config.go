package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Mail drivers accepted by MAIL_DRIVER.
const (
	MailLog      = "log"
	MailPostmark = "postmark"
)

// Config holds the application configuration. It is built once at startup and
// passed by value into the components that need it.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	StoreDriver     string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	OTPTTL          time.Duration `env:"OTP_TTL" envDefault:"10m"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"15m"`
	FrontendURL     string        `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel        slog.Level    `env:"LOG_LEVEL" envDefault:"info"`

	Mongo  MongoConfig
	Mail   MailConfig
	Google GoogleConfig
}

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URI      string `env:"MONGO_URI"`
	Database string `env:"MONGO_DATABASE" envDefault:"notevault"`
}

// MailConfig configures the outbound mail transport.
type MailConfig struct {
	Driver               string `env:"MAIL_DRIVER" envDefault:"log"`
	From                 string `env:"MAIL_FROM" envDefault:"no-reply@notevault.local"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
}

// GoogleConfig configures the Google OAuth client. An empty ClientID disables
// the /auth/google routes.
type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	CallbackURL  string `env:"GOOGLE_CALLBACK_URL"`
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.CallbackURL != ""
}

// SecureCookies reports whether cookies set by this server must be Secure.
// The callback URL is served by this server, so its scheme is the public one
// even when TLS ends at a proxy.
func (g GoogleConfig) SecureCookies() bool {
	u, err := url.Parse(g.CallbackURL)
	return err == nil && strings.EqualFold(u.Scheme, "https")
}

// Load reads configuration from environment variables
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for store driver %q", c.StoreDriver)
		}
	case StoreMongo:
		if strings.TrimSpace(c.Mongo.URI) == "" {
			return fmt.Errorf("MONGO_URI environment variable is required for store driver %q", c.StoreDriver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailPostmark:
		if c.Mail.PostmarkServerToken == "" || c.Mail.PostmarkAccountToken == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN and POSTMARK_ACCOUNT_TOKEN are required for mail driver %q", c.Mail.Driver)
		}
	default:
		return fmt.Errorf("unknown MAIL_DRIVER %q", c.Mail.Driver)
	}

	if c.SessionTTL <= 0 || c.OTPTTL <= 0 {
		return fmt.Errorf("SESSION_TTL and OTP_TTL must be positive")
	}

	if _, err := url.Parse(c.FrontendURL); err != nil {
		return fmt.Errorf("invalid FRONTEND_URL: %w", err)
	}
	return nil
}
