package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"Immotrack"`
		Port int    `envconfig:"PORT" default:"8080"`
	}

	DB struct {
		Driver   string `envconfig:"DB_DRIVER" default:"postgres"`
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"immotrack"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}

	Auth struct {
		JWTSecret string        `envconfig:"AUTH_JWT_SECRET" default:"change-me"`
		TokenTTL  time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"24h"`
	}

	CORS struct {
		AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	}

	// Empty URLs select the in-memory collaborators.
	Registry struct {
		URL   string `envconfig:"REGISTRY_URL"`
		Token string `envconfig:"REGISTRY_TOKEN"`
	}

	Funds struct {
		URL   string `envconfig:"FUNDS_URL"`
		Token string `envconfig:"FUNDS_TOKEN"`
	}

	Sale struct {
		RequiredDocuments []string `envconfig:"SALE_REQUIRED_DOCUMENTS" default:"sale_deed"`
	}

	Ledger struct {
		AmountRevision string `envconfig:"LEDGER_AMOUNT_REVISION" default:"drift"`
		LateSweep      string `envconfig:"LEDGER_LATE_SWEEP" default:"0 6 * * *"`
	}

	TUI struct {
		ActorID   string `envconfig:"TUI_ACTOR_ID"`
		ActorRole string `envconfig:"TUI_ACTOR_ROLE" default:"agency"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	switch cfg.DB.Driver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DB.Driver)
	}

	switch cfg.Ledger.AmountRevision {
	case "drift", "redistribute":
	default:
		return nil, fmt.Errorf("unknown LEDGER_AMOUNT_REVISION %q", cfg.Ledger.AmountRevision)
	}

	return &cfg, nil
}
