package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config aggregates runtime configuration for the Dishwatch service.
type Config struct {
	Environment    string   `env:"APP_ENV"`
	HTTPPort       int      `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string   `env:"LOG_FORMAT" envDefault:"text"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:8080" envSeparator:","`

	// DataStore selects where the user table is snapshotted: memory, file or postgres.
	DataStore        string        `env:"DATA_STORE" envDefault:"file"`
	DataFile         string        `env:"DATA_FILE" envDefault:"data/users.json"`
	DatabaseURL      string
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"30s"`

	GoogleClientID     string   `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string
	RedirectURI        string   `env:"REDIRECT_URI" envDefault:"http://localhost:8080/oauth/callback"`
	VerifyIDToken      bool     `env:"OIDC_VERIFY" envDefault:"false"`
	AllowedDomains     []string `env:"AUTH_ALLOWED_DOMAINS" envSeparator:","`
	AllowedEmails      []string `env:"AUTH_ALLOWED_EMAILS" envSeparator:","`

	NestProjectID        string        `env:"NEST_PROJECT_ID"`
	SDMBaseURL           string        `env:"SDM_BASE_URL" envDefault:"https://smartdevicemanagement.googleapis.com/v1"`
	PollInterval         time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	SDMRequestsPerSecond float64       `env:"SDM_REQUESTS_PER_SECOND" envDefault:"5"`
	SDMBurst             int           `env:"SDM_BURST" envDefault:"10"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/dishwatch_database_url")
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL = strings.TrimSpace(databaseURL)

	clientSecret, err := getEnvOrFile("GOOGLE_CLIENT_SECRET", "/run/secrets/dishwatch_google_client_secret")
	if err != nil {
		return Config{}, err
	}
	cfg.GoogleClientSecret = strings.TrimSpace(clientSecret)

	// PORT wins over HTTP_PORT, matching common PaaS conventions.
	if value := os.Getenv("PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid port %q: %w", value, err)
		}
		cfg.HTTPPort = port
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	if cfg.Environment == "" {
		if cfg.GoogleClientID != "" {
			cfg.Environment = "production"
		} else {
			cfg.Environment = "development"
		}
	}
	cfg.DataStore = strings.ToLower(strings.TrimSpace(cfg.DataStore))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.AllowedOrigins = trimList(cfg.AllowedOrigins)
	cfg.AllowedDomains = trimList(cfg.AllowedDomains)
	cfg.AllowedEmails = trimList(cfg.AllowedEmails)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid port %d", c.HTTPPort)
	}

	switch c.DataStore {
	case "memory":
	case "file":
		if strings.TrimSpace(c.DataFile) == "" {
			return errors.New("DATA_STORE is file but DATA_FILE is not set")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return fmt.Errorf("unsupported DATA_STORE %q (want memory, file or postgres)", c.DataStore)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.HasAllowlist() && !c.VerifyIDToken {
		return errors.New("AUTH_ALLOWED_DOMAINS or AUTH_ALLOWED_EMAILS requires OIDC_VERIFY=true")
	}

	if c.IsDevelopment() {
		return nil
	}

	if c.GoogleClientID == "" {
		return errors.New("GOOGLE_CLIENT_ID is required outside development")
	}
	if c.GoogleClientSecret == "" {
		return errors.New("GOOGLE_CLIENT_SECRET is required outside development")
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must define at least one origin outside development")
	}
	if slices.Contains(c.AllowedOrigins, "*") {
		return errors.New("ALLOWED_ORIGINS cannot contain wildcard outside development")
	}
	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// OAuthEnabled reports whether Google OAuth client credentials are configured.
func (c Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// HasAllowlist returns true if registration is restricted to certain emails or domains.
func (c Config) HasAllowlist() bool {
	return len(c.AllowedDomains) > 0 || len(c.AllowedEmails) > 0
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
