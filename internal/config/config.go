package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the admin API.
type Config struct {
	Addr            string        `env:"ADDR,default=:8080"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	DBMaxOpenConns  int           `env:"DB_MAX_OPEN_CONNS,default=10"`
	DBConnectWait   time.Duration `env:"DB_CONNECT_WAIT,default=30s"`
	IdentityURL     string        `env:"IDENTITY_URL,required"`
	IdentityKey     string        `env:"IDENTITY_SERVICE_KEY,required"`
	JWTSecret       string        `env:"IDENTITY_JWT_SECRET"`
	JWTAudience     string        `env:"IDENTITY_JWT_AUDIENCE,default=authenticated"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	Administration  string        `env:"ADMINISTRATION_SERVICE,default=Administration"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT,default=5s"`
	AuditTimeout    time.Duration `env:"AUDIT_TIMEOUT,default=3s"`
	RateLimitRPS    int           `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=40"`
	MutationLimit   int           `env:"MUTATION_LIMIT_PER_MINUTE,default=60"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES,default=1048576"`
	NATSURL         string        `env:"NATS_URL"`
	AuditSubject    string        `env:"AUDIT_SUBJECT,default=gatehouse.audit"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	LogFormat       string        `env:"LOG_FORMAT,default=json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFrom populates a Config from lookuper. Tests use it with envconfig.MapLookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values envconfig cannot express.
func (c Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.IdentityURL, "http://") && !strings.HasPrefix(c.IdentityURL, "https://") {
		errs = append(errs, fmt.Errorf("IDENTITY_URL must be an http(s) URL, got %q", c.IdentityURL))
	}
	if strings.TrimSpace(c.Administration) == "" {
		errs = append(errs, errors.New("ADMINISTRATION_SERVICE must not be empty"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.AuditTimeout <= 0 {
		errs = append(errs, errors.New("AUDIT_TIMEOUT must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.MutationLimit <= 0 {
		errs = append(errs, errors.New("MUTATION_LIMIT_PER_MINUTE must be positive"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
