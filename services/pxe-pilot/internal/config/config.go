// Package config loads pxe-pilot settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	"pxepilot/pkg/ipxe"
)

// Log formats accepted in LOG_FORMAT.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config holds runtime configuration for the pxe-pilot service.
type Config struct {
	KernelURL      string   `env:"PXE_UBUNTU_KERNEL_URL"`
	InitrdURL      string   `env:"PXE_UBUNTU_INITRD_URL"`
	AutoinstallURL string   `env:"PXE_AUTOINSTALL_URL"`
	BaseURL        string   `env:"PXE_BASE_URL"`
	BootBaseURL    string   `env:"PXE_BOOT_BASE_URL"`
	AdminAPIKey    string   `env:"ADMIN_API_KEY"`
	DatabasePath   string   `env:"DATABASE_PATH,default=pxe.db"`
	Port           int      `env:"PORT,default=8000"`
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
	LogFormat      string   `env:"LOG_FORMAT,default=console"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	NATSURL        string   `env:"NATS_URL"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	AdminRateLimit int      `env:"ADMIN_RATE_LIMIT,default=120"`
}

// RequiredError reports a required variable that is unset or blank.
type RequiredError struct {
	Name string
}

func (e *RequiredError) Error() string {
	return "required env var is not set: " + e.Name
}

// LoadDotEnv loads variables from a .env file in the working directory when
// one exists. Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load returns a Config populated from environment variables. It does not
// check required variables; call Validate before serving.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith is Load reading from an arbitrary lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	for _, field := range []*string{
		&c.KernelURL, &c.InitrdURL, &c.AutoinstallURL, &c.BaseURL, &c.BootBaseURL,
		&c.AdminAPIKey, &c.DatabasePath, &c.LogLevel, &c.LogFormat, &c.OTLPEndpoint, &c.NATSURL,
	} {
		*field = strings.TrimSpace(*field)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "pxe.db"
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	origins := c.AllowedOrigins[:0]
	for _, origin := range c.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.AllowedOrigins = origins
}

// Validate checks everything the HTTP service needs. The first missing
// required variable is reported as a *RequiredError.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"PXE_UBUNTU_KERNEL_URL", c.KernelURL},
		{"PXE_UBUNTU_INITRD_URL", c.InitrdURL},
		{"PXE_AUTOINSTALL_URL", c.AutoinstallURL},
		{"PXE_BASE_URL", c.BaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return &RequiredError{Name: r.name}
		}
	}

	for _, u := range []struct {
		name  string
		value string
	}{
		{"PXE_BASE_URL", c.BaseURL},
		{"PXE_BOOT_BASE_URL", c.BootBaseURL},
	} {
		if u.value == "" {
			continue
		}
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid %s: %q", u.name, u.value)
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.AdminRateLimit < 0 {
		return fmt.Errorf("invalid ADMIN_RATE_LIMIT: %d", c.AdminRateLimit)
	}
	return c.validateLogging()
}

func (c Config) validateLogging() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %q", c.LogLevel)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q", c.LogFormat)
	}
}

// ValidateStorage checks the subset of settings needed by commands that only
// touch the database.
func (c Config) ValidateStorage() error {
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is empty")
	}
	return c.validateLogging()
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ChainBase is the base URL the chain script sends machines to.
func (c Config) ChainBase() string {
	if c.BootBaseURL != "" {
		return c.BootBaseURL
	}
	return c.BaseURL
}

// InstallerURLs returns the templates used to build installer scripts.
func (c Config) InstallerURLs() ipxe.InstallerURLs {
	return ipxe.InstallerURLs{
		Kernel:      c.KernelURL,
		Initrd:      c.InitrdURL,
		Autoinstall: c.AutoinstallURL,
	}
}

// AdminAuthEnabled reports whether admin routes require a bearer token.
func (c Config) AdminAuthEnabled() bool {
	return c.AdminAPIKey != ""
}
