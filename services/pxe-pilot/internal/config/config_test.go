package config

import (
	"context"
	"errors"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"PXE_UBUNTU_KERNEL_URL": "http://mirror/vmlinuz",
		"PXE_UBUNTU_INITRD_URL": "http://mirror/initrd",
		"PXE_AUTOINSTALL_URL":   "http://pxe/autoinstall/${mac}",
		"PXE_BASE_URL":          "http://pxe:8000",
	}
}

func load(t *testing.T, env map[string]string) Config {
	t.Helper()
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(env))
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := load(t, baseEnv())

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "pxe.db", cfg.DatabasePath)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, LogFormatConsole, cfg.LogFormat)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 120, cfg.AdminRateLimit)
	assert.False(t, cfg.AdminAuthEnabled())
	assert.Equal(t, "http://pxe:8000", cfg.ChainBase())
	assert.Equal(t, "http://pxe/autoinstall/${mac}", cfg.InstallerURLs().Autoinstall)
}

func TestLoadTrimsValues(t *testing.T) {
	env := baseEnv()
	env["PXE_BASE_URL"] = "  http://pxe:8000/ \n"
	env["ADMIN_API_KEY"] = "  secret  "
	env["DATABASE_PATH"] = "   "
	env["LOG_FORMAT"] = " JSON "
	env["CORS_ALLOWED_ORIGINS"] = "http://a, ,http://b"

	cfg := load(t, env)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://pxe:8000/", cfg.BaseURL)
	assert.Equal(t, "secret", cfg.AdminAPIKey)
	assert.True(t, cfg.AdminAuthEnabled())
	assert.Equal(t, "pxe.db", cfg.DatabasePath)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(env map[string]string)
		required string
		wantErr  bool
	}{
		{
			name:   "complete",
			mutate: func(map[string]string) {},
		},
		{
			name:     "missing kernel",
			mutate:   func(env map[string]string) { delete(env, "PXE_UBUNTU_KERNEL_URL") },
			required: "PXE_UBUNTU_KERNEL_URL",
		},
		{
			name:     "blank initrd",
			mutate:   func(env map[string]string) { env["PXE_UBUNTU_INITRD_URL"] = "   " },
			required: "PXE_UBUNTU_INITRD_URL",
		},
		{
			name:     "missing autoinstall",
			mutate:   func(env map[string]string) { env["PXE_AUTOINSTALL_URL"] = "" },
			required: "PXE_AUTOINSTALL_URL",
		},
		{
			name:     "missing base",
			mutate:   func(env map[string]string) { delete(env, "PXE_BASE_URL") },
			required: "PXE_BASE_URL",
		},
		{
			name:    "relative base",
			mutate:  func(env map[string]string) { env["PXE_BASE_URL"] = "pxe:8000" },
			wantErr: true,
		},
		{
			name:    "bad boot base",
			mutate:  func(env map[string]string) { env["PXE_BOOT_BASE_URL"] = "/boot" },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(env map[string]string) { env["PORT"] = "70000" },
			wantErr: true,
		},
		{
			name:    "negative rate limit",
			mutate:  func(env map[string]string) { env["ADMIN_RATE_LIMIT"] = "-1" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(env map[string]string) { env["LOG_LEVEL"] = "loud" },
			wantErr: true,
		},
		{
			name:    "unknown log format",
			mutate:  func(env map[string]string) { env["LOG_FORMAT"] = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			tt.mutate(env)
			err := load(t, env).Validate()

			switch {
			case tt.required != "":
				var reqErr *RequiredError
				require.True(t, errors.As(err, &reqErr), "got %v", err)
				assert.Equal(t, tt.required, reqErr.Name)
				assert.EqualError(t, err, "required env var is not set: "+tt.required)
			case tt.wantErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "eighty"
	_, err := LoadWith(context.Background(), envconfig.MapLookuper(env))
	assert.Error(t, err)
}

func TestChainBasePrefersBootBase(t *testing.T) {
	env := baseEnv()
	env["PXE_BOOT_BASE_URL"] = "http://boot.internal"
	cfg := load(t, env)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://boot.internal", cfg.ChainBase())
}

func TestValidateStorageIgnoresBootSettings(t *testing.T) {
	cfg := load(t, map[string]string{"DATABASE_PATH": "/var/lib/pxe.db"})
	assert.Error(t, cfg.Validate())
	assert.NoError(t, cfg.ValidateStorage())
}
