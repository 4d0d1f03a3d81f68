package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "APP_ENV", "ENVIRONMENT", "GO_ENV", "LOG_LEVEL",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_NUMBER",
	"TWILIO_VALIDATE_SIGNATURE", "PUBLIC_BASE_URL", "ALLOWED_PHONE_NUMBERS",
	"STORE_BACKEND", "REDIS_URL", "DATABASE_URL", "SESSION_TTL", "SESSION_TTL_HOURS",
	"STORE_TIMEOUT", "STORE_SWEEP_INTERVAL", "AUTO_MIGRATE",
	"AUTOCODER_MCP_URL", "AUTOCODER_API_KEY", "BACKEND_TIMEOUT",
	"MAX_MESSAGE_LENGTH", "SERIALIZE_PER_SENDER", "OPS_FEED_TOKEN",
	"WS_ALLOWED_ORIGINS", "RELAY_CONFIG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "4200", cfg.Port)
	require.Equal(t, defaultEnvironment, cfg.Environment)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, "info", cfg.LogLevel)
	require.True(t, cfg.Twilio.ValidateSignature)
	require.Empty(t, cfg.Twilio.AllowedNumbers)
	require.Equal(t, "redis", cfg.Store.Backend)
	require.Equal(t, defaultRedisURL, cfg.Store.RedisURL)
	require.Equal(t, 24*time.Hour, cfg.Store.SessionTTL)
	require.Equal(t, 2*time.Second, cfg.Store.Timeout)
	require.Equal(t, "10m", cfg.Store.SweepSchedule)
	require.False(t, cfg.Store.AutoMigrate)
	require.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	require.Equal(t, 1600, cfg.MaxMessageLength)
	require.False(t, cfg.SerializePerSender)
}

func TestLoadParsesSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ALLOWED_PHONE_NUMBERS", " whatsapp:+15550001234, +15550009999 ,,")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/relay")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("STORE_TIMEOUT", "500ms")
	t.Setenv("STORE_SWEEP_INTERVAL", "*/5 * * * *")
	t.Setenv("AUTOCODER_MCP_URL", "wss://autocoder.example.com/mcp")
	t.Setenv("BACKEND_TIMEOUT", "10s")
	t.Setenv("MAX_MESSAGE_LENGTH", "400")
	t.Setenv("SERIALIZE_PER_SENDER", "yes")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "off")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"whatsapp:+15550001234", "+15550009999"}, cfg.Twilio.AllowedNumbers)
	require.False(t, cfg.Twilio.ValidateSignature)
	require.Equal(t, "postgres", cfg.Store.Backend)
	require.Equal(t, 2*time.Hour, cfg.Store.SessionTTL)
	require.Equal(t, 500*time.Millisecond, cfg.Store.Timeout)
	require.Equal(t, "*/5 * * * *", cfg.Store.SweepSchedule)
	require.Equal(t, "wss://autocoder.example.com/mcp", cfg.Backend.MCPURL)
	require.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	require.Equal(t, 400, cfg.MaxMessageLength)
	require.True(t, cfg.SerializePerSender)
}

func TestLoadSessionTTLHoursCompatibility(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_TTL_HOURS", "48")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, cfg.Store.SessionTTL)

	t.Setenv("SESSION_TTL", "1h")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, time.Hour, cfg.Store.SessionTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad bool", env: map[string]string{"SERIALIZE_PER_SENDER": "maybe"}, wantErr: "SERIALIZE_PER_SENDER must be a boolean"},
		{name: "bad duration", env: map[string]string{"STORE_TIMEOUT": "soon"}, wantErr: "STORE_TIMEOUT must be a valid duration"},
		{name: "zero duration", env: map[string]string{"BACKEND_TIMEOUT": "0s"}, wantErr: "BACKEND_TIMEOUT must be greater than zero"},
		{name: "bad int", env: map[string]string{"MAX_MESSAGE_LENGTH": "lots"}, wantErr: "MAX_MESSAGE_LENGTH must be a valid integer"},
		{name: "tiny max length", env: map[string]string{"MAX_MESSAGE_LENGTH": "10"}, wantErr: "MAX_MESSAGE_LENGTH must be at least"},
		{name: "negative ttl hours", env: map[string]string{"SESSION_TTL_HOURS": "-1"}, wantErr: "SESSION_TTL_HOURS"},
		{name: "unknown backend", env: map[string]string{"STORE_BACKEND": "etcd"}, wantErr: "STORE_BACKEND must be one of"},
		{name: "postgres without url", env: map[string]string{"STORE_BACKEND": "postgres"}, wantErr: "DATABASE_URL is required"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}, wantErr: "LOG_LEVEL"},
		{name: "bad mcp url", env: map[string]string{"AUTOCODER_MCP_URL": "ftp://x"}, wantErr: "AUTOCODER_MCP_URL must be"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateNonDevelopment(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTOCODER_MCP_URL", "https://autocoder.example.com/mcp")

	_, err := Load()
	require.ErrorContains(t, err, "TWILIO_AUTH_TOKEN is required")

	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.IsDevelopment())

	t.Setenv("STORE_BACKEND", "memory")
	_, err = Load()
	require.ErrorContains(t, err, "STORE_BACKEND=memory")

	t.Setenv("STORE_BACKEND", "")
	t.Setenv("AUTOCODER_MCP_URL", "")
	_, err = Load()
	require.ErrorContains(t, err, "AUTOCODER_MCP_URL is required")
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"port: 9000",
		"STORE_BACKEND: memory",
		"serialize_per_sender: true",
		"max_message_length: 800",
		"allowed_phone_numbers:",
		"  - whatsapp:+15550001234",
		"  - \"+15550009999\"",
	}, "\n")), 0o600))

	t.Setenv("RELAY_CONFIG_FILE", path)
	t.Setenv("PORT", "7000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Port, "environment wins over the overlay")
	require.Equal(t, "memory", cfg.Store.Backend)
	require.True(t, cfg.SerializePerSender)
	require.Equal(t, 800, cfg.MaxMessageLength)
	require.Equal(t, []string{"whatsapp:+15550001234", "+15550009999"}, cfg.Twilio.AllowedNumbers)
}

func TestLoadYAMLOverlayErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.ErrorContains(t, err, "RELAY_CONFIG_FILE")

	path := filepath.Join(t.TempDir(), "nested.yaml")
	require.NoError(t, os.WriteFile(path, []byte("twilio:\n  auth_token: x\n"), 0o600))
	t.Setenv("RELAY_CONFIG_FILE", path)
	_, err = Load()
	require.ErrorContains(t, err, "must be a scalar or list")
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"# comment",
		"RELAY_DOTENV_A=\"from file\"",
		"export RELAY_DOTENV_B='quoted'",
		"RELAY_DOTENV_C=file",
		"not a pair",
	}, "\n")), 0o600))

	t.Setenv("RELAY_DOTENV_A", "")
	t.Setenv("RELAY_DOTENV_B", "")
	t.Setenv("RELAY_DOTENV_C", "from env")

	loadDotEnv(path)

	require.Equal(t, "from file", os.Getenv("RELAY_DOTENV_A"))
	require.Equal(t, "quoted", os.Getenv("RELAY_DOTENV_B"))
	require.Equal(t, "from env", os.Getenv("RELAY_DOTENV_C"))
}
