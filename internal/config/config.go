package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samhotchkiss/otter-relay/internal/reply"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = unquote(strings.TrimSpace(val))
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

func unquote(val string) string {
	if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
		return val[1 : len(val)-1]
	}
	return val
}

const (
	defaultPort             = "4200"
	defaultEnvironment      = "development"
	defaultLogLevel         = "info"
	defaultStoreBackend     = "redis"
	defaultRedisURL         = "redis://localhost:6379/0"
	defaultSessionTTL       = 24 * time.Hour
	defaultStoreTimeout     = 2 * time.Second
	defaultSweepSchedule    = "10m"
	defaultBackendTimeout   = 30 * time.Second
	defaultMaxMessageLength = 1600

)

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	ValidateSignature bool
	PublicBaseURL     string
	AllowedNumbers    []string
}

type StoreConfig struct {
	Backend     string
	RedisURL    string
	DatabaseURL string
	SessionTTL  time.Duration
	Timeout     time.Duration
	// SweepSchedule is a duration or cron expression for the expiry sweeper.
	SweepSchedule string
	AutoMigrate   bool
}

type BackendConfig struct {
	// MCPURL is the AutoCoder endpoint: http(s):// or ws(s)://. Empty in
	// development selects the in-process stub.
	MCPURL  string
	APIKey  string
	Timeout time.Duration
}

type Config struct {
	Port               string
	Environment        string
	LogLevel           string
	Twilio             TwilioConfig
	Store              StoreConfig
	Backend            BackendConfig
	MaxMessageLength   int
	SerializePerSender bool
	OpsFeedToken       string
	WSAllowedOrigins   []string
}

// source resolves keys from the environment first and the YAML overlay
// second.
type source struct {
	overlay map[string]string
}

func (s source) get(name string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return strings.TrimSpace(s.overlay[name])
}

func Load() (Config, error) {
	overlay, err := loadOverlay(strings.TrimSpace(os.Getenv("RELAY_CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}
	src := source{overlay: overlay}

	cfg := Config{
		Port:        firstNonEmpty(src.get("PORT"), defaultPort),
		Environment: resolveEnvironment(src),
		LogLevel:    strings.ToLower(firstNonEmpty(src.get("LOG_LEVEL"), defaultLogLevel)),
		Twilio: TwilioConfig{
			AccountSID:     src.get("TWILIO_ACCOUNT_SID"),
			AuthToken:      src.get("TWILIO_AUTH_TOKEN"),
			PhoneNumber:    src.get("TWILIO_PHONE_NUMBER"),
			PublicBaseURL:  src.get("PUBLIC_BASE_URL"),
			AllowedNumbers: splitList(src.get("ALLOWED_PHONE_NUMBERS")),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(firstNonEmpty(src.get("STORE_BACKEND"), defaultStoreBackend)),
			RedisURL:      firstNonEmpty(src.get("REDIS_URL"), defaultRedisURL),
			DatabaseURL:   src.get("DATABASE_URL"),
			SweepSchedule: firstNonEmpty(src.get("STORE_SWEEP_INTERVAL"), defaultSweepSchedule),
		},
		Backend: BackendConfig{
			MCPURL: src.get("AUTOCODER_MCP_URL"),
			APIKey: src.get("AUTOCODER_API_KEY"),
		},
		OpsFeedToken:     src.get("OPS_FEED_TOKEN"),
		WSAllowedOrigins: splitList(src.get("WS_ALLOWED_ORIGINS")),
	}

	if cfg.Twilio.ValidateSignature, err = src.parseBool("TWILIO_VALIDATE_SIGNATURE", true); err != nil {
		return Config{}, err
	}
	if cfg.Store.SessionTTL, err = src.parseSessionTTL(); err != nil {
		return Config{}, err
	}
	if cfg.Store.Timeout, err = src.parseDuration("STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Store.AutoMigrate, err = src.parseBool("AUTO_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.Backend.Timeout, err = src.parseDuration("BACKEND_TIMEOUT", defaultBackendTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageLength, err = src.parseInt("MAX_MESSAGE_LENGTH", defaultMaxMessageLength); err != nil {
		return Config{}, err
	}
	if cfg.SerializePerSender, err = src.parseBool("SERIALIZE_PER_SENDER", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be one of redis, postgres, memory")
	}

	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be greater than zero")
	}

	if c.MaxMessageLength < reply.MinMaxLength {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be at least %d", reply.MinMaxLength)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	if url := strings.ToLower(c.Backend.MCPURL); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") &&
			!strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("AUTOCODER_MCP_URL must be an http(s):// or ws(s):// URL")
		}
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		return fmt.Errorf("TWILIO_AUTH_TOKEN is required when signature validation is enabled in non-development environments")
	}

	if c.Backend.MCPURL == "" {
		return fmt.Errorf("AUTOCODER_MCP_URL is required in non-development environments")
	}

	if c.Store.Backend == "memory" {
		return fmt.Errorf("STORE_BACKEND=memory is not allowed in non-development environments")
	}

	return nil
}

// IsDevelopment reports whether the environment is a local one.
func (c Config) IsDevelopment() bool {
	return !isNonDevelopment(c.Environment)
}

func loadOverlay(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read RELAY_CONFIG_FILE: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse RELAY_CONFIG_FILE: %w", err)
	}

	overlay := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			overlay[strings.ToUpper(key)] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("RELAY_CONFIG_FILE key %s must be a scalar or list", key)
		default:
			overlay[strings.ToUpper(key)] = fmt.Sprint(v)
		}
	}
	return overlay, nil
}

func resolveEnvironment(src source) string {
	return strings.ToLower(firstNonEmpty(
		src.get("APP_ENV"),
		src.get("ENVIRONMENT"),
		src.get("GO_ENV"),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func (s source) parseSessionTTL() (time.Duration, error) {
	if s.get("SESSION_TTL") != "" {
		return s.parseDuration("SESSION_TTL", defaultSessionTTL)
	}
	hours, err := s.parseInt("SESSION_TTL_HOURS", 0)
	if err != nil {
		return 0, err
	}
	if hours < 0 {
		return 0, fmt.Errorf("SESSION_TTL_HOURS must be greater than zero")
	}
	if hours > 0 {
		return time.Duration(hours) * time.Hour, nil
	}
	return defaultSessionTTL, nil
}

func (s source) parseBool(name string, defaultValue bool) (bool, error) {
	raw := s.get(name)
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean value", name)
	}
}

func (s source) parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := s.get(name)
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}

	return parsed, nil
}

func (s source) parseInt(name string, defaultValue int) (int, error) {
	raw := s.get(name)
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
