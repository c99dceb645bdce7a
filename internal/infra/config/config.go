package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"permgate/internal/domain"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "PERMGATE"

// Config is the top-level permgate configuration.
type Config struct {
	Includes  []string         `yaml:"includes,omitempty"`
	Logger    LoggerConfig     `yaml:"logger"`
	Tracer    TracerConfig     `yaml:"tracer"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Providers ProvidersConfig  `yaml:"providers"`
	Feeds     FeedsConfig      `yaml:"feeds"`
	Features  []FeatureConfig  `yaml:"features,omitempty"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string   `yaml:"token"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// RateLimitConfig bounds REST requests per client IP. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ProvidersConfig configures the built-in permission providers.
type ProvidersConfig struct {
	Login    LoginProviderConfig    `yaml:"login"`
	Platform PlatformProviderConfig `yaml:"platform"`
	PIP      PIPProviderConfig      `yaml:"pip"`
}

// LoginProviderConfig locates the session cookie.
type LoginProviderConfig struct {
	CookieFile string `yaml:"cookie_file"`
	URL        string `yaml:"url"`
	Cookie     string `yaml:"cookie"`
}

// PlatformProviderConfig locates the platform grant store backing the
// notifications and downloads permissions.
type PlatformProviderConfig struct {
	GrantsFile string `yaml:"grants_file"`
}

// PIPProviderConfig selects the picture-in-picture probe.
type PIPProviderConfig struct {
	Probe        string        `yaml:"probe"` // "chromedp" or "static"
	StaticResult bool          `yaml:"static_result"`
	RemoteURL    string        `yaml:"remote_url,omitempty"`
	Headless     bool          `yaml:"headless"`
	Timeout      time.Duration `yaml:"timeout"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the probe circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// FeedsConfig configures the external change feeds.
type FeedsConfig struct {
	Cookies     CookieFeedConfig `yaml:"cookies"`
	Grants      GrantFeedConfig  `yaml:"grants"`
	Debounce    time.Duration    `yaml:"debounce"`
	MinInterval time.Duration    `yaml:"min_interval"`
}

// CookieFeedConfig filters the cookie-change feed to the session cookie.
type CookieFeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Domain  string `yaml:"domain"`
}

// GrantFeedConfig toggles the capability-granted feed.
type GrantFeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// FeatureConfig declares a feature for the CLI to register.
type FeatureConfig struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// ScheduleConfig declares a timed recheck. Schedule is a cron expression
// or a duration such as "5m".
type ScheduleConfig struct {
	Name        string   `yaml:"name"`
	Schedule    string   `yaml:"schedule"`
	Action      string   `yaml:"action"` // "recheck" or "recheck_all"
	Permissions []string `yaml:"permissions,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns $HOME/.permgate, or ./.permgate when $HOME is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".permgate"
	}
	return filepath.Join(home, ".permgate")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8790",
		},
		Providers: ProvidersConfig{
			Login: LoginProviderConfig{
				CookieFile: filepath.Join(dataDir, "cookies.txt"),
				URL:        "http://interface.bilibili.com/",
				Cookie:     "DedeUserID",
			},
			Platform: PlatformProviderConfig{
				GrantsFile: filepath.Join(dataDir, "grants.yaml"),
			},
			PIP: PIPProviderConfig{
				Probe:    "static",
				Headless: true,
				Timeout:  15 * time.Second,
			},
		},
		Feeds: FeedsConfig{
			Cookies: CookieFeedConfig{
				Enabled: true,
				Name:    "bili_jct",
				Domain:  ".bilibili.com",
			},
			Grants:      GrantFeedConfig{Enabled: true},
			Debounce:    100 * time.Millisecond,
			MinInterval: time.Second,
		},
		// Cookie expiry changes no file, so nothing else would notice it.
		Schedules: []ScheduleConfig{
			{Name: "login-expiry", Schedule: "5m", Action: "recheck", Permissions: []string{"login"}},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts
// secrets and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := ApplyEnvOverrides(cfg); err != nil {
				return nil, err
			}
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config (second pass): %v", domain.ErrConfigLoad, err)
		}
		cfg.Includes = nil
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if passphrase := os.Getenv(EnvPrefix + "_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envOverrides lists the PERMGATE_* variables. Empty values leave the
// corresponding config field untouched.
type envOverrides struct {
	LoggerLevel    string        `envconfig:"LOGGER_LEVEL"`
	LoggerFormat   string        `envconfig:"LOGGER_FORMAT"`
	LoggerOutput   string        `envconfig:"LOGGER_OUTPUT"`
	TracerEnabled  string        `envconfig:"TRACER_ENABLED"`
	TracerExporter string        `envconfig:"TRACER_EXPORTER"`
	GatewayEnabled string        `envconfig:"GATEWAY_ENABLED"`
	GatewayAddr    string        `envconfig:"GATEWAY_ADDR"`
	GatewayTokens  string        `envconfig:"GATEWAY_TOKENS"`
	CookieFile     string        `envconfig:"COOKIE_FILE"`
	GrantsFile     string        `envconfig:"GRANTS_FILE"`
	PIPProbe       string        `envconfig:"PIP_PROBE"`
	PIPRemoteURL   string        `envconfig:"PIP_REMOTE_URL"`
	MinInterval    time.Duration `envconfig:"FEEDS_MIN_INTERVAL"`
}

// ApplyEnvOverrides maps PERMGATE_* env vars onto cfg.
func ApplyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("%w: env overrides: %v", domain.ErrConfigLoad, err)
	}

	setString(&cfg.Logger.Level, env.LoggerLevel)
	setString(&cfg.Logger.Format, env.LoggerFormat)
	setString(&cfg.Logger.Output, env.LoggerOutput)
	setString(&cfg.Tracer.Exporter, env.TracerExporter)
	setString(&cfg.Gateway.Addr, env.GatewayAddr)
	setString(&cfg.Providers.Login.CookieFile, env.CookieFile)
	setString(&cfg.Providers.Platform.GrantsFile, env.GrantsFile)
	setString(&cfg.Providers.PIP.Probe, env.PIPProbe)
	setString(&cfg.Providers.PIP.RemoteURL, env.PIPRemoteURL)

	if err := setBool(&cfg.Tracer.Enabled, "TRACER_ENABLED", env.TracerEnabled); err != nil {
		return err
	}
	if err := setBool(&cfg.Gateway.Enabled, "GATEWAY_ENABLED", env.GatewayEnabled); err != nil {
		return err
	}
	if env.MinInterval > 0 {
		cfg.Feeds.MinInterval = env.MinInterval
	}

	// PERMGATE_GATEWAY_TOKENS: "name:token,name2:token2"
	if env.GatewayTokens != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = nil
		for _, pair := range splitAndTrim(env.GatewayTokens, ",") {
			name, token, ok := strings.Cut(pair, ":")
			if !ok || token == "" {
				return fmt.Errorf("%w: %s_GATEWAY_TOKENS entry %q is not name:token", domain.ErrConfigLoad, EnvPrefix, pair)
			}
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
				Name:  strings.TrimSpace(name),
				Token: strings.TrimSpace(token),
			})
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key, v string) error {
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s_%s=%q: %v", domain.ErrConfigLoad, EnvPrefix, key, v, err)
	}
	*dst = b
	return nil
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." gateway tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Gateway.Auth.Tokens {
		tok := cfg.Gateway.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
			}
			cfg.Gateway.Auth.Tokens[i].Token = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	// Allow 0600 and 0644 (readable by others but not writable).
	if mode := info.Mode().Perm(); mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
