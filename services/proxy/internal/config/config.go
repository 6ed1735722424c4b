package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"studyreader/pkg/ai"
)

// ConfigPath is the default config file, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	Provider              string `yaml:"provider"`
	Model                 string `yaml:"model"`
	APIKey                string `yaml:"apiKey"`
	BaseURL               string `yaml:"baseURL"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`

	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`

	InternalJWTPublicKeyPath string   `yaml:"internalJwtPublicKeyPath"`
	InternalJWTKeyID         string   `yaml:"internalJwtKeyId"`
	InternalJWTIssuers       []string `yaml:"internalJwtIssuers"`

	CORSOrigins []string `yaml:"corsOrigins"`
}

// ProviderConfig returns the upstream model selection.
func (c FileConfig) ProviderConfig() ai.ProviderConfig {
	return ai.ProviderConfig{
		Provider: c.Provider,
		Model:    c.Model,
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
	}
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PROXY_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("PROXY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PROXY_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("PROXY_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("PROXY_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PROXY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if cfg.APIKey == "" {
		cfg.APIKey = providerKeyFromEnv(cfg.Provider)
	}
	if v := os.Getenv("PROXY_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("PROXY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PROXY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("PROXY_INTERNAL_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.InternalJWTPublicKeyPath = v
	}
	if v := os.Getenv("PROXY_INTERNAL_JWT_ISSUERS"); v != "" {
		cfg.InternalJWTIssuers = splitCSV(v)
	}
	if v := os.Getenv("PROXY_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if cfg.Provider == "" {
		cfg.Provider = ai.ProviderAnthropic
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// providerKeyFromEnv reads the conventional key variable of each provider.
func providerKeyFromEnv(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ai.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ai.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case ai.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ai.ProviderAnthropic, ai.ProviderGemini, ai.ProviderOllama, ai.ProviderOpenAI:
	default:
		return fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.RateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when rateLimitPerMinute is set (set in config.yaml or REDIS_ADDR)")
	}
	if strings.TrimSpace(cfg.InternalJWTPublicKeyPath) != "" && len(cfg.InternalJWTIssuers) == 0 {
		return errors.New("config: internalJwtIssuers is required when internalJwtPublicKeyPath is set")
	}
	if cfg.RequestTimeoutSeconds < 0 {
		return errors.New("config: requestTimeoutSeconds must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
