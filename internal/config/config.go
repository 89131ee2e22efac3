package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the PaperForge server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Retrieval RetrievalConfig
	Quality   QualityConfig
	Dispatch  DispatchConfig
	Notify    NotifyConfig
	Export    ExportConfig
	Webhook   WebhookConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type RetrievalConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// QualityConfig is the regeneration policy plus the external check settings.
// It can be loaded from a TOML file; environment variables take precedence.
type QualityConfig struct {
	MaxRegenerations    int         `toml:"max_regenerations"`
	BaseTemperature     float64     `toml:"base_temperature"`
	TemperatureStep     float64     `toml:"temperature_step"`
	HumanizeTemperature float64     `toml:"humanize_temperature"`
	Grammar             CheckConfig `toml:"grammar"`
	Plagiarism          CheckConfig `toml:"plagiarism"`
	AIDetection         CheckConfig `toml:"ai_detection"`
}

// CheckConfig configures one external quality check. Threshold semantics are
// check specific: max error rate per 100 words for grammar, min uniqueness
// percent for plagiarism, max probability for AI detection.
type CheckConfig struct {
	Mode      string  `toml:"mode"`
	URL       string  `toml:"url"`
	APIKey    string  `toml:"api_key"`
	Threshold float64 `toml:"threshold"`
}

type DispatchConfig struct {
	Backend     string
	Concurrency int
	QueueSize   int
	RabbitMQURL string
	QueueName   string
}

type NotifyConfig struct {
	Backend           string
	HeartbeatInterval time.Duration
}

type ExportConfig struct {
	Dir    string
	Format string
}

type WebhookConfig struct {
	// TokenHash is the bcrypt hash of the shared payment webhook token.
	// Empty disables the webhook route.
	TokenHash string
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

var validCheckModes = map[string]bool{
	"off":    true,
	"soft":   true,
	"strict": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("PAPERFORGE_PORT", 8080),
			Env:                envString("PAPERFORGE_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			},
		},
		Retrieval: RetrievalConfig{
			BaseURL: envString("RETRIEVAL_BASE_URL", "https://api.semanticscholar.org"),
			APIKey:  os.Getenv("RETRIEVAL_API_KEY"),
			Timeout: envDuration("RETRIEVAL_TIMEOUT", 15*time.Second),
		},
		Quality: defaultQuality(),
		Dispatch: DispatchConfig{
			Backend:     envString("DISPATCH_BACKEND", "pool"),
			Concurrency: envInt("WORKER_CONCURRENCY", 4),
			QueueSize:   envInt("WORKER_QUEUE_SIZE", 64),
			RabbitMQURL: os.Getenv("RABBITMQ_URL"),
			QueueName:   envString("RABBITMQ_QUEUE", "paperforge.generation"),
		},
		Notify: NotifyConfig{
			Backend:           envString("NOTIFY_BACKEND", "local"),
			HeartbeatInterval: envDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		},
		Export: ExportConfig{
			Dir:    envString("EXPORT_DIR", "./exports"),
			Format: envString("EXPORT_FORMAT", "markdown"),
		},
		Webhook: WebhookConfig{
			TokenHash: os.Getenv("WEBHOOK_TOKEN_HASH"),
		},
	}

	if path := os.Getenv("QUALITY_POLICY_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg.Quality); err != nil {
			return nil, fmt.Errorf("decode QUALITY_POLICY_FILE %s: %w", path, err)
		}
	}
	applyQualityEnv(&cfg.Quality)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultQuality() QualityConfig {
	return QualityConfig{
		MaxRegenerations:    2,
		BaseTemperature:     0.7,
		TemperatureStep:     0.1,
		HumanizeTemperature: 0.9,
		Grammar: CheckConfig{
			Mode:      "off",
			URL:       "https://api.languagetool.org",
			Threshold: 2.0,
		},
		Plagiarism: CheckConfig{
			Mode:      "off",
			Threshold: 85,
		},
		AIDetection: CheckConfig{
			Mode:      "off",
			Threshold: 0.5,
		},
	}
}

func applyQualityEnv(q *QualityConfig) {
	q.MaxRegenerations = envInt("QUALITY_MAX_REGENERATIONS", q.MaxRegenerations)
	q.HumanizeTemperature = envFloat("HUMANIZE_TEMPERATURE", q.HumanizeTemperature)
	applyCheckEnv(&q.Grammar, "GRAMMAR_CHECK", "_MAX_ERROR_RATE")
	applyCheckEnv(&q.Plagiarism, "PLAGIARISM_CHECK", "_MIN_UNIQUENESS")
	applyCheckEnv(&q.AIDetection, "AI_DETECTION", "_MAX_PROBABILITY")
}

func applyCheckEnv(c *CheckConfig, prefix, thresholdSuffix string) {
	c.Mode = envString(prefix+"_MODE", c.Mode)
	c.URL = envString(prefix+"_URL", c.URL)
	c.APIKey = envString(prefix+"_API_KEY", c.APIKey)
	c.Threshold = envFloat(prefix+thresholdSuffix, c.Threshold)
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	if !isHTTPURL(c.Retrieval.BaseURL) {
		return fmt.Errorf("RETRIEVAL_BASE_URL must start with http:// or https://, got %q", c.Retrieval.BaseURL)
	}

	if c.Quality.MaxRegenerations < 0 {
		return fmt.Errorf("QUALITY_MAX_REGENERATIONS must be >= 0, got %d", c.Quality.MaxRegenerations)
	}
	if c.Quality.HumanizeTemperature <= 0 || c.Quality.HumanizeTemperature > 1 {
		return fmt.Errorf("HUMANIZE_TEMPERATURE must be in (0, 1], got %g", c.Quality.HumanizeTemperature)
	}
	checks := []struct {
		name string
		cfg  CheckConfig
	}{
		{"GRAMMAR_CHECK", c.Quality.Grammar},
		{"PLAGIARISM_CHECK", c.Quality.Plagiarism},
		{"AI_DETECTION", c.Quality.AIDetection},
	}
	for _, ch := range checks {
		if !validCheckModes[ch.cfg.Mode] {
			return fmt.Errorf("%s_MODE must be one of off, soft, strict; got %q", ch.name, ch.cfg.Mode)
		}
		if ch.cfg.Mode != "off" && !isHTTPURL(ch.cfg.URL) {
			return fmt.Errorf("%s_URL must be an http(s) URL when %s_MODE is %s", ch.name, ch.name, ch.cfg.Mode)
		}
	}

	switch c.Dispatch.Backend {
	case "pool":
	case "rabbitmq":
		if c.Dispatch.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when DISPATCH_BACKEND is rabbitmq")
		}
	default:
		return fmt.Errorf("DISPATCH_BACKEND must be one of pool, rabbitmq; got %q", c.Dispatch.Backend)
	}
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.Dispatch.Concurrency)
	}

	if c.Notify.Backend != "local" && c.Notify.Backend != "redis" {
		return fmt.Errorf("NOTIFY_BACKEND must be one of local, redis; got %q", c.Notify.Backend)
	}

	if c.Export.Format != "markdown" && c.Export.Format != "html" {
		return fmt.Errorf("EXPORT_FORMAT must be one of markdown, html; got %q", c.Export.Format)
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
