package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	CatalogPath string

	StoreBackend string // "sqlite" or "postgres"
	StoreDSN     string

	VaultEnabled bool

	// Async submission queue. Empty disables POST /v1/jobs?async.
	QueueBackend      string // "", "memory" or "redis"
	QueueName         string
	RedisURL          string
	EmbeddedWorker    bool
	WorkerConcurrency int

	// Provider adapters.
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	AnthropicAPIKey      string
	AnthropicBaseURL     string
	OllamaBaseURL        string
	OllamaMatchThreshold float64

	ProviderConnectTimeoutSecs  int
	ProviderResponseTimeoutSecs int

	// Integration back ends. An empty base URL leaves that system
	// unregistered and jobs targeting it fail routing validation.
	MailBaseURL       string
	CRMBaseURL        string
	DocsBaseURL       string
	RecruitingBaseURL string

	// Bearer token for integration calls. A static token wins; otherwise
	// the client-credential settings drive the refreshing token cache.
	IntegrationToken        string
	IntegrationTokenURL     string
	IntegrationClientID     string
	IntegrationClientSecret string

	DedupeTTLSecs    int
	DedupeMaxEntries int

	// Security & hardening.
	AdminToken     string   // required for /admin/v1 access in production
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// OpenTelemetry tracing.
	OTELEnabled  bool
	OTELEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:  getEnv("PENNYROUTE_LISTEN_ADDR", ":8080"),
		LogLevel:    getEnv("PENNYROUTE_LOG_LEVEL", "info"),
		CatalogPath: getEnv("PENNYROUTE_CATALOG_PATH", "catalog.yaml"),

		StoreBackend: getEnv("PENNYROUTE_STORE_BACKEND", "sqlite"),
		StoreDSN:     getEnv("PENNYROUTE_STORE_DSN", "file:/data/pennyroute.sqlite"),

		VaultEnabled: getEnvBool("PENNYROUTE_VAULT_ENABLED", true),

		QueueBackend:      getEnv("PENNYROUTE_QUEUE_BACKEND", ""),
		QueueName:         getEnv("PENNYROUTE_QUEUE_NAME", "pennyroute:jobs"),
		RedisURL:          getEnv("PENNYROUTE_REDIS_URL", "redis://localhost:6379/0"),
		EmbeddedWorker:    getEnvBool("PENNYROUTE_EMBEDDED_WORKER", true),
		WorkerConcurrency: getEnvInt("PENNYROUTE_WORKER_CONCURRENCY", 4),

		OpenAIAPIKey:         getEnv("PENNYROUTE_OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("PENNYROUTE_OPENAI_BASE_URL", "https://api.openai.com"),
		AnthropicAPIKey:      getEnv("PENNYROUTE_ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:     getEnv("PENNYROUTE_ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		OllamaBaseURL:        getEnv("PENNYROUTE_OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaMatchThreshold: getEnvFloat("PENNYROUTE_OLLAMA_MATCH_THRESHOLD", 0.6),

		ProviderConnectTimeoutSecs:  getEnvInt("PENNYROUTE_PROVIDER_CONNECT_TIMEOUT_SECS", 5),
		ProviderResponseTimeoutSecs: getEnvInt("PENNYROUTE_PROVIDER_RESPONSE_TIMEOUT_SECS", 120),

		MailBaseURL:       getEnv("PENNYROUTE_MAIL_BASE_URL", ""),
		CRMBaseURL:        getEnv("PENNYROUTE_CRM_BASE_URL", ""),
		DocsBaseURL:       getEnv("PENNYROUTE_DOCS_BASE_URL", ""),
		RecruitingBaseURL: getEnv("PENNYROUTE_RECRUITING_BASE_URL", ""),

		IntegrationToken:        getEnv("PENNYROUTE_INTEGRATION_TOKEN", ""),
		IntegrationTokenURL:     getEnv("PENNYROUTE_INTEGRATION_TOKEN_URL", ""),
		IntegrationClientID:     getEnv("PENNYROUTE_INTEGRATION_CLIENT_ID", ""),
		IntegrationClientSecret: getEnv("PENNYROUTE_INTEGRATION_CLIENT_SECRET", ""),

		DedupeTTLSecs:    getEnvInt("PENNYROUTE_DEDUPE_TTL_SECS", 600),
		DedupeMaxEntries: getEnvInt("PENNYROUTE_DEDUPE_MAX_ENTRIES", 4096),

		AdminToken:     getEnv("PENNYROUTE_ADMIN_TOKEN", ""),
		CORSOrigins:    getEnvStringSlice("PENNYROUTE_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("PENNYROUTE_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("PENNYROUTE_RATE_LIMIT_BURST", 120),

		TemporalEnabled:   getEnvBool("PENNYROUTE_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("PENNYROUTE_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("PENNYROUTE_TEMPORAL_NAMESPACE", "pennyroute"),
		TemporalTaskQueue: getEnv("PENNYROUTE_TEMPORAL_TASK_QUEUE", "pennyroute-jobs"),

		OTELEnabled:  getEnvBool("PENNYROUTE_OTEL_ENABLED", false),
		OTELEndpoint: getEnv("PENNYROUTE_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("PENNYROUTE_STORE_BACKEND must be sqlite or postgres, got %q", c.StoreBackend)
	}
	switch c.QueueBackend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("PENNYROUTE_QUEUE_BACKEND must be empty, memory or redis, got %q", c.QueueBackend)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("PENNYROUTE_WORKER_CONCURRENCY must be > 0, got %d", c.WorkerConcurrency)
	}
	if c.OllamaMatchThreshold <= 0 || c.OllamaMatchThreshold > 1 {
		return fmt.Errorf("PENNYROUTE_OLLAMA_MATCH_THRESHOLD must be in (0, 1], got %f", c.OllamaMatchThreshold)
	}
	if c.ProviderConnectTimeoutSecs <= 0 {
		return fmt.Errorf("PENNYROUTE_PROVIDER_CONNECT_TIMEOUT_SECS must be > 0, got %d", c.ProviderConnectTimeoutSecs)
	}
	if c.ProviderResponseTimeoutSecs <= 0 {
		return fmt.Errorf("PENNYROUTE_PROVIDER_RESPONSE_TIMEOUT_SECS must be > 0, got %d", c.ProviderResponseTimeoutSecs)
	}
	if c.DedupeTTLSecs <= 0 {
		return fmt.Errorf("PENNYROUTE_DEDUPE_TTL_SECS must be > 0, got %d", c.DedupeTTLSecs)
	}
	if c.DedupeMaxEntries <= 0 {
		return fmt.Errorf("PENNYROUTE_DEDUPE_MAX_ENTRIES must be > 0, got %d", c.DedupeMaxEntries)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("PENNYROUTE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("PENNYROUTE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
