package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pennyroute/pennyroute/internal/catalog"
	"github.com/pennyroute/pennyroute/internal/circuitbreaker"
	"github.com/pennyroute/pennyroute/internal/events"
	"github.com/pennyroute/pennyroute/internal/health"
	"github.com/pennyroute/pennyroute/internal/httpapi"
	"github.com/pennyroute/pennyroute/internal/idempotency"
	"github.com/pennyroute/pennyroute/internal/integrations"
	"github.com/pennyroute/pennyroute/internal/logging"
	"github.com/pennyroute/pennyroute/internal/metrics"
	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/providers"
	"github.com/pennyroute/pennyroute/internal/providers/anthropic"
	"github.com/pennyroute/pennyroute/internal/providers/ollama"
	"github.com/pennyroute/pennyroute/internal/providers/openai"
	"github.com/pennyroute/pennyroute/internal/queue"
	"github.com/pennyroute/pennyroute/internal/ratelimit"
	"github.com/pennyroute/pennyroute/internal/routing"
	"github.com/pennyroute/pennyroute/internal/store"
	"github.com/pennyroute/pennyroute/internal/temporal"
	"github.com/pennyroute/pennyroute/internal/tokens"
	"github.com/pennyroute/pennyroute/internal/tracing"
	"github.com/pennyroute/pennyroute/internal/vault"
	"github.com/pennyroute/pennyroute/internal/worker"
)

type Server struct {
	cfg Config

	r      *chi.Mux
	logger *slog.Logger

	store    store.Store
	source   *catalog.Source
	vault    *vault.Vault
	bus      *events.Bus
	pipeline *pipeline.Pipeline

	prober   *health.Prober
	limiter  *ratelimit.Limiter
	dedupe   *idempotency.Cache
	queue    queue.Transport
	temporal *temporal.Manager

	workerCancel context.CancelFunc
	workerDone   chan struct{}

	traceShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	m := metrics.New()
	bus := events.NewBus()

	traceShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: "pennyroute",
	})
	if err != nil {
		return nil, err
	}

	// Open store.
	var db store.Store
	switch cfg.StoreBackend {
	case "postgres":
		db, err = store.NewPostgres(cfg.StoreDSN)
	default:
		db, err = store.NewSQLite(cfg.StoreDSN)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized",
		slog.String("backend", cfg.StoreBackend), slog.String("dsn", cfg.StoreDSN))

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VaultEnabled {
		// Restores the KDF salt and ciphertext; the vault stays locked
		// until an operator posts the master password.
		if err := v.Load(context.Background(), db); err != nil {
			logger.Warn("vault load failed", slog.String("error", err.Error()))
		}
	}

	source, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("catalog loaded",
		slog.String("path", cfg.CatalogPath), slog.Int("models", source.Table().Len()))

	router := routing.NewPolicy(source, tokens.NewEstimator())

	httpClient := providers.NewHTTPClient(
		time.Duration(cfg.ProviderConnectTimeoutSecs)*time.Second,
		time.Duration(cfg.ProviderResponseTimeoutSecs)*time.Second,
	)
	httpClient.Transport = tracing.HTTPTransport(httpClient.Transport)

	adapters := registerProviders(cfg, v, httpClient, logger)

	tracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))
	var targets []health.Probeable
	for _, a := range adapters {
		if p, ok := a.(health.Probeable); ok {
			targets = append(targets, p)
		}
	}
	prober := health.NewProber(health.DefaultProberConfig(), tracker, targets, logger)
	prober.Start()

	registry := registerIntegrations(cfg, httpClient, logger)

	pipe := pipeline.New(db, router, source, adapters, registry,
		pipeline.WithBus(bus), pipeline.WithMetrics(m))

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		store:         db,
		source:        source,
		vault:         v,
		bus:           bus,
		pipeline:      pipe,
		prober:        prober,
		traceShutdown: traceShutdown,
	}

	if err := s.setupQueue(pipe); err != nil {
		s.Close()
		return nil, err
	}

	deps := httpapi.Dependencies{
		Store:      db,
		Pipeline:   pipe,
		Source:     source,
		Adapters:   adapters,
		Health:     tracker,
		Vault:      v,
		Metrics:    m,
		EventBus:   bus,
		Queue:      s.queue,
		Dedupe:     idempotency.New(time.Duration(cfg.DedupeTTLSecs)*time.Second, cfg.DedupeMaxEntries),
		AdminToken: cfg.AdminToken,
	}
	s.dedupe = deps.Dedupe

	if cfg.TemporalEnabled {
		mgr, err := temporal.New(temporal.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, &temporal.Activities{
			Store:        db,
			Router:       router,
			Source:       source,
			Adapters:     adapters,
			Integrations: registry,
			Health:       tracker,
			Metrics:      m,
			EventBus:     bus,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := mgr.Start(); err != nil {
			mgr.Stop()
			s.Close()
			return nil, err
		}
		s.temporal = mgr
		deps.TemporalClient = mgr.Client()
		deps.TemporalTaskQueue = mgr.TaskQueue()
		deps.CircuitBreaker = circuitbreaker.New(
			circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
				logger.Warn("temporal circuit breaker state change",
					slog.String("from", from.String()), slog.String("to", to.String()))
			}))
		logger.Info("temporal enabled",
			slog.String("host", cfg.TemporalHostPort), slog.String("task_queue", cfg.TemporalTaskQueue))
	}

	s.limiter = ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimited))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.OTELEnabled {
		r.Use(tracing.Middleware())
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.limiter.Middleware)

	httpapi.MountRoutes(r, deps)
	s.r = r

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// ReloadCatalog re-reads the pricing catalog from disk. A parse error keeps
// the current table.
func (s *Server) ReloadCatalog() error {
	if err := s.source.Reload(); err != nil {
		return err
	}
	s.logger.Info("catalog reloaded", slog.Int("models", s.source.Table().Len()))
	s.bus.Publish(events.Event{Type: events.EventCatalogReloaded})
	return nil
}

func (s *Server) Close() error {
	if s.workerCancel != nil {
		s.workerCancel()
		<-s.workerDone
	}
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.dedupe != nil {
		s.dedupe.Stop()
	}
	if s.queue != nil {
		s.queue.Close()
	}
	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.traceShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// setupQueue opens the async submission transport and, when configured,
// starts the embedded queue worker.
func (s *Server) setupQueue(pipe *pipeline.Pipeline) error {
	switch s.cfg.QueueBackend {
	case "":
		return nil
	case "memory":
		s.queue = queue.NewMemory(256)
	case "redis":
		host, _ := os.Hostname()
		rq, err := queue.NewRedis(context.Background(), s.cfg.RedisURL, s.cfg.QueueName,
			fmt.Sprintf("%s-%d", host, os.Getpid()))
		if err != nil {
			return err
		}
		if n, err := rq.Reclaim(context.Background()); err != nil {
			s.logger.Warn("queue reclaim failed", slog.String("error", err.Error()))
		} else if n > 0 {
			s.logger.Info("reclaimed pending deliveries", slog.Int("count", n))
		}
		s.queue = rq
	}

	if !s.cfg.EmbeddedWorker {
		return nil
	}
	w := worker.New(s.queue, s.store, pipe, s.cfg.WorkerConcurrency)
	ctx, cancel := context.WithCancel(context.Background())
	s.workerCancel = cancel
	s.workerDone = make(chan struct{})
	go func() {
		defer close(s.workerDone)
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("embedded worker stopped", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("embedded worker started",
		slog.String("backend", s.cfg.QueueBackend), slog.Int("concurrency", s.cfg.WorkerConcurrency))
	return nil
}

// registerProviders builds the adapter set from config. API keys resolve
// env-first, then from the vault when it is already unlocked.
func registerProviders(cfg Config, v *vault.Vault, client *http.Client, logger *slog.Logger) map[string]providers.Adapter {
	adapters := make(map[string]providers.Adapter)

	if key := resolveKey(cfg.OpenAIAPIKey, v, "openai_api_key"); key != "" {
		a := openai.New(key, cfg.OpenAIBaseURL, client)
		adapters[a.Name()] = a
		logger.Info("registered provider", slog.String("provider", a.Name()))
	}

	if key := resolveKey(cfg.AnthropicAPIKey, v, "anthropic_api_key"); key != "" {
		a := anthropic.New(key, cfg.AnthropicBaseURL, client)
		adapters[a.Name()] = a
		logger.Info("registered provider", slog.String("provider", a.Name()))
	}

	if cfg.OllamaBaseURL != "" {
		a := ollama.New(cfg.OllamaBaseURL, client, cfg.OllamaMatchThreshold)
		adapters[a.Name()] = a
		logger.Info("registered provider",
			slog.String("provider", a.Name()), slog.String("endpoint", cfg.OllamaBaseURL))
	}

	return adapters
}

func resolveKey(envValue string, v *vault.Vault, vaultKey string) string {
	if envValue != "" {
		return envValue
	}
	if v == nil || v.IsLocked() {
		return ""
	}
	val, err := v.Get(vaultKey)
	if err != nil {
		return ""
	}
	return val
}

// registerIntegrations wires one adapter per configured external system.
func registerIntegrations(cfg Config, client *http.Client, logger *slog.Logger) *integrations.Registry {
	reg := integrations.NewRegistry()
	toks := integrationTokens(cfg, client)

	if cfg.MailBaseURL != "" {
		mail := integrations.NewMailAdapter(cfg.MailBaseURL, client, toks)
		for _, k := range []integrations.Kind{
			integrations.KindMailTriage, integrations.KindMailSummarize, integrations.KindMailDraftReply,
		} {
			reg.Register(k, mail)
			reg.RegisterPrefetch(k, mail)
		}
		logger.Info("registered integration", slog.String("system", "mail"))
	}

	if cfg.CRMBaseURL != "" {
		crm := integrations.NewCRMAdapter(cfg.CRMBaseURL, client, toks)
		for _, k := range []integrations.Kind{
			integrations.KindCRMInboxLead, integrations.KindCRMMailLead, integrations.KindCRMThreadSummary,
		} {
			reg.Register(k, crm)
		}
		logger.Info("registered integration", slog.String("system", "crm"))
	}

	if cfg.DocsBaseURL != "" {
		reg.Register(integrations.KindDocsCreate, integrations.NewDocsAdapter(cfg.DocsBaseURL, client, toks))
		logger.Info("registered integration", slog.String("system", "docs"))
	}

	if cfg.RecruitingBaseURL != "" {
		reg.Register(integrations.KindRecruitingNote, integrations.NewRecruitingAdapter(cfg.RecruitingBaseURL, client, toks))
		logger.Info("registered integration", slog.String("system", "recruiting"))
	}

	return reg
}

// integrationTokens picks the token strategy: a static bearer token when
// one is configured, otherwise an OAuth client-credentials refresh.
func integrationTokens(cfg Config, client *http.Client) *integrations.TokenCache {
	if cfg.IntegrationToken != "" {
		tok := cfg.IntegrationToken
		return integrations.NewTokenCache(func(context.Context) (string, time.Duration, error) {
			return tok, 24 * time.Hour, nil
		})
	}
	return integrations.NewTokenCache(clientCredentialsRefresh(
		cfg.IntegrationTokenURL, cfg.IntegrationClientID, cfg.IntegrationClientSecret, client))
}

func clientCredentialsRefresh(tokenURL, clientID, clientSecret string, client *http.Client) integrations.RefreshFunc {
	return func(ctx context.Context) (string, time.Duration, error) {
		if tokenURL == "" {
			return "", 0, fmt.Errorf("no integration token source configured")
		}
		form := url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return "", 0, fmt.Errorf("token refresh: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", 0, fmt.Errorf("token refresh: status %d", resp.StatusCode)
		}

		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", 0, fmt.Errorf("token refresh: %w", err)
		}
		if body.AccessToken == "" {
			return "", 0, fmt.Errorf("token refresh: empty access_token")
		}
		expires := time.Duration(body.ExpiresIn) * time.Second
		if expires <= 0 {
			expires = time.Hour
		}
		return body.AccessToken, expires, nil
	}
}
