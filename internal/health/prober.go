package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Probeable is the slice of a provider adapter the prober needs: an
// identity and a cheap GET endpoint that answers when the backend is up.
type Probeable interface {
	Name() string
	HealthEndpoint() string
}

type ProberConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

func DefaultProberConfig() ProberConfig {
	return ProberConfig{Interval: 30 * time.Second, ProbeTimeout: 5 * time.Second}
}

// Prober sweeps the provider health endpoints on a fixed interval and feeds
// outcomes into the Tracker, so a provider that stops answering shows up as
// degraded even when no jobs are flowing.
type Prober struct {
	cfg     ProberConfig
	tracker *Tracker
	targets []Probeable
	client  *http.Client
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewProber(cfg ProberConfig, tracker *Tracker, targets []Probeable, logger *slog.Logger) *Prober {
	return &Prober{
		cfg:     cfg,
		tracker: tracker,
		targets: targets,
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins sweeping in the background. The first sweep runs right away
// so startup state is accurate before the first interval elapses.
func (p *Prober) Start() {
	go func() {
		defer close(p.done)
		p.sweep()
		tick := time.NewTicker(p.cfg.Interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				p.sweep()
			case <-p.stop:
				return
			}
		}
	}()
}

// Stop halts sweeping and waits for an in-flight sweep to finish.
func (p *Prober) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Prober) sweep() {
	var wg sync.WaitGroup
	for _, t := range p.targets {
		wg.Add(1)
		go func(target Probeable) {
			defer wg.Done()
			p.probe(target)
		}(t)
	}
	wg.Wait()
}

// healthyStatus reports whether a probe response status means the backend
// is reachable. Auth and method rejections still prove the endpoint is up.
func healthyStatus(code int) bool {
	if code >= 200 && code < 300 {
		return true
	}
	return code == http.StatusUnauthorized || code == http.StatusMethodNotAllowed
}

func (p *Prober) probe(target Probeable) {
	endpoint := target.HealthEndpoint()
	if endpoint == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		p.tracker.RecordError(target.Name(), "probe: "+err.Error())
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.tracker.RecordError(target.Name(), "probe: "+err.Error())
		p.logger.Debug("health probe failed",
			slog.String("provider", target.Name()), slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	latencyMs := float64(time.Since(start).Milliseconds())
	if healthyStatus(resp.StatusCode) {
		p.tracker.RecordSuccess(target.Name(), latencyMs)
		return
	}
	p.tracker.RecordError(target.Name(), "probe: status "+resp.Status)
	p.logger.Debug("health probe unhealthy",
		slog.String("provider", target.Name()), slog.Int("status", resp.StatusCode))
}
