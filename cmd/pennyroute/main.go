package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pennyroute/pennyroute/internal/app"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// Container HEALTHCHECK entry point; the runtime image ships no curl.
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		if err := probeHealthz(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := run(); err != nil {
		log.Fatalf("pennyroute: %v", err)
	}
}

func run() error {
	log.Printf("pennyroute version %s", version)

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	srv, err := app.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      300 * time.Second, // SSE streams and slow model calls
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case err := <-errc:
			return fmt.Errorf("listen: %w", err)
		case sig := <-sigc:
			if sig == syscall.SIGHUP {
				// Re-read the pricing catalog in place; routing picks up
				// the new table on the next job.
				log.Printf("SIGHUP: reloading catalog")
				if err := srv.ReloadCatalog(); err != nil {
					log.Printf("catalog reload failed, keeping current table: %v", err)
				}
				continue
			}

			log.Printf("%s received, draining in-flight requests", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := httpServer.Shutdown(ctx)
			cancel()
			if err != nil {
				log.Printf("http shutdown: %v", err)
			}
			if err := srv.Close(); err != nil {
				log.Printf("server close: %v", err)
			}
			log.Printf("shutdown complete")
			return nil
		}
	}
}

// probeHealthz hits the local health endpoint using the configured listen
// address.
func probeHealthz() error {
	addr := os.Getenv("PENNYROUTE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	resp, err := http.Get(fmt.Sprintf("http://localhost%s/healthz", addr))
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz returned %d", resp.StatusCode)
	}
	return nil
}
