// Package app wires the platform modules together and runs them as one
// binary: the store, the ingestion engine, the analysis engine and the
// auth boundary behind a single HTTP listener.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diagnet/diagnet/modules/analyzer"
	"github.com/diagnet/diagnet/modules/auth"
	"github.com/diagnet/diagnet/modules/ingester"
	"github.com/diagnet/diagnet/modules/overrides"
	"github.com/diagnet/diagnet/modules/storage"
	"github.com/diagnet/diagnet/pkg/util"
	"github.com/diagnet/diagnet/pkg/util/log"
)

// App owns the assembled modules and the HTTP server.
type App struct {
	cfg Config

	store         *storage.TimescaleStore
	limits        *overrides.Overrides
	ingester      *ingester.Ingester
	analyzer      *analyzer.Analyzer
	authenticator *auth.Authenticator

	server *http.Server
}

// New assembles the modules. Nothing touches the network yet; Run does.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.Storage, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	limits, err := overrides.New(cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to create overrides: %w", err)
	}

	authenticator, err := auth.New(cfg.Auth, auth.NewStaticUsers(cfg.Auth.Users), log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	a := &App{
		cfg:           cfg,
		store:         store,
		limits:        limits,
		ingester:      ingester.New(cfg.Ingester, store, limits, log.Logger),
		analyzer:      analyzer.New(cfg.Analyzer, store, limits, log.Logger),
		authenticator: authenticator,
	}
	a.server = &http.Server{
		Addr:    cfg.HTTPListenAddress,
		Handler: a.buildHandler(),
	}
	return a, nil
}

// Run blocks until shutdown. It waits for the store, applies the schema,
// starts the background services and serves HTTP.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.awaitStore(ctx); err != nil {
		return err
	}
	if a.cfg.Storage.SchemaInit {
		if err := a.store.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to apply store schema: %w", err)
		}
	}

	sweeper := storage.NewRetentionSweeper(a.store, a.cfg.Storage.RetentionDays, a.cfg.Storage.SweepInterval, log.Logger)
	sm, err := services.NewManager(a.ingester, sweeper)
	if err != nil {
		return fmt.Errorf("failed to create service manager: %w", err)
	}

	watcher := services.NewFailureWatcher()
	watcher.WatchManager(sm)

	if err := services.StartManagerAndAwaitHealthy(ctx, sm); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	level.Info(log.Logger).Log("msg", "modules running", "http", a.cfg.HTTPListenAddress)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		level.Info(log.Logger).Log("msg", "shutdown signal received")
	case err := <-watcher.Chan():
		level.Error(log.Logger).Log("msg", "service failed", "err", err)
		runErr = err
	case err := <-serverErr:
		level.Error(log.Logger).Log("msg", "http server failed", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Ingester.ShutdownGrace+5*time.Second)
	defer cancel()

	_ = a.server.Shutdown(shutdownCtx)
	sm.StopAsync()
	if err := sm.AwaitStopped(shutdownCtx); err != nil {
		level.Warn(log.Logger).Log("msg", "services did not stop cleanly", "err", err)
	}
	if err := a.store.Close(); err != nil {
		level.Warn(log.Logger).Log("msg", "failed to close store", "err", err)
	}

	level.Info(log.Logger).Log("msg", "shutdown complete")
	return runErr
}

// awaitStore pings the store with backoff until it answers or the startup
// budget runs out.
func (a *App) awaitStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StartupTimeout)
	defer cancel()

	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: time.Second,
		MaxBackoff: 10 * time.Second,
	})
	var err error
	for boff.Ongoing() {
		if err = a.store.Ping(ctx); err == nil {
			level.Info(log.Logger).Log("msg", "store reachable")
			return nil
		}
		level.Warn(log.Logger).Log("msg", "store not reachable yet", "err", err)
		boff.Wait()
	}
	return fmt.Errorf("store unreachable after %s: %w", a.cfg.StartupTimeout, err)
}

func (a *App) buildHandler() http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", a.healthHandler).Methods(http.MethodGet)

	a.authenticator.RegisterRoutes(router)
	a.ingester.RegisterRoutes(router)
	a.analyzer.RegisterRoutes(router)

	var handler http.Handler = router
	handler = a.timeoutMiddleware(handler)
	handler = a.authenticator.Middleware(handler)
	handler = a.corsMiddleware(handler)
	return handler
}

type healthResponse struct {
	Status        string `json:"status"`
	MQTTConnected bool   `json:"mqttConnected"`
	StoreReady    bool   `json:"storeReady"`
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "UP", MQTTConnected: a.ingester.Connected()}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp.StoreReady = a.store.Ping(ctx) == nil

	status := http.StatusOK
	if !resp.StoreReady {
		resp.Status = "DEGRADED"
		status = http.StatusServiceUnavailable
	}
	util.WriteJSON(w, status, resp)
}

// timeoutMiddleware enforces the per-request deadline. Handlers translate
// the resulting context error into 504.
func (a *App) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.HTTPTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) corsMiddleware(next http.Handler) http.Handler {
	allowed := "*"
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		allowed = a.cfg.CORSAllowedOrigins[0]
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Expose-Headers", "Authorization")
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
