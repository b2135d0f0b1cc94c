package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"amroute/internal/account"
	"amroute/internal/actor"
	"amroute/internal/amconfig"
	"amroute/internal/clock"
	"amroute/internal/config"
	"amroute/internal/dispatch"
	"amroute/internal/ingest"
	"amroute/internal/logging"
	"amroute/internal/names"
	"amroute/internal/storage"
)

const maxIngestBodyBytes = 4 << 20

// Service composes runtime dependencies and process lifecycle.
// Params: validated config and shared runtime components.
// Returns: runnable alert routing service.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	store      storage.Store
	runtime    *actor.Runtime
	dispatcher *Dispatcher
	httpSrv    *http.Server
	natsSub    interface{ Close() error }
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds a service instance from config.
// Params: validated config and clock implementation.
// Returns: initialized service or setup error.
func NewService(cfg config.Config, clk clock.Clock) (*Service, error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	provider := amconfig.NewFileProvider(cfg.Accounts.Dir, cfg.Accounts.FilesDir)
	runtime := actor.NewRuntime(store, clk, logger, cfg.Dispatch.AlarmRetryDelay())
	runtime.RegisterKind(names.AccountPrefix, func(state *actor.State) actor.Handler {
		return account.New(state, provider)
	})
	runtime.RegisterKind(names.AlertGroupPrefix,
		dispatch.NewGroupFactory(provider, cfg.Dispatch.FlushPageSize))
	runtime.RegisterKind(names.ReceiverPrefix,
		dispatch.NewReceiverFactory(provider, cfg.Dispatch.MaxRetries, cfg.Dispatch.RetryInitialDelay()))
	runtime.RegisterKind(names.SilenceTimerPrefix, func(state *actor.State) actor.Handler {
		return account.NewSilenceTimer(state)
	})

	service := &Service{
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		store:      store,
		runtime:    runtime,
		dispatcher: NewDispatcher(runtime, provider, clk, logger),
		clock:      clk,
	}

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Pending alarms resume before the ready flag flips, so a restarted
// instance picks its groups and receivers back up first.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.runtime.ResumeAlarms(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("resume alarms: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTPListen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order: ingest first so
// no new work arrives, then the actor runtime, then storage.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	timeout := time.Duration(s.cfg.Service.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	s.runtime.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup
// failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.runtime != nil {
		s.runtime.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with ingest, health, and metrics
// endpoints.
// Params: none.
// Returns: none.
func (s *Service) buildHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.Ingest.MetricsPath, promhttp.Handler())
	mux.Handle(s.cfg.Ingest.AlertsPath,
		ingest.NewHTTPHandler(s.dispatcher, maxIngestBodyBytes, s.clock.Now))

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTPListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) || !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.dispatcher, s.clock.Now, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore creates the runtime state backend from config.
// Params: root config.
// Returns: selected store backend.
func buildStore(cfg config.Config) (storage.Store, error) {
	if isSingleMode(cfg) {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewNATSStore(cfg.Store.NATS)
}

func isSingleMode(cfg config.Config) bool {
	return cfg.Service.Mode == config.ServiceModeSingle
}
