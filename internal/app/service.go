package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"alerthub/internal/clock"
	"alerthub/internal/config"
	"alerthub/internal/engine"
	"alerthub/internal/httpapi"
	"alerthub/internal/ingest"
	"alerthub/internal/journal"
	"alerthub/internal/logging"
	"alerthub/internal/metrics"
	"alerthub/internal/notifyqueue"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alert hub service.
type Service struct {
	source    config.ConfigSource
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	clock     clock.Clock
	store     journal.Store
	journal   *journal.Writer
	engine    *engine.Engine
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	events    notifyqueue.Producer
	unsubs    []func()
	readyFlag atomic.Bool
}

// NewService builds service instance from config source.
// Params: config source, clock implementation, and build version.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock, version string) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	return newService(source, cfg, clk, version)
}

func newService(source config.ConfigSource, cfg config.Config, clk clock.Clock, version string) (*Service, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", cfg.Service.Name)

	store, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	writer := journal.NewWriter(store, cfg.Journal.Buffer, logging.Component(logger, "journal"), clk)
	eng := engine.New(cfg.Engine, logging.Component(logger, "engine"), clk)
	eng.AttachJournal(writer, cfg.Journal.Retention())

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
		store:    store,
		journal:  writer,
		engine:   eng,
	}

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildEventProducer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	metrics.SetBuildInfo(version, cfg.Service.Mode)
	logger.Info("service initialized", "mode", cfg.Service.Mode, "version", version, "http", cfg.HTTP.IsEnabled(), "nats_ingest", cfg.NATS.Ingest, "nats_events", cfg.NATS.Events)
	return service, nil
}

// Engine returns the alert engine for in-process producers and subscribers.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()

	group, groupCtx := errgroup.WithContext(engineCtx)
	group.Go(func() error {
		return s.engine.Run(groupCtx)
	})

	errChan := make(chan error, 1)
	if s.httpSrv != nil {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	select {
	case <-s.engine.Started():
	case <-ctx.Done():
		stopEngine()
		_ = group.Wait()
		return s.shutdown(nil)
	}
	s.readyFlag.Store(true)
	s.logger.Info("service ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
	case <-sigChan:
		s.logger.Info("shutdown signal received")
	case err := <-errChan:
		runErr = fmt.Errorf("http server failed: %w", err)
	case <-s.engine.Stopped():
		runErr = errors.New("engine stopped unexpectedly")
	}

	return s.shutdown(func() error {
		stopEngine()
		if err := group.Wait(); err != nil && runErr == nil {
			runErr = fmt.Errorf("engine run: %w", err)
		}
		return runErr
	})
}

// shutdown closes runtime resources in dependency order.
// Params: stopEngine halts the engine after producers are closed.
// Returns: first close or run error.
func (s *Service) shutdown(stopEngine func() error) error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if stopEngine != nil {
		markErr(stopEngine())
	}
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.logger.Error("event producer close failed", "error", err.Error())
			markErr(fmt.Errorf("event producer close: %w", err))
		}
	}
	if err := s.journal.Close(); err != nil {
		s.logger.Error("journal writer close failed", "error", err.Error())
		markErr(fmt.Errorf("journal writer close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("journal store close failed", "error", err.Error())
		markErr(fmt.Errorf("journal store close: %w", err))
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	s.unsubs = nil
	if s.events != nil {
		_ = s.events.Close()
		s.events = nil
	}
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.journal != nil {
		_ = s.journal.Close()
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

// buildHTTPServer wires the API router when HTTP is enabled.
func (s *Service) buildHTTPServer() {
	if !s.cfg.HTTP.IsEnabled() {
		return
	}
	router := httpapi.NewRouter(s.engine, httpapi.Options{
		APIPrefix:    s.cfg.HTTP.APIPrefix,
		HealthPath:   s.cfg.HTTP.HealthPath,
		ReadyPath:    s.cfg.HTTP.ReadyPath,
		MetricsPath:  s.cfg.HTTP.MetricsPath,
		MaxBodyBytes: s.cfg.HTTP.MaxBodyBytes,
		SSEBuffer:    s.cfg.HTTP.SSEBuffer,
		Ready:        s.readyFlag.Load,
	}, s.logger)
	streams, cancelStreams := context.WithCancel(context.Background())
	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streams },
	}
	// Event streams never finish on their own; end them when shutdown starts.
	s.httpSrv.RegisterOnShutdown(cancelStreams)
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) || !s.cfg.NATS.Ingest {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.NATS, s.engine, logging.Component(s.logger, "nats_ingest"))
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildEventProducer subscribes the NATS lifecycle fan-out when enabled.
// Params: none.
// Returns: setup error.
func (s *Service) buildEventProducer() error {
	if isSingleMode(s.cfg) || !s.cfg.NATS.Events {
		return nil
	}
	producer, err := notifyqueue.NewNATSProducer(s.cfg.NATS, s.cfg.Service.Name, 0, logging.Component(s.logger, "nats_events"), s.clock)
	if err != nil {
		return err
	}
	s.events = producer
	s.unsubs = append(s.unsubs, s.engine.Subscribe(producer.Handler()))
	return nil
}

// buildStore creates critical journal backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (journal.Store, error) {
	if isSingleMode(cfg) {
		return journal.NewMemoryStore(), nil
	}
	store, err := journal.NewNATSStore(journal.NATSSettings{
		URL:    cfg.NATS.URL,
		Bucket: cfg.Journal.Bucket,
		MaxAge: cfg.Journal.Retention(),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal store: %w", err)
	}
	return store, nil
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
