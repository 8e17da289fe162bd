package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ChartCache/internal/usecase"
	"ChartCache/pkg/config"
	xhttp "ChartCache/pkg/http"
	pkgkafka "ChartCache/pkg/kafka"
	applogger "ChartCache/pkg/logger"
)

// App encapsulates the entire application lifecycle. Infrastructure
// clients are owned by the injector and closed by its cleanup.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	registry   *usecase.SymbolRegistry
	loader     *usecase.HistoryLoader
	collector  *usecase.StreamCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	httpServer *xhttp.Server

	wg sync.WaitGroup
}

// New creates a new App. collector, consumer and kh may be nil.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	registry *usecase.SymbolRegistry,
	loader *usecase.HistoryLoader,
	collector *usecase.StreamCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
) *App {
	if log == nil {
		log = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		loader:     loader,
		collector:  collector,
		consumer:   consumer,
		kh:         kh,
		httpServer: httpServer,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and shuts down once ctx ends.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(runCtx); err != nil {
		cancel()
		_ = a.shutdown()
		return err
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	// history first so the stream and consumer find their symbols
	if err := a.loader.LoadAll(ctx, a.cfg.Symbols); err != nil {
		a.log.Warn("initial history load incomplete", applogger.Error(err))
	}
	a.log.Info("history loaded", applogger.Strings("symbols", a.registry.CachedSymbols()))

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			// the chart API still serves history without the realtime feed
			a.log.Error("stream collector start failed", applogger.Error(err))
		} else {
			a.log.Info("stream collector started")
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(ctx); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loader.RunSnapshots(ctx, a.cfg.Cache.SnapshotSaveInterval)
	}()

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return err
		}
	}
	return nil
}

// shutdown stops producers of work first, then persists state.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.wg.Wait()

	if err := a.loader.SaveSnapshots(ctx); err != nil {
		a.log.Warn("final snapshot save failed", applogger.Error(err))
		errs = append(errs, err)
	}
	a.registry.StopWarmup()
	a.registry.Destroy()

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
