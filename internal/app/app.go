// Package app initializes and holds long-lived runner services, acting as a
// dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/browser"
	"github.com/JakeFAU/pagecount-runner/internal/browser/chromedp"
	"github.com/JakeFAU/pagecount-runner/internal/browser/playwright"
	"github.com/JakeFAU/pagecount-runner/internal/clock/system"
	"github.com/JakeFAU/pagecount-runner/internal/config"
	"github.com/JakeFAU/pagecount-runner/internal/id/uuid"
	"github.com/JakeFAU/pagecount-runner/internal/metrics"
	"github.com/JakeFAU/pagecount-runner/internal/pacing"
	"github.com/JakeFAU/pagecount-runner/internal/processor"
	"github.com/JakeFAU/pagecount-runner/internal/seed"
	"github.com/JakeFAU/pagecount-runner/internal/telemetry"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue/ats"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue/memory"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue/postgres"
)

// Launcher starts a browser session.
type Launcher func(ctx context.Context, opts browser.Options, logger *zap.Logger) (browser.Session, error)

var launchers = map[string]Launcher{
	config.EngineChromedp: func(ctx context.Context, opts browser.Options, logger *zap.Logger) (browser.Session, error) {
		return chromedp.Launch(ctx, opts, logger)
	},
	config.EnginePlaywright: func(ctx context.Context, opts browser.Options, logger *zap.Logger) (browser.Session, error) {
		return playwright.Launch(ctx, opts, logger)
	},
}

// Option customizes an App.
type Option func(*App)

// WithLauncher replaces the browser launcher chosen by browser.engine.
func WithLauncher(l Launcher) Option {
	return func(a *App) {
		a.launch = l
	}
}

// WithBackend replaces the backend chosen by queue.backend.
func WithBackend(b workqueue.Backend) Option {
	return func(a *App) {
		a.backend = b
	}
}

// App holds the shared, long-lived services of a run.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	backend workqueue.Backend
	queue   *workqueue.Workqueue
	launch  Launcher
	clock   *system.Clock
	tracer  *sdktrace.TracerProvider
	closers []func() error

	stopMetrics context.CancelFunc
	metricsDone chan error
}

// New builds the workqueue backend and, when configured, starts the metrics
// endpoint. It fails fast when a critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		launch: launchers[cfg.Browser.Engine],
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.launch == nil {
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Browser.Engine)
	}

	if a.backend == nil {
		backend, err := a.newBackend(ctx)
		if err != nil {
			return nil, err
		}
		a.backend = backend
	}
	a.queue = workqueue.New(a.backend, logger.Named("workqueue"))

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		_ = a.closeAll()
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv, err := metrics.Listen(addr, logger.Named("metrics"))
		if err != nil {
			_ = a.closeAll()
			return nil, err
		}
		metricsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stopMetrics = cancel
		a.metricsDone = make(chan error, 1)
		go func() { a.metricsDone <- srv.Serve(metricsCtx) }()
	}
	return a, nil
}

func (a *App) newBackend(ctx context.Context) (workqueue.Backend, error) {
	switch a.cfg.Queue.Backend {
	case config.BackendATS:
		client, err := ats.NewClient(ctx, ats.Config{
			URL:       a.cfg.ATS.URL,
			Token:     a.cfg.ATS.Token,
			Session:   a.cfg.ATS.Session,
			Resource:  a.cfg.ATS.Resource,
			Process:   a.cfg.ATS.Process,
			Workqueue: a.cfg.ATS.Workqueue,
			Timeout:   a.cfg.ATSTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("connect automation server: %w", err)
		}
		a.logger.Info("using automation server workqueue",
			zap.String("workqueue", client.WorkqueueID()),
			zap.String("session", client.Session()),
			zap.String("resource", client.Resource()),
		)
		return client, nil
	case config.BackendPostgres:
		q, err := postgres.NewQueue(ctx, postgres.Config{
			DSN:             a.cfg.Postgres.DSN,
			Table:           a.cfg.Postgres.Table,
			Queue:           a.cfg.Postgres.Queue,
			MaxConns:        a.cfg.Postgres.MaxConns,
			MaxConnLifetime: a.cfg.PostgresMaxConnLifetime(),
		}, uuid.New())
		if err != nil {
			return nil, fmt.Errorf("connect postgres workqueue: %w", err)
		}
		if a.cfg.Postgres.Migrate {
			if err := q.Migrate(ctx); err != nil {
				q.Close()
				return nil, err
			}
		}
		a.closers = append(a.closers, func() error {
			q.Close()
			return nil
		})
		a.logger.Info("using postgres workqueue", zap.String("queue", a.cfg.Postgres.Queue))
		return q, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory workqueue")
		return memory.NewQueue(uuid.New()), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.cfg.Queue.Backend)
	}
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Backend returns the configured workqueue backend.
func (a *App) Backend() workqueue.Backend {
	return a.backend
}

// Seed clears pending items and enqueues the configured URLs.
func (a *App) Seed(ctx context.Context) (seed.Result, error) {
	return seed.New(a.queue, a.cfg.Seed.URLs, a.logger.Named("seed")).Run(ctx)
}

func (a *App) browserOptions() browser.Options {
	return browser.Options{
		Headless:                  a.cfg.Browser.Headless,
		DisableSearchEngineChoice: a.cfg.Browser.DisableSearchEngineChoice,
		NavigationTimeout:         a.cfg.NavTimeout(),
		ExecPath:                  a.cfg.Browser.ExecPath,
		Install:                   a.cfg.Browser.Install,
		NoSandbox:                 a.cfg.Browser.NoSandbox,
		UserAgent:                 a.cfg.Browser.UserAgent,
	}
}

// Consume launches the browser, opens one page and processes items until the
// queue is drained. The browser is closed before returning.
func (a *App) Consume(ctx context.Context) (sum processor.Summary, err error) {
	pacer, err := pacing.New(pacing.Config{
		MinSeconds: a.cfg.Pacing.MinSeconds,
		MaxSeconds: a.cfg.Pacing.MaxSeconds,
	}, a.clock, a.logger.Named("pacing"))
	if err != nil {
		return processor.Summary{}, err
	}

	session, err := a.launch(ctx, a.browserOptions(), a.logger.Named("browser"))
	if err != nil {
		return processor.Summary{}, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			a.logger.Warn("error closing browser", zap.Error(cerr))
		}
	}()

	page, err := session.NewPage(ctx)
	if err != nil {
		return processor.Summary{}, fmt.Errorf("open page: %w", err)
	}

	proc := processor.New(a.queue, page, pacer, a.clock, a.logger.Named("processor"),
		processor.WithTracerProvider(a.tracer))
	sum, err = proc.Run(ctx)
	a.logger.Info("queue drained",
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("unfinalized", sum.Unfinalized),
	)
	return sum, err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Close pushes final metrics, flushes spans, stops the metrics endpoint and
// releases the backend.
func (a *App) Close() error {
	var errs []error
	if url := a.cfg.Metrics.PushgatewayURL; url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metrics.Push(ctx, url, a.cfg.Metrics.Job); err != nil {
			a.logger.Warn("error pushing metrics", zap.Error(err))
		}
		cancel()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
		cancel()
		a.tracer = nil
	}
	if a.stopMetrics != nil {
		a.stopMetrics()
		if err := <-a.metricsDone; err != nil {
			errs = append(errs, err)
		}
		a.stopMetrics = nil
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("error syncing logger on shutdown", zap.Error(err))
	}
	return errors.Join(errs...)
}
