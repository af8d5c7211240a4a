package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/browser"
	"github.com/JakeFAU/pagecount-runner/internal/config"
	"github.com/JakeFAU/pagecount-runner/internal/seed"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue/ats"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue/memory"
)

type stubElement struct{ href string }

func (s stubElement) Attribute(context.Context, string) (string, bool, error) {
	return s.href, s.href != "", nil
}

type stubPage struct{ failURL string }

func (p *stubPage) Goto(_ context.Context, url string) error {
	if url == p.failURL {
		return browser.ErrNavigation
	}
	return nil
}

func (p *stubPage) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	if selector == "img" {
		return []browser.Element{stubElement{}, stubElement{}}, nil
	}
	return []browser.Element{stubElement{href: "/a"}, stubElement{}}, nil
}

func (p *stubPage) Close() error { return nil }

type stubSession struct {
	page   *stubPage
	closed atomic.Bool
}

func (s *stubSession) NewPage(context.Context) (browser.Page, error) { return s.page, nil }

func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Queue:   config.QueueConfig{Backend: config.BackendMemory},
		Browser: config.BrowserConfig{Engine: config.EngineChromedp, Headless: true, NavTimeoutSec: 5},
		Pacing:  config.PacingConfig{MinSeconds: 0, MaxSeconds: 0},
		Seed:    config.SeedConfig{URLs: []string{"https://a.example", "https://b.example", "https://c.example"}},
		Metrics: config.MetricsConfig{Job: "pagecounter"},
	}
}

func TestSeedThenConsume(t *testing.T) {
	t.Parallel()

	session := &stubSession{page: &stubPage{failURL: "https://b.example"}}
	var gotOpts browser.Options
	launcher := func(_ context.Context, opts browser.Options, _ *zap.Logger) (browser.Session, error) {
		gotOpts = opts
		return session, nil
	}

	a, err := New(context.Background(), testConfig(), nil, WithLauncher(launcher))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	res, err := a.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seed.Result{Attempted: 3, Added: 3}, res)

	sum, err := a.Consume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.True(t, session.closed.Load())
	assert.True(t, gotOpts.Headless)

	q, ok := a.Backend().(*memory.Queue)
	require.True(t, ok)
	items := q.Items()
	require.Len(t, items, 3)
	assert.Equal(t, workqueue.ItemData{URL: "https://a.example", ImageCount: 2, HrefCount: 1}, items[0].Data)
	assert.Equal(t, workqueue.StatusFailed, items[1].Status)
	assert.Equal(t, workqueue.HrefCountFailed, items[1].Data.HrefCount)
	assert.Equal(t, workqueue.StatusCompleted, items[2].Status)
}

func TestSeedDoesNotLaunchBrowser(t *testing.T) {
	t.Parallel()

	launched := false
	launcher := func(context.Context, browser.Options, *zap.Logger) (browser.Session, error) {
		launched = true
		return nil, errors.New("unexpected launch")
	}
	cfg := testConfig()
	cfg.Seed.URLs = nil

	a, err := New(context.Background(), cfg, nil, WithLauncher(launcher))
	require.NoError(t, err)
	res, err := a.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(seed.DefaultSites), res.Added)
	assert.False(t, launched)
	require.NoError(t, a.Close())
}

func TestConsumeReportsLaunchFailure(t *testing.T) {
	t.Parallel()

	launcher := func(context.Context, browser.Options, *zap.Logger) (browser.Session, error) {
		return nil, errors.New("Executable doesn't exist")
	}
	a, err := New(context.Background(), testConfig(), nil, WithLauncher(launcher))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.Consume(context.Background())
	require.ErrorContains(t, err, "launch browser: Executable doesn't exist")
}

func TestConsumeRejectsInvalidPacing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Pacing = config.PacingConfig{MinSeconds: 5, MaxSeconds: 1}
	a, err := New(context.Background(), cfg, nil, WithLauncher(func(context.Context, browser.Options, *zap.Logger) (browser.Session, error) {
		t.Fatal("browser must not launch")
		return nil, nil
	}))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.Consume(context.Background())
	require.ErrorContains(t, err, "pacing max seconds")
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Browser.Engine = "rod"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, `unknown browser engine "rod"`)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Queue.Backend = "redis"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, `unknown queue backend "redis"`)
}

func TestNewBuildsAutomationServerClient(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Queue.Backend = config.BackendATS
	cfg.ATS = config.ATSConfig{URL: "http://ats.invalid", Workqueue: "7", TimeoutSeconds: 5}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	client, ok := a.Backend().(*ats.Client)
	require.True(t, ok)
	assert.Equal(t, "7", client.WorkqueueID())
}

func TestNewPostgresRequiresReachableDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Queue.Backend = config.BackendPostgres
	cfg.Postgres = config.PostgresConfig{DSN: "::not a dsn::"}

	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "connect postgres workqueue")
}

func TestWithBackendSkipsConstruction(t *testing.T) {
	t.Parallel()

	backend := memory.NewQueue(nil)
	cfg := testConfig()
	cfg.Queue.Backend = config.BackendPostgres

	a, err := New(context.Background(), cfg, nil, WithBackend(backend))
	require.NoError(t, err)
	assert.Same(t, backend, a.Backend())
	require.NoError(t, a.Close())
}

func TestCloseStopsMetricsAndPushes(t *testing.T) {
	t.Parallel()

	var pushes atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	cfg := testConfig()
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	cfg.Metrics.PushgatewayURL = gw.URL

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.Equal(t, int32(1), pushes.Load())
}

func TestCloseFlushesTracing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Tracing = config.TracingConfig{Enabled: true, ServiceName: "pagecounter"}
	a, err := New(context.Background(), cfg, nil, WithLauncher(func(context.Context, browser.Options, *zap.Logger) (browser.Session, error) {
		return &stubSession{page: &stubPage{}}, nil
	}))
	require.NoError(t, err)
	require.NotNil(t, a.tracer)

	require.NoError(t, a.Close())
	assert.Nil(t, a.tracer)
}
