package securities

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger creates a discard logger for tests
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// getTestSecurities returns catalog data shared across tests
func getTestSecurities() []Security {
	return []Security{
		Sample(),
		{Ticker: "AMD", SecurityType: Call, Strike: 69, Weight: 1, Expiry: NewDate(2020, time.August, 31)},
		{Ticker: "AMD", SecurityType: Put, Strike: 60, Weight: -0.5, Expiry: NewDate(2020, time.August, 22)},
		{Ticker: "SPY", SecurityType: Call, Strike: 340, Weight: 1, Expiry: NewDate(2020, time.September, 18)},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{Logger: testLogger(), TestData: getTestSecurities()})
	require.NoError(t, err)
	return m
}

type failingSource struct {
	calls int
	mu    sync.Mutex
}

func (*failingSource) Name() string { return "failing" }

func (f *failingSource) Load() ([]Security, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, errors.New("boom")
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{TestData: getTestSecurities()})
	assert.Error(t, err)
}

func TestNew_NoSource(t *testing.T) {
	_, err := New(Config{Logger: testLogger()})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestNew_TestData(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, 4, m.Count())

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalReloads)
	assert.Equal(t, 4, stats.LastReloadCount)
}

func TestReplace_SkipsInvalidAndDedupes(t *testing.T) {
	m := newTestManager(t)

	dup := Sample()
	dup.Weight = 2
	count := m.Replace([]Security{
		Sample(),
		dup,
		{Ticker: "", SecurityType: Call, Strike: 1, Expiry: NewDate(2021, 1, 1)},
		{Ticker: "X", SecurityType: Call, Strike: 0, Expiry: NewDate(2021, 1, 1)},
	})

	assert.Equal(t, 1, count)
	assert.Equal(t, 2, m.Stats().Rejected)

	got, err := m.GetByID(Sample().ID())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Weight, "later duplicate should win")

	byTicker, err := m.GetByTicker("AMD")
	require.NoError(t, err)
	assert.Len(t, byTicker, 1)
}

func TestReload_RetriesThenFails(t *testing.T) {
	src := &failingSource{}
	_, err := New(Config{
		Source:       src,
		Logger:       testLogger(),
		ReloadConfig: &ReloadConfig{RetryAttempts: 3, RetryDelay: time.Millisecond},
	})
	require.Error(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestReload_KeepsCatalogOnFailure(t *testing.T) {
	m := newTestManager(t)
	m.source = &failingSource{}
	m.config = &ReloadConfig{RetryAttempts: 1}

	assert.Error(t, m.Reload())
	assert.Equal(t, 4, m.Count())
	assert.Equal(t, 1, m.Stats().FailedReloads)
}

func TestReload_FailureHooks(t *testing.T) {
	m := newTestManager(t)
	m.source = &failingSource{}
	m.config = &ReloadConfig{RetryAttempts: 2, RetryDelay: time.Millisecond}

	var failures []error
	m.OnReloadFailure(func(err error) { failures = append(failures, err) })

	err := m.Reload()
	require.Error(t, err)
	require.Len(t, failures, 1, "one hook call per reload, not per attempt")
	assert.Equal(t, err, failures[0])
}

func TestScheduledReloadFailureRunsHooks(t *testing.T) {
	m, err := New(Config{
		Source:       &failingSource{},
		Logger:       testLogger(),
		TestData:     getTestSecurities(),
		ReloadConfig: &ReloadConfig{Schedule: "@every 1s", RetryAttempts: 1},
	})
	require.NoError(t, err)
	defer m.Shutdown()

	failed := make(chan error, 8)
	m.OnReloadFailure(func(err error) { failed <- err })

	select {
	case err := <-failed:
		assert.ErrorContains(t, err, "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled reload failure was not reported")
	}
	assert.Equal(t, 4, m.Count())
}

func TestReload_FromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `securities:
  - ticker: AMD
    security_type: put
    strike: 65
    weight: 0.5
    expiry: 2020-09-20
  - ticker: AMD
    security_type: call
    strike: 69
    weight: 1
    expiry: 2020-08-31
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var loaded []int
	m, err := New(Config{Source: YAMLFileSource{Path: path}, Logger: testLogger()})
	require.NoError(t, err)
	m.OnLoad(func(n int) { loaded = append(loaded, n) })

	assert.Equal(t, 2, m.Count())

	require.NoError(t, os.WriteFile(path, []byte("securities: []\n"), 0o600))
	require.NoError(t, m.Reload())
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, []int{0}, loaded)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(Config{
		Logger:       testLogger(),
		TestData:     getTestSecurities(),
		ReloadConfig: &ReloadConfig{Schedule: "not a cron spec"},
	})
	assert.Error(t, err)
}

func TestShutdown_WithScheduler(t *testing.T) {
	m, err := New(Config{
		Source:       StaticSource(getTestSecurities()),
		Logger:       testLogger(),
		ReloadConfig: &ReloadConfig{Schedule: "0 8 * * *", RetryAttempts: 1},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.List()
			_, _ = m.GetByID(Sample().ID())
		}()
		go func() {
			defer wg.Done()
			m.Replace(getTestSecurities())
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, m.Count())
}
