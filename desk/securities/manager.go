package securities

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 3 * time.Second
)

var (
	// ErrSecurityNotFound is returned when an ID is not in the catalog.
	ErrSecurityNotFound = errors.New("security not found")

	// ErrNoSource is returned by Reload when the manager has nothing to load from.
	ErrNoSource = errors.New("no catalog source configured")
)

// ReloadConfig holds configuration for catalog reloads.
type ReloadConfig struct {
	// Schedule is a standard five-field cron spec. Empty disables
	// scheduled reloads.
	Schedule string
	// RetryAttempts is the number of attempts per reload
	RetryAttempts int
	// RetryDelay is the delay between attempts
	RetryDelay time.Duration
}

// DefaultReloadConfig returns the default reload configuration
func DefaultReloadConfig() *ReloadConfig {
	return &ReloadConfig{
		RetryAttempts: defaultRetryAttempts,
		RetryDelay:    defaultRetryDelay,
	}
}

// ReloadStats holds statistics about catalog loads
type ReloadStats struct {
	LastReloadTime  time.Time
	LastReloadCount int
	TotalReloads    int
	FailedReloads   int
	Rejected        int
}

// Manager is the in-memory catalog of securities.
// All public methods are safe for concurrent use.
type Manager struct {
	idToSecurity map[string]*Security
	tickerToIDs  map[string][]string

	source Source
	config *ReloadConfig
	stats  ReloadStats

	cron      *cron.Cron
	onLoad    []func(count int)
	onFailure []func(err error)

	logger *slog.Logger

	// mutex protects the maps, stats and hooks above
	mutex sync.RWMutex
}

// Config holds configuration for creating a new catalog manager
type Config struct {
	Source       Source        // required unless TestData is set
	ReloadConfig *ReloadConfig // defaults to DefaultReloadConfig() if nil
	Logger       *slog.Logger  // required
	TestData     []Security    // if set, loaded directly and Source is ignored for the initial load
}

// New creates a catalog manager and performs the initial load.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.ReloadConfig == nil {
		cfg.ReloadConfig = DefaultReloadConfig()
	}

	m := &Manager{
		idToSecurity: make(map[string]*Security),
		tickerToIDs:  make(map[string][]string),
		source:       cfg.Source,
		config:       cfg.ReloadConfig,
		logger:       cfg.Logger,
	}

	if cfg.TestData != nil {
		m.Replace(cfg.TestData)
	} else {
		if err := m.Reload(); err != nil {
			return nil, fmt.Errorf("failed to load initial catalog: %w", err)
		}
	}

	if cfg.ReloadConfig.Schedule != "" {
		if err := m.startScheduler(cfg.ReloadConfig.Schedule); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// OnLoad registers a hook called after every successful load.
func (m *Manager) OnLoad(hook func(count int)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onLoad = append(m.onLoad, hook)
}

// OnReloadFailure registers a hook called when a reload gives up, whether
// it was requested directly or run by the scheduler.
func (m *Manager) OnReloadFailure(hook func(err error)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onFailure = append(m.onFailure, hook)
}

// Reload fetches the catalog from the source, retrying on failure.
func (m *Manager) Reload() error {
	if m.source == nil {
		return ErrNoSource
	}

	m.mutex.RLock()
	maxAttempts := max(m.config.RetryAttempts, 1)
	retryDelay := m.config.RetryDelay
	m.mutex.RUnlock()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			m.logger.Warn("Retrying catalog load", "attempt", attempt+1, "max_attempts", maxAttempts, "delay", retryDelay)
			time.Sleep(retryDelay)
		}

		secs, err := m.source.Load()
		if err != nil {
			lastErr = err
			m.recordReload(false, 0)
			m.logger.Error("Catalog load failed", "source", m.source.Name(), "attempt", attempt+1, "error", err)
			continue
		}

		count := m.Replace(secs)
		m.logger.Info("Loaded catalog", "source", m.source.Name(), "count", count)
		return nil
	}

	err := fmt.Errorf("catalog load failed after %d attempts: %w", maxAttempts, lastErr)
	m.mutex.RLock()
	hooks := append([]func(error){}, m.onFailure...)
	m.mutex.RUnlock()
	for _, hook := range hooks {
		hook(err)
	}
	return err
}

// Replace swaps the catalog for the valid entries of secs. Invalid
// entries are logged and skipped; later duplicates of an ID win.
func (m *Manager) Replace(secs []Security) int {
	idToSecurity := make(map[string]*Security, len(secs))
	tickerToIDs := make(map[string][]string)
	rejected := 0

	for i := range secs {
		sec := secs[i]
		if err := sec.Validate(); err != nil {
			rejected++
			m.logger.Warn("Skipping invalid security", "index", i, "ticker", sec.Ticker, "error", err)
			continue
		}
		id := sec.ID()
		if _, dup := idToSecurity[id]; !dup {
			key := tickerKey(sec.Ticker)
			tickerToIDs[key] = append(tickerToIDs[key], id)
		}
		idToSecurity[id] = &sec
	}

	m.mutex.Lock()
	m.idToSecurity = idToSecurity
	m.tickerToIDs = tickerToIDs
	m.stats.Rejected = rejected
	hooks := append([]func(int){}, m.onLoad...)
	m.mutex.Unlock()

	count := len(idToSecurity)
	m.recordReload(true, count)
	for _, hook := range hooks {
		hook(count)
	}
	return count
}

// Count returns the number of securities loaded.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.idToSecurity)
}

// Stats returns current reload statistics
func (m *Manager) Stats() ReloadStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.stats
}

func (m *Manager) recordReload(success bool, count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stats.TotalReloads++
	if !success {
		m.stats.FailedReloads++
		return
	}
	m.stats.LastReloadTime = time.Now()
	m.stats.LastReloadCount = count
}

func (m *Manager) startScheduler(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		m.logger.Info("Starting scheduled catalog reload")
		if err := m.Reload(); err != nil {
			m.logger.Error("Scheduled catalog reload failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", spec, err)
	}
	c.Start()

	m.mutex.Lock()
	m.cron = c
	m.mutex.Unlock()

	m.logger.Info("Catalog reload scheduler started", "schedule", spec)
	return nil
}

// Shutdown stops the reload scheduler and waits for a running reload.
func (m *Manager) Shutdown() {
	m.mutex.RLock()
	c := m.cron
	m.mutex.RUnlock()
	if c == nil {
		return
	}

	m.logger.Info("Shutting down catalog scheduler...")
	ctx := c.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		m.logger.Warn("Timed out waiting for catalog reload to finish")
	}
	m.logger.Info("Catalog scheduler shutdown complete")
}
