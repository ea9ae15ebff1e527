// Package desk ties the securities catalog, the named views and the MCP
// client sessions together.
package desk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/optiondesk/optiondesk/app/metrics"
	"github.com/optiondesk/optiondesk/desk/securities"
)

// DefaultRiskFreeRate is used for quotes when no rate is configured.
const DefaultRiskFreeRate = 0.1

// Config holds configuration for creating a new desk Manager
type Config struct {
	Logger     *slog.Logger
	Metrics    *metrics.Manager
	Securities *securities.Manager
	// RiskFreeRate is the default rate for quotes. Nil selects
	// DefaultRiskFreeRate; zero is a valid rate.
	RiskFreeRate *float64
	Version      string
}

// Manager holds the catalog, views and sessions shared by the HTTP and MCP
// surfaces.
type Manager struct {
	Logger         *slog.Logger
	Securities     *securities.Manager
	metrics        *metrics.Manager
	views          *Views
	sessionManager *SessionManager
	riskFreeRate   float64
	version        string
}

// New creates a new desk Manager with the given configuration
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Securities == nil {
		return nil, errors.New("securities manager is required")
	}
	riskFreeRate := DefaultRiskFreeRate
	if cfg.RiskFreeRate != nil {
		riskFreeRate = *cfg.RiskFreeRate
	}

	views, err := DefaultViews()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize views: %w", err)
	}

	m := &Manager{
		Logger:       cfg.Logger,
		Securities:   cfg.Securities,
		metrics:      cfg.Metrics,
		views:        views,
		riskFreeRate: riskFreeRate,
		version:      cfg.Version,
	}

	if m.HasMetrics() {
		m.metrics.RecordCatalogReload(cfg.Securities.Count(), nil)
		cfg.Securities.OnLoad(func(count int) {
			m.metrics.RecordCatalogReload(count, nil)
		})
		cfg.Securities.OnReloadFailure(func(err error) {
			m.metrics.RecordCatalogReload(0, err)
		})
	}

	m.initializeSessionManager()
	return m, nil
}

func (m *Manager) initializeSessionManager() {
	sessionManager := NewSessionManager(m.Logger)
	sessionManager.AddCleanupHook(func(s *Session) {
		m.Logger.Info("Cleaning up session", "session_id", s.ID, "draft_size", s.Draft.Len())
	})
	sessionManager.StartCleanupRoutine(context.Background())
	m.sessionManager = sessionManager
}

// SessionManager returns the underlying session manager.
func (m *Manager) SessionManager() *SessionManager {
	return m.sessionManager
}

// Views returns the view registry.
func (m *Manager) Views() *Views {
	return m.views
}

// RiskFreeRate is the default rate for quotes and valuations.
func (m *Manager) RiskFreeRate() float64 {
	return m.riskFreeRate
}

func (m *Manager) HasMetrics() bool {
	return m.metrics != nil
}

// RenderView renders a named view and counts it.
func (m *Manager) RenderView(w io.Writer, name string, data any) error {
	if err := m.views.Render(w, name, data); err != nil {
		return err
	}
	if m.HasMetrics() {
		m.metrics.ObserveView(name)
	}
	return nil
}

// Status collects the data of the status view.
func (m *Manager) Status() StatusPage {
	stats := m.Securities.Stats()
	page := StatusPage{
		Title:      "Status",
		Version:    m.version,
		Securities: m.Securities.Count(),
		Sessions:   m.sessionManager.GetSessionCount(),
		LastReload: stats.LastReloadTime,
	}
	if m.HasMetrics() {
		page.ClientsToday = m.metrics.GetTodayClientCount()
	}
	return page
}

// ReloadCatalog reloads the catalog from its source.
func (m *Manager) ReloadCatalog() error {
	return m.Securities.Reload()
}

// IncrementDailyMetricWithLabels forwards to the metrics manager when one is configured.
func (m *Manager) IncrementDailyMetricWithLabels(key string, labels map[string]string) {
	if m.HasMetrics() {
		m.metrics.IncrementDailyWithLabels(key, labels)
	}
}

// TrackClient counts a daily unique MCP client.
func (m *Manager) TrackClient(id string) {
	if m.HasMetrics() {
		m.metrics.TrackDailyClient(id)
	}
}

func (m *Manager) Shutdown() {
	m.Logger.Info("Shutting down desk manager...")
	m.sessionManager.StopCleanupRoutine()
	if m.Securities != nil {
		m.Securities.Shutdown()
	}
	m.Logger.Info("Desk manager shutdown complete")
}
