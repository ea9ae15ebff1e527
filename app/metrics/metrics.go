package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

const (
	DefaultServiceName          = "optiondesk"
	DefaultHistoricalDays       = 7
	DefaultCleanupRetentionDays = 30
	DefaultCleanupSchedule      = "0 3 * * 6" // Saturday 3 AM UTC

	dateLayout = "2006-01-02"

	PrometheusContentType = "text/plain; version=0.0.4; charset=utf-8"
	AdminPathPrefix       = "/admin/"
	MetricsPathSuffix     = "/metrics"
)

// Config holds configuration for creating a metrics manager
type Config struct {
	ServiceName          string // defaults to DefaultServiceName
	AdminSecretPath      string // required for admin endpoint, empty = disabled
	HistoricalDays       int    // defaults to DefaultHistoricalDays
	CleanupRetentionDays int    // defaults to DefaultCleanupRetentionDays
	AutoCleanup          bool   // defaults to true
}

// Manager handles metrics collection and export
type Manager struct {
	serviceName          string
	adminSecretPath      string
	historicalDays       int
	cleanupRetentionDays int

	// Client tracking for daily metrics
	dailyClients sync.Map // map[string]*clientSet

	// Prometheus metrics
	registry          *prometheus.Registry
	toolCallsVec      *prometheus.CounterVec
	toolErrorsVec     *prometheus.CounterVec
	dailyClientsVec   *prometheus.GaugeVec
	viewRendersVec    *prometheus.CounterVec
	catalogReloadsVec *prometheus.CounterVec
	catalogSize       prometheus.Gauge
	genericCounters   sync.Map // map[string]prometheus.Counter for dynamic counters

	cleanup     *cron.Cron
	cleanupOnce sync.Once
}

// clientSet holds unique MCP clients for a day with count
type clientSet struct {
	clients sync.Map // map[string]bool
	count   int64    // atomic counter
}

// New creates a new metrics manager with the given configuration
func New(cfg Config) *Manager {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.HistoricalDays == 0 {
		cfg.HistoricalDays = DefaultHistoricalDays
	}
	if cfg.CleanupRetentionDays == 0 {
		cfg.CleanupRetentionDays = DefaultCleanupRetentionDays
	}

	// Create Prometheus registry
	registry := prometheus.NewRegistry()

	// Create Prometheus metrics with proper labeling
	toolCallsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "session_type", "date", "service"},
	)

	toolErrorsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_errors_total",
			Help: "Total number of tool errors",
		},
		[]string{"tool", "error_type", "session_type", "date", "service"},
	)

	dailyClientsVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daily_unique_clients_total",
			Help: "Number of unique MCP clients per day",
		},
		[]string{"date", "service"},
	)

	viewRendersVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_renders_total",
			Help: "Total number of rendered views",
		},
		[]string{"view", "service"},
	)

	catalogReloadsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_reloads_total",
			Help: "Total number of catalog reloads by result",
		},
		[]string{"result", "service"},
	)

	catalogSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "catalog_securities",
		Help:        "Number of securities in the catalog",
		ConstLabels: prometheus.Labels{"service": cfg.ServiceName},
	})

	// Register metrics
	registry.MustRegister(toolCallsVec, toolErrorsVec, dailyClientsVec, viewRendersVec, catalogReloadsVec, catalogSize)

	m := &Manager{
		serviceName:          cfg.ServiceName,
		adminSecretPath:      cfg.AdminSecretPath,
		historicalDays:       cfg.HistoricalDays,
		cleanupRetentionDays: cfg.CleanupRetentionDays,
		registry:             registry,
		toolCallsVec:         toolCallsVec,
		toolErrorsVec:        toolErrorsVec,
		dailyClientsVec:      dailyClientsVec,
		viewRendersVec:       viewRendersVec,
		catalogReloadsVec:    catalogReloadsVec,
		catalogSize:          catalogSize,
	}

	if cfg.AutoCleanup {
		m.startCleanupRoutine()
	}

	return m
}

// Increment atomically increments a counter
func (m *Manager) Increment(key string) {
	m.IncrementBy(key, 1)
}

// IncrementBy atomically increments a counter by n
func (m *Manager) IncrementBy(key string, n int64) {
	// Get or create Prometheus counter for this key
	counterInterface, _ := m.genericCounters.LoadOrStore(key, prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: strings.ReplaceAll(key, "-", "_"),
			Help: fmt.Sprintf("Count for %s", key),
			ConstLabels: prometheus.Labels{
				"service": m.serviceName,
			},
		},
	))

	if counter, ok := counterInterface.(prometheus.Counter); ok {
		// Try to register the counter (ignore already registered errors)
		m.registry.Register(counter) //nolint:all
		counter.Add(float64(n))
	}
}

// IncrementDaily atomically increments a daily counter for today
func (m *Manager) IncrementDaily(key string) {
	m.IncrementDailyBy(key, 1)
}

// IncrementDailyBy atomically increments a daily counter by n for today
func (m *Manager) IncrementDailyBy(key string, n int64) {
	today := time.Now().UTC().Format(dateLayout)
	dailyKey := fmt.Sprintf("%s_%s", key, today)

	// Get or create Prometheus counter for this daily key
	counterInterface, _ := m.genericCounters.LoadOrStore(dailyKey, prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: strings.ReplaceAll(key, "-", "_"),
			Help: fmt.Sprintf("Daily count for %s", key),
			ConstLabels: prometheus.Labels{
				"service": m.serviceName,
				"date":    today,
			},
		},
	))

	if counter, ok := counterInterface.(prometheus.Counter); ok {
		// Try to register the counter (ignore already registered errors)
		m.registry.Register(counter) //nolint:all
		counter.Add(float64(n))
	}
}

// IncrementDailyWithLabels atomically increments a daily counter with labels for today
func (m *Manager) IncrementDailyWithLabels(key string, labels map[string]string) {
	m.IncrementDailyWithLabelsBy(key, labels, 1)
}

// IncrementDailyWithLabelsBy atomically increments a daily counter with labels by n for today
func (m *Manager) IncrementDailyWithLabelsBy(key string, labels map[string]string, n int64) {
	today := time.Now().UTC().Format(dateLayout)

	// Use Prometheus metrics for tool calls and errors
	switch key {
	case "tool_calls":
		if tool, ok := labels["tool"]; ok {
			sessionType := labels["session_type"]
			if sessionType == "" {
				sessionType = "unknown"
			}
			m.toolCallsVec.WithLabelValues(tool, sessionType, today, m.serviceName).Add(float64(n))
		}
	case "tool_errors":
		if tool, ok := labels["tool"]; ok {
			errorType := labels["error_type"]
			sessionType := labels["session_type"]
			if sessionType == "" {
				sessionType = "unknown"
			}
			if errorType == "" {
				errorType = "unknown"
			}
			m.toolErrorsVec.WithLabelValues(tool, errorType, sessionType, today, m.serviceName).Add(float64(n))
		}
	}
}

// ObserveView counts one render of the named view
func (m *Manager) ObserveView(view string) {
	m.viewRendersVec.WithLabelValues(view, m.serviceName).Inc()
}

// RecordCatalogReload counts a reload attempt and tracks the catalog size on success
func (m *Manager) RecordCatalogReload(count int, err error) {
	if err != nil {
		m.catalogReloadsVec.WithLabelValues("failure", m.serviceName).Inc()
		return
	}
	m.catalogReloadsVec.WithLabelValues("success", m.serviceName).Inc()
	m.catalogSize.Set(float64(count))
}

// TrackDailyClient tracks a unique MCP client for today
func (m *Manager) TrackDailyClient(clientID string) {
	if clientID == "" {
		return
	}

	today := time.Now().UTC().Format(dateLayout)

	dayClientsInterface, _ := m.dailyClients.LoadOrStore(today, &clientSet{})
	dayClients, ok := dayClientsInterface.(*clientSet)
	if !ok {
		return // Skip if type assertion fails
	}

	if _, exists := dayClients.clients.LoadOrStore(clientID, true); !exists {
		atomic.AddInt64(&dayClients.count, 1)
		m.dailyClientsVec.WithLabelValues(today, m.serviceName).Set(float64(atomic.LoadInt64(&dayClients.count)))
	}
}

// GetDailyClientCount returns unique client count for a specific date
func (m *Manager) GetDailyClientCount(date string) int64 {
	if dayClientsInterface, ok := m.dailyClients.Load(date); ok {
		if dayClients, ok := dayClientsInterface.(*clientSet); ok {
			return atomic.LoadInt64(&dayClients.count)
		}
	}
	return 0
}

// GetTodayClientCount returns today's unique client count
func (m *Manager) GetTodayClientCount() int64 {
	return m.GetDailyClientCount(time.Now().UTC().Format(dateLayout))
}

// CleanupOldData removes client data older than the configured retention period
func (m *Manager) CleanupOldData() int {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.cleanupRetentionDays)

	var keysToDelete []string
	m.dailyClients.Range(func(key, _ any) bool {
		dateStr, ok := key.(string)
		if !ok {
			return true
		}

		if date, err := time.Parse(dateLayout, dateStr); err == nil && date.Before(cutoff) {
			keysToDelete = append(keysToDelete, dateStr)
		}
		return true
	})

	for _, key := range keysToDelete {
		m.dailyClients.Delete(key)
		m.dailyClientsVec.DeleteLabelValues(key, m.serviceName)
	}

	return len(keysToDelete)
}

// startCleanupRoutine schedules CleanupOldData every Saturday at 3 AM UTC
func (m *Manager) startCleanupRoutine() {
	m.cleanup = cron.New(cron.WithLocation(time.UTC))
	if _, err := m.cleanup.AddFunc(DefaultCleanupSchedule, func() { m.CleanupOldData() }); err != nil {
		m.cleanup = nil
		return
	}
	m.cleanup.Start()
}

// Shutdown stops the cleanup routine
func (m *Manager) Shutdown() {
	m.cleanupOnce.Do(func() {
		if m.cleanup != nil {
			<-m.cleanup.Stop().Done()
		}
	})
}

// HTTPHandler returns an HTTP handler for the metrics endpoint
func (m *Manager) HTTPHandler() http.HandlerFunc {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP
}

// AdminHTTPHandler returns an HTTP handler with admin path protection
func (m *Manager) AdminHTTPHandler() http.HandlerFunc {
	if m.adminSecretPath == "" {
		return m.disabledHandler()
	}

	expectedPath := AdminPathPrefix + m.adminSecretPath + MetricsPathSuffix

	return func(w http.ResponseWriter, r *http.Request) {
		if !m.isValidAdminPath(r.URL.Path, expectedPath) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}

		m.HTTPHandler()(w, r)
	}
}

// disabledHandler returns a handler that always returns 404
func (m *Manager) disabledHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Admin endpoint disabled", http.StatusNotFound)
	}
}

// isValidAdminPath checks if the request path matches the expected admin path
func (m *Manager) isValidAdminPath(requestPath, expectedPath string) bool {
	return requestPath == expectedPath
}
