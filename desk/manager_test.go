package desk

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/optiondesk/app/metrics"
	"github.com/optiondesk/optiondesk/desk/securities"
)

func newTestSecurities(t *testing.T) *securities.Manager {
	t.Helper()
	m, err := securities.New(securities.Config{
		Logger:   testLogger(),
		TestData: []securities.Security{securities.Sample()},
	})
	require.NoError(t, err)
	return m
}

func newTestDesk(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		Logger:     testLogger(),
		Metrics:    metrics.New(metrics.Config{ServiceName: "test"}),
		Securities: newTestSecurities(t),
		Version:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Securities: newTestSecurities(t)})
	assert.Error(t, err, "logger is required")

	_, err = New(Config{Logger: testLogger()})
	assert.Error(t, err, "securities manager is required")
}

func TestNew_Defaults(t *testing.T) {
	m, err := New(Config{Logger: testLogger(), Securities: newTestSecurities(t)})
	require.NoError(t, err)
	defer m.Shutdown()

	assert.Equal(t, DefaultRiskFreeRate, m.RiskFreeRate())
	assert.False(t, m.HasMetrics())
	assert.NotNil(t, m.SessionManager())

	zero := 0.0
	zeroRate, err := New(Config{Logger: testLogger(), Securities: newTestSecurities(t), RiskFreeRate: &zero})
	require.NoError(t, err)
	defer zeroRate.Shutdown()
	assert.Equal(t, 0.0, zeroRate.RiskFreeRate())

	// metrics helpers are no-ops without a metrics manager
	m.IncrementDailyMetricWithLabels("tool_calls", map[string]string{"tool": "get_option"})
	m.TrackClient("client")
}

func TestRenderViewAndStatus(t *testing.T) {
	m := newTestDesk(t)
	m.SessionManager().Generate()
	m.TrackClient("client-a")
	m.TrackClient("client-b")
	m.TrackClient("client-a")

	status := m.Status()
	assert.Equal(t, 1, status.Securities)
	assert.Equal(t, 1, status.Sessions)
	assert.Equal(t, int64(2), status.ClientsToday)
	assert.False(t, status.LastReload.IsZero())

	var buf bytes.Buffer
	require.NoError(t, m.RenderView(&buf, ViewStatus, status))
	assert.Contains(t, buf.String(), "Serving 1 securities")
	assert.Contains(t, buf.String(), "2 clients today")

	buf.Reset()
	err := m.RenderView(&buf, "nope", nil)
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestReloadCatalog_NoSource(t *testing.T) {
	m := newTestDesk(t)
	assert.ErrorIs(t, m.ReloadCatalog(), securities.ErrNoSource)
	assert.Equal(t, 1, m.Securities.Count())
}

func TestReloadFailureIsCounted(t *testing.T) {
	secs, err := securities.New(securities.Config{
		Source:       securities.YAMLFileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")},
		Logger:       testLogger(),
		TestData:     []securities.Security{securities.Sample()},
		ReloadConfig: &securities.ReloadConfig{RetryAttempts: 1, RetryDelay: time.Millisecond},
	})
	require.NoError(t, err)

	mm := metrics.New(metrics.Config{ServiceName: "test"})
	t.Cleanup(mm.Shutdown)
	m, err := New(Config{Logger: testLogger(), Metrics: mm, Securities: secs})
	require.NoError(t, err)
	defer m.Shutdown()

	// once directly, as the scheduler does, and once through the desk
	assert.Error(t, secs.Reload())
	assert.Error(t, m.ReloadCatalog())

	rec := httptest.NewRecorder()
	mm.HTTPHandler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `catalog_reloads_total{result="failure",service="test"} 2`)
	assert.Equal(t, 1, m.Securities.Count())
}
