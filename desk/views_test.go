package desk

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/pricing"
)

func TestViewsRegistry(t *testing.T) {
	views := NewViews()
	views.Register("hello", func(w io.Writer, data any) error {
		_, err := io.WriteString(w, "hello "+data.(string))
		return err
	})

	var buf bytes.Buffer
	require.NoError(t, views.Render(&buf, "hello", "desk"))
	assert.Equal(t, "hello desk", buf.String())

	err := views.Render(&buf, "missing", nil)
	assert.ErrorIs(t, err, ErrViewNotFound)

	assert.Equal(t, []string{"hello"}, views.Names())
}

func TestDefaultViewsNames(t *testing.T) {
	views, err := DefaultViews()
	require.NoError(t, err)
	assert.Equal(t, []string{ViewOptionDetail, ViewOptionsList, ViewStatus}, views.Names())
}

func TestRenderOptionsList(t *testing.T) {
	views, err := DefaultViews()
	require.NoError(t, err)

	call := securities.Security{Ticker: "AMD", SecurityType: securities.Call, Strike: 69, Weight: 1, Expiry: securities.NewDate(2020, time.August, 31)}

	var buf bytes.Buffer
	err = views.Render(&buf, ViewOptionsList, OptionsListPage{
		Query:   "amd",
		Options: []securities.Security{securities.Sample(), call},
	})
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, "<title>Options · optiondesk</title>")
	assert.Contains(t, html, `href="/options/AMD200920P00065000"`)
	assert.Contains(t, html, `href="/options/AMD200831C00069000"`)
	assert.Contains(t, html, "65.00")
	assert.Contains(t, html, "2020-09-20")
	assert.Contains(t, html, `value="amd"`)

	buf.Reset()
	require.NoError(t, views.Render(&buf, ViewOptionsList, []securities.Security{}))
	assert.Contains(t, buf.String(), "No options found.")
}

func TestRenderOptionDetail(t *testing.T) {
	views, err := DefaultViews()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, views.Render(&buf, ViewOptionDetail, securities.Sample()))

	html := buf.String()
	assert.Contains(t, html, "<h1>AMD200920P00065000</h1>")
	assert.Contains(t, html, "<td>AMD</td>")
	assert.Contains(t, html, `<td class="put">put</td>`)
	assert.Contains(t, html, "<td>65.00</td>")
	assert.Contains(t, html, "<td>0.5</td>")
	assert.Contains(t, html, "<td>2020-09-20</td>")
	assert.NotContains(t, html, "Black-Scholes")
}

func TestRenderOptionDetailWithQuote(t *testing.T) {
	views, err := DefaultViews()
	require.NoError(t, err)

	q := pricing.Quote(pricing.Put, 60, 65, 0.1, 0.1, 0.5)
	var buf bytes.Buffer
	require.NoError(t, views.Render(&buf, ViewOptionDetail, OptionDetailPage{
		Title:    "AMD put",
		Security: securities.Sample(),
		Quote:    &q,
	}))

	html := buf.String()
	assert.Contains(t, html, "<h1>AMD put</h1>")
	assert.Contains(t, html, "Black-Scholes")
	assert.Contains(t, html, q.Price.String())
}

func TestRenderInvalidData(t *testing.T) {
	views, err := DefaultViews()
	require.NoError(t, err)

	var buf bytes.Buffer
	err = views.Render(&buf, ViewOptionDetail, "not a security")
	assert.ErrorIs(t, err, ErrInvalidViewData)

	bad := securities.Sample()
	bad.Strike = 0
	err = views.Render(&buf, ViewOptionDetail, bad)
	assert.True(t, errors.Is(err, ErrInvalidViewData))

	err = views.Render(&buf, ViewStatus, nil)
	assert.ErrorIs(t, err, ErrInvalidViewData)
}
