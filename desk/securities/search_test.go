package securities

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
)

func TestGetByID(t *testing.T) {
	m := newTestManager(t)

	sec, err := m.GetByID("amd200920p00065000")
	require.NoError(t, err)
	assert.Equal(t, Sample(), sec)

	_, err = m.GetByID("NOPE")
	assert.ErrorIs(t, err, ErrSecurityNotFound)
}

func TestGetByTicker(t *testing.T) {
	m := newTestManager(t)

	amd, err := m.GetByTicker("AMD")
	require.NoError(t, err)
	require.Len(t, amd, 3)
	// ordered by expiry
	assert.Equal(t, NewDate(2020, time.August, 22), amd[0].Expiry)
	assert.Equal(t, NewDate(2020, time.September, 20), amd[2].Expiry)

	_, err = m.GetByTicker("TSLA")
	assert.ErrorIs(t, err, ErrSecurityNotFound)
}

func TestGetByTickerIgnoresCase(t *testing.T) {
	m, err := New(Config{Logger: testLogger(), TestData: []Security{
		{Ticker: "amd", SecurityType: Put, Strike: 65, Weight: 1, Expiry: NewDate(2020, time.September, 20)},
		{Ticker: " Amd ", SecurityType: Call, Strike: 70, Weight: 1, Expiry: NewDate(2020, time.September, 20)},
	}})
	require.NoError(t, err)

	_, err = m.GetByID("AMD200920P00065000")
	require.NoError(t, err)

	for _, ticker := range []string{"AMD", "amd", " aMd"} {
		got, err := m.GetByTicker(ticker)
		require.NoError(t, err, ticker)
		assert.Len(t, got, 2, ticker)
	}

	assert.Equal(t, 1, m.Replace([]Security{
		{Ticker: "spy", SecurityType: Call, Strike: 340, Weight: 1, Expiry: NewDate(2020, time.September, 18)},
	}))
	spy, err := m.GetByTicker("SPY")
	require.NoError(t, err)
	assert.Len(t, spy, 1)
}

func TestListOrder(t *testing.T) {
	m := newTestManager(t)

	list := m.List()
	require.Len(t, list, 4)

	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID()
	}
	assert.Equal(t, []string{
		"AMD200822P00060000",
		"AMD200831C00069000",
		"AMD200920P00065000",
		"SPY200918C00340000",
	}, ids)
}

func TestSearch(t *testing.T) {
	m := newTestManager(t)

	assert.Len(t, m.Search(""), 4)
	assert.Len(t, m.Search("amd"), 3)
	assert.Len(t, m.Search("C0034"), 1)
	assert.Empty(t, m.Search("tsla"))
}

func TestFilter(t *testing.T) {
	m := newTestManager(t)

	puts := m.Filter(func(s Security) bool { return s.SecurityType == Put })
	assert.Len(t, puts, 2)
	for _, p := range puts {
		assert.Equal(t, Put, p.SecurityType)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, getTestSecurities()))

	header := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, "ticker,security_type,strike,weight,expiry", header)
	assert.Contains(t, buf.String(), "AMD,put,65,0.5,2020-09-20")

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, getTestSecurities(), back)
}

func TestCSVFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, getTestSecurities()))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	m, err := New(Config{Source: CSVFileSource{Path: path}, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 4, m.Count())

	_, err = CSVFileSource{Path: filepath.Join(t.TempDir(), "missing.csv")}.Load()
	assert.Error(t, err)
}

func TestFromKiteInstruments(t *testing.T) {
	expiry := models.Time{Time: time.Date(2020, time.September, 24, 0, 0, 0, 0, time.UTC)}
	rows := []kiteconnect.Instrument{
		{Tradingsymbol: "NIFTY20SEP11000CE", Name: "NIFTY", StrikePrice: 11000, InstrumentType: "CE", Expiry: expiry},
		{Tradingsymbol: "NIFTY20SEP10500PE", Name: "NIFTY", StrikePrice: 10500, InstrumentType: "PE", Expiry: expiry},
		{Tradingsymbol: "NIFTY20SEPFUT", Name: "NIFTY", InstrumentType: "FUT", Expiry: expiry},
		{Tradingsymbol: "INFY", Name: "INFOSYS", InstrumentType: "EQ"},
	}

	got := FromKiteInstruments(rows, 0)
	require.Len(t, got, 2)

	assert.Equal(t, Security{
		Ticker:       "NIFTY",
		SecurityType: Call,
		Strike:       11000,
		Weight:       1,
		Expiry:       NewDate(2020, time.September, 24),
	}, got[0])
	assert.Equal(t, Put, got[1].SecurityType)
	assert.NoError(t, got[1].Validate())
}

func TestStaticSourceCopies(t *testing.T) {
	src := StaticSource{Sample()}
	out, err := src.Load()
	require.NoError(t, err)
	out[0].Ticker = "CHANGED"

	again, _ := src.Load()
	assert.Equal(t, "AMD", again[0].Ticker)
}
