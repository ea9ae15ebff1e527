package securities

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSample(t *testing.T) {
	s := Sample()

	assert.Equal(t, "AMD", s.Ticker)
	assert.Equal(t, Put, s.SecurityType)
	assert.Equal(t, 65.0, s.Strike)
	assert.Equal(t, 0.5, s.Weight)
	assert.Equal(t, 2020, s.Expiry.Year())
	assert.Equal(t, time.September, s.Expiry.Month())
	assert.Equal(t, 20, s.Expiry.Day())
	assert.NoError(t, s.Validate())
}

func TestSecurityID(t *testing.T) {
	tests := []struct {
		name     string
		security Security
		expected string
	}{
		{"sample put", Sample(), "AMD200920P00065000"},
		{"fractional call strike", Security{Ticker: "spy", SecurityType: Call, Strike: 412.5, Expiry: NewDate(2024, time.March, 15)}, "SPY240315C00412500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.security.ID())
		})
	}
}

func TestSecurityValidate(t *testing.T) {
	valid := Sample()

	tests := []struct {
		name    string
		mutate  func(*Security)
		wantErr error
	}{
		{"valid", func(*Security) {}, nil},
		{"empty ticker", func(s *Security) { s.Ticker = "  " }, ErrEmptyTicker},
		{"bad type", func(s *Security) { s.SecurityType = "straddle" }, ErrInvalidType},
		{"zero strike", func(s *Security) { s.Strike = 0 }, ErrNonPositiveStrike},
		{"negative strike", func(s *Security) { s.Strike = -1 }, ErrNonPositiveStrike},
		{"nan strike", func(s *Security) { s.Strike = math.NaN() }, ErrNonPositiveStrike},
		{"infinite weight", func(s *Security) { s.Weight = math.Inf(1) }, ErrInvalidWeight},
		{"negative weight is a short", func(s *Security) { s.Weight = -0.25 }, nil},
		{"zero expiry", func(s *Security) { s.Expiry = Date{} }, ErrInvalidExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseSecurityType(t *testing.T) {
	for _, in := range []string{"call", "CALL", "C", "ce"} {
		got, err := ParseSecurityType(in)
		require.NoError(t, err, in)
		assert.Equal(t, Call, got)
	}
	for _, in := range []string{"put", "Put", "p", "PE"} {
		got, err := ParseSecurityType(in)
		require.NoError(t, err, in)
		assert.Equal(t, Put, got)
	}

	_, err := ParseSecurityType("FUT")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestSecurityJSON(t *testing.T) {
	b, err := json.Marshal(Sample())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticker":"AMD","security_type":"put","strike":65,"weight":0.5,"expiry":"2020-09-20"}`, string(b))

	var decoded Security
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, Sample(), decoded)

	err = json.Unmarshal([]byte(`{"expiry":"20-09-2020"}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidExpiry)
}

func TestSecurityYAML(t *testing.T) {
	doc := `
ticker: AMD
security_type: put
strike: 65
weight: 0.5
expiry: 2020-09-20
`
	var s Security
	require.NoError(t, yaml.Unmarshal([]byte(doc), &s))
	assert.Equal(t, Sample(), s)

	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "expiry: \"2020-09-20\"") || strings.Contains(string(out), "expiry: 2020-09-20"))
}

func TestDateDaysUntil(t *testing.T) {
	from := NewDate(2020, time.August, 12)
	assert.Equal(t, 8, from.DaysUntil(NewDate(2020, time.August, 20)))
	assert.Equal(t, -8, NewDate(2020, time.August, 20).DaysUntil(from))
	assert.Equal(t, "", Date{}.String())
}

func TestListingJSON(t *testing.T) {
	b, err := json.Marshal(Sample().Listing())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"AMD200920P00065000","ticker":"AMD","security_type":"put","strike":65,"weight":0.5,"expiry":"2020-09-20"}`, string(b))

	assert.Len(t, Listings(getTestSecurities()), 4)
}
