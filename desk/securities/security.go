package securities

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecurityType is the kind of an option contract.
type SecurityType string

const (
	Call SecurityType = "call"
	Put  SecurityType = "put"
)

// ParseSecurityType accepts "call"/"put" in any case as well as the
// exchange shorthands "C"/"P" and "CE"/"PE".
func ParseSecurityType(s string) (SecurityType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C", "CE":
		return Call, nil
	case "PUT", "P", "PE":
		return Put, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

func (t SecurityType) Validate() error {
	if t != Call && t != Put {
		return fmt.Errorf("%w: %q", ErrInvalidType, string(t))
	}
	return nil
}

var (
	ErrEmptyTicker       = errors.New("ticker is empty")
	ErrInvalidType       = errors.New("security type must be call or put")
	ErrNonPositiveStrike = errors.New("strike must be positive")
	ErrInvalidWeight     = errors.New("weight must be a finite number")
	ErrInvalidExpiry     = errors.New("expiry is not a valid date")
)

const dateLayout = "2006-01-02"

// Date is a calendar date stored as UTC midnight.
type Date struct {
	time.Time
}

// NewDate returns the date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %v", ErrInvalidExpiry, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// DaysUntil returns the number of whole days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(math.Round(other.Sub(d.Time).Hours() / 24))
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDate(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalCSV() (string, error) {
	return d.String(), nil
}

func (d *Date) UnmarshalCSV(s string) error {
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Security is a tradable option contract.
type Security struct {
	Ticker       string       `json:"ticker" yaml:"ticker" csv:"ticker"`
	SecurityType SecurityType `json:"security_type" yaml:"security_type" csv:"security_type"`
	Strike       float64      `json:"strike" yaml:"strike" csv:"strike"`
	Weight       float64      `json:"weight" yaml:"weight" csv:"weight"`
	Expiry       Date         `json:"expiry" yaml:"expiry" csv:"expiry"`
}

// Validate checks the contract invariants.
func (s Security) Validate() error {
	if strings.TrimSpace(s.Ticker) == "" {
		return ErrEmptyTicker
	}
	if err := s.SecurityType.Validate(); err != nil {
		return err
	}
	if !(s.Strike > 0) || math.IsInf(s.Strike, 0) {
		return fmt.Errorf("%w: %v", ErrNonPositiveStrike, s.Strike)
	}
	if math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidWeight, s.Weight)
	}
	if s.Expiry.IsZero() {
		return ErrInvalidExpiry
	}
	return nil
}

// ID returns the OCC-style contract symbol, e.g. AMD200920P00065000.
func (s Security) ID() string {
	kind := "C"
	if s.SecurityType == Put {
		kind = "P"
	}
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(strings.TrimSpace(s.Ticker)),
		s.Expiry.Format("060102"),
		kind,
		int64(math.Round(s.Strike*1000)))
}

// Sample is the reference AMD put used when no catalog is configured.
func Sample() Security {
	return Security{
		Ticker:       "AMD",
		SecurityType: Put,
		Strike:       65,
		Weight:       0.5,
		Expiry:       NewDate(2020, time.September, 20),
	}
}

// Listing is a Security together with its ID, as served to clients.
type Listing struct {
	ID string `json:"id" csv:"id"`
	Security
}

func (s Security) Listing() Listing {
	return Listing{ID: s.ID(), Security: s}
}

// Listings converts a slice of securities.
func Listings(secs []Security) []Listing {
	out := make([]Listing, len(secs))
	for i, s := range secs {
		out[i] = s.Listing()
	}
	return out
}
