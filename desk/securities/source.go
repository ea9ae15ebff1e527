package securities

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"gopkg.in/yaml.v3"
)

// Source produces the full set of securities for the catalog.
type Source interface {
	Name() string
	Load() ([]Security, error)
}

// StaticSource serves a fixed list; used for the sample catalog and tests.
type StaticSource []Security

func (StaticSource) Name() string { return "static" }

func (s StaticSource) Load() ([]Security, error) {
	out := make([]Security, len(s))
	copy(out, s)
	return out, nil
}

// catalogFile is the on-disk YAML layout:
//
//	securities:
//	  - ticker: AMD
//	    security_type: put
//	    strike: 65
//	    weight: 0.5
//	    expiry: 2020-09-20
type catalogFile struct {
	Securities []Security `yaml:"securities"`
}

// YAMLFileSource reads a catalog file.
type YAMLFileSource struct {
	Path string
}

func (s YAMLFileSource) Name() string { return "yaml:" + s.Path }

func (s YAMLFileSource) Load() ([]Security, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseYAML(f)
}

// ParseYAML decodes a catalog document.
func ParseYAML(r io.Reader) ([]Security, error) {
	var doc catalogFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return doc.Securities, nil
}

// CSVFileSource reads a catalog in the format written by WriteCSV.
type CSVFileSource struct {
	Path string
}

func (s CSVFileSource) Name() string { return "csv:" + s.Path }

func (s CSVFileSource) Load() ([]Security, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f)
}

// KiteCSVSource imports option rows (CE/PE) from a Kite Connect
// instruments dump. Other instrument types are skipped.
type KiteCSVSource struct {
	Path string
	// Weight is assigned to every imported contract. Zero means 1.
	Weight float64
}

func (s KiteCSVSource) Name() string { return "kite:" + s.Path }

func (s KiteCSVSource) Load() ([]Security, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open instruments dump: %w", err)
	}
	defer func() { _ = f.Close() }()

	var rows []kiteconnect.Instrument
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("parse instruments dump: %w", err)
	}
	return FromKiteInstruments(rows, s.Weight), nil
}

// FromKiteInstruments converts Kite option instruments into securities.
func FromKiteInstruments(rows []kiteconnect.Instrument, weight float64) []Security {
	if weight == 0 {
		weight = 1
	}
	out := make([]Security, 0, len(rows))
	for _, row := range rows {
		kind, err := ParseSecurityType(row.InstrumentType)
		if err != nil {
			continue
		}
		ticker := strings.TrimSpace(row.Name)
		if ticker == "" {
			ticker = row.Tradingsymbol
		}
		out = append(out, Security{
			Ticker:       ticker,
			SecurityType: kind,
			Strike:       row.StrikePrice,
			Weight:       weight,
			Expiry:       DateOf(row.Expiry.Time),
		})
	}
	return out
}

// WriteCSV exports securities with a header row.
func WriteCSV(w io.Writer, secs []Security) error {
	if secs == nil {
		secs = []Security{}
	}
	if err := gocsv.Marshal(&secs, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// ReadCSV parses the format written by WriteCSV.
func ReadCSV(r io.Reader) ([]Security, error) {
	var secs []Security
	if err := gocsv.Unmarshal(r, &secs); err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return secs, nil
}
