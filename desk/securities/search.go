package securities

import (
	"cmp"
	"slices"
	"strings"
)

// GetByID returns a security using its contract symbol.
func (m *Manager) GetByID(id string) (Security, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	sec, ok := m.idToSecurity[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return Security{}, ErrSecurityNotFound
	}
	return *sec, nil
}

// tickerKey normalizes a ticker the way ID does.
func tickerKey(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// GetByTicker returns all contracts written on the underlying ticker,
// matched case-insensitively.
func (m *Manager) GetByTicker(ticker string) ([]Security, error) {
	m.mutex.RLock()
	ids, ok := m.tickerToIDs[tickerKey(ticker)]
	out := make([]Security, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.idToSecurity[id])
	}
	m.mutex.RUnlock()

	if !ok || len(out) == 0 {
		return []Security{}, ErrSecurityNotFound
	}
	sortSecurities(out)
	return out, nil
}

// List returns every security in display order.
func (m *Manager) List() []Security {
	return m.Filter(func(Security) bool { return true })
}

// Filter returns the securities matching the filter in display order.
func (m *Manager) Filter(filter func(Security) bool) []Security {
	m.mutex.RLock()
	out := []Security{}
	for _, v := range m.idToSecurity {
		if filter(*v) {
			out = append(out, *v)
		}
	}
	m.mutex.RUnlock()

	sortSecurities(out)
	return out
}

// Search matches the query case-insensitively against ID and ticker.
// An empty query returns everything.
func (m *Manager) Search(query string) []Security {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return m.List()
	}
	return m.Filter(func(s Security) bool {
		return strings.Contains(strings.ToLower(s.ID()), q) ||
			strings.Contains(strings.ToLower(s.Ticker), q)
	})
}

// sortSecurities orders by ticker, expiry, type and strike.
func sortSecurities(secs []Security) {
	slices.SortFunc(secs, func(a, b Security) int {
		return cmp.Or(
			cmp.Compare(a.Ticker, b.Ticker),
			a.Expiry.Compare(b.Expiry.Time),
			cmp.Compare(a.SecurityType, b.SecurityType),
			cmp.Compare(a.Strike, b.Strike),
		)
	})
}
