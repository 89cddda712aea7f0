package storage

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/radiusdt/attribution-pipeline/internal/models"
)

// MemoryStore is an in-memory Store used by tests and dry runs.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]models.Session
	conversions map[string]models.Conversion
	attribution map[string]models.AttributionResult // key: conv_id|session_id
	report      []models.ChannelReportRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]models.Session),
		conversions: make(map[string]models.Conversion),
		attribution: make(map[string]models.AttributionResult),
	}
}

// AddSessions seeds sessions into the store.
func (m *MemoryStore) AddSessions(sessions ...models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		m.sessions[s.SessionID] = s
	}
}

// AddConversions seeds conversions into the store.
func (m *MemoryStore) AddConversions(conversions ...models.Conversion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range conversions {
		m.conversions[c.ConvID] = c
	}
}

func (m *MemoryStore) FetchConversions(ctx context.Context, startDate, endDate string) ([]models.Conversion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Conversion
	for _, c := range m.conversions {
		if d := c.Date(); d >= startDate && d <= endDate {
			out = append(out, c)
		}
	}
	sortConversions(out)
	return out, nil
}

func (m *MemoryStore) FetchSessions(ctx context.Context, userIDs []string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		users[id] = true
	}

	var out []models.Session
	for _, s := range m.sessions {
		if users[s.UserID] {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) FetchSessionsInWindow(ctx context.Context, startDate, endDate string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Session
	for _, s := range m.sessions {
		if d := s.Date(); d >= startDate && d <= endDate {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) FetchConversionsByID(ctx context.Context, convIDs []string) ([]models.Conversion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Conversion
	for _, id := range convIDs {
		if c, ok := m.conversions[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) AttributedConversionIDs(ctx context.Context, convIDs []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attributed := make(map[string]bool)
	for _, r := range m.attribution {
		attributed[r.ConvID] = true
	}

	out := make(map[string]bool)
	for _, id := range convIDs {
		if attributed[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertAttributionResults(ctx context.Context, results []models.AttributionResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted int64
	for _, r := range results {
		key := r.ConvID + "|" + r.SessionID
		if _, ok := m.attribution[key]; ok {
			continue
		}
		m.attribution[key] = r
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) FetchAttributionForSessions(ctx context.Context, sessionIDs []string) ([]models.AttributionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = true
	}

	var out []models.AttributionResult
	for _, r := range m.attribution {
		if wanted[r.SessionID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConvID != out[j].ConvID {
			return out[i].ConvID < out[j].ConvID
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

func (m *MemoryStore) ReplaceChannelReport(ctx context.Context, startDate, endDate string, rows []models.ChannelReportRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.report[:0]
	for _, row := range m.report {
		if row.Date < startDate || row.Date > endDate {
			kept = append(kept, row)
		}
	}
	m.report = append(kept, rows...)
	return nil
}

func (m *MemoryStore) CheckAttributionSums(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := make(map[string]float64)
	for _, r := range m.attribution {
		sums[r.ConvID] += r.IHC
	}

	var bad []string
	for id, sum := range sums {
		if math.Abs(sum-1.0) > attributionSumEpsilon {
			bad = append(bad, id)
		}
	}
	sort.Strings(bad)
	return bad, nil
}

// AttributionCount returns the number of stored attribution rows.
func (m *MemoryStore) AttributionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attribution)
}

// Report returns the stored channel report rows.
func (m *MemoryStore) Report() []models.ChannelReportRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ChannelReportRow, len(m.report))
	copy(out, m.report)
	return out
}

func sortSessions(sessions []models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].EventTime.Equal(sessions[j].EventTime) {
			return sessions[i].EventTime.Before(sessions[j].EventTime)
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
}

func sortConversions(conversions []models.Conversion) {
	sort.Slice(conversions, func(i, j int) bool {
		if !conversions[i].EventTime.Equal(conversions[j].EventTime) {
			return conversions[i].EventTime.Before(conversions[j].EventTime)
		}
		return conversions[i].ConvID < conversions[j].ConvID
	})
}
