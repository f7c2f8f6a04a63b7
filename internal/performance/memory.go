package performance

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process Store used when no database is configured
// and as the fallback while one is unreachable.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func key(pattern, regime string) string {
	return pattern + "|" + regime
}

// Get returns the record for the pair and whether it exists.
func (m *MemoryStore) Get(_ context.Context, pattern, regime string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key(pattern, regime)]
	if !ok {
		return Record{}, false, nil
	}
	return *rec, true, nil
}

// Add folds one closed trade into the pair's record.
func (m *MemoryStore) Add(_ context.Context, result TradeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(result.PatternName, result.Regime)
	rec, ok := m.records[k]
	if !ok {
		rec = &Record{PatternName: result.PatternName, Regime: result.Regime}
		m.records[k] = rec
	}
	rec.apply(result)
	return nil
}

// All returns every record sorted by pattern then regime.
func (m *MemoryStore) All(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatternName != out[j].PatternName {
			return out[i].PatternName < out[j].PatternName
		}
		return out[i].Regime < out[j].Regime
	})
	return out, nil
}
