package sink

import (
	"context"
	"sort"
	"sync"
)

type rowKey struct {
	workUnitID string
	runID      string
}

// MemorySink keeps rows in process. Used for dry runs and tests.
type MemorySink struct {
	mu          sync.RWMutex
	investments map[rowKey]InvestmentRow
	quotes      map[rowKey][]QuoteRow
	writes      int
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{
		investments: make(map[rowKey]InvestmentRow),
		quotes:      make(map[rowKey][]QuoteRow),
	}
}

func (m *MemorySink) WriteWorkUnitInvestments(ctx context.Context, rows []InvestmentRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.investments[rowKey{r.WorkUnitID, r.CategorizationRunID}] = r
		m.writes++
	}
	return nil
}

func (m *MemorySink) WriteWorkUnitInvestmentQuotes(ctx context.Context, rows []QuoteRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	grouped := make(map[rowKey][]QuoteRow)
	for _, r := range rows {
		k := rowKey{r.WorkUnitID, r.CategorizationRunID}
		grouped[k] = append(grouped[k], r)
	}
	for k, qs := range grouped {
		existing := m.quotes[k]
		for _, q := range qs {
			replaced := false
			for i := range existing {
				if existing[i].SourceType == q.SourceType && existing[i].SourceID == q.SourceID {
					existing[i] = q
					replaced = true
				}
			}
			if !replaced {
				existing = append(existing, q)
			}
		}
		m.quotes[k] = existing
	}
	return nil
}

func (m *MemorySink) FetchWorkUnitInvestment(ctx context.Context, workUnitID, runID string) (*InvestmentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.investments[rowKey{workUnitID, runID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemorySink) FetchLatestWorkUnitInvestment(ctx context.Context, workUnitID string) (*InvestmentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *InvestmentRow
	for k, r := range m.investments {
		if k.workUnitID != workUnitID {
			continue
		}
		if latest == nil || r.ComputedAt.After(latest.ComputedAt) ||
			(r.ComputedAt.Equal(latest.ComputedAt) && r.CategorizationRunID > latest.CategorizationRunID) {
			row := r
			latest = &row
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *MemorySink) FetchWorkUnitInvestmentQuotes(ctx context.Context, workUnitID, runID string) ([]QuoteRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]QuoteRow(nil), m.quotes[rowKey{workUnitID, runID}]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceType != out[j].SourceType {
			return out[i].SourceType < out[j].SourceType
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out, nil
}

// Len returns the number of distinct (unit, run) rows held
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.investments)
}

// Writes returns the number of row deliveries, including duplicates
func (m *MemorySink) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemorySink) Close() error { return nil }
