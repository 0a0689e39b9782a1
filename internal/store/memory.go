package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/terpnesZcorno/trading-server/internal/errors"
	"github.com/terpnesZcorno/trading-server/internal/ledger"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

// Memory is an in-memory Store for tests and paper-trading mode. It
// round-trips documents through JSON so it observes the same encoding
// behavior as the PostgreSQL store.
type Memory struct {
	mu   sync.Mutex
	docs map[int][]byte

	// FailNextSaves makes the next N saves fail with ErrWriteConflict.
	failNextSaves int
	saveCount     int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[int][]byte)}
}

// FailNextSaves arms write-conflict injection for the next n saves.
func (m *Memory) FailNextSaves(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextSaves = n
}

// SaveCount returns the number of save attempts observed.
func (m *Memory) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, id int) (ledger.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return ledger.Portfolio{}, exception.ErrNotFound
	}
	var pf ledger.Portfolio
	if err := json.Unmarshal(doc, &pf); err != nil {
		return ledger.Portfolio{}, errors.Wrapf(err, "decode portfolio %d", id)
	}
	return pf, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, pf ledger.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCount++
	if m.failNextSaves > 0 {
		m.failNextSaves--
		return exception.ErrWriteConflict
	}

	doc, err := json.Marshal(pf)
	if err != nil {
		return errors.Wrapf(err, "encode portfolio %d", pf.ID)
	}
	m.docs[pf.ID] = doc
	return nil
}

// ActiveTrades implements TradeJournal.
func (m *Memory) ActiveTrades(_ context.Context, portfolioID int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[portfolioID]
	if !ok {
		return nil, nil
	}
	var pf ledger.Portfolio
	if err := json.Unmarshal(doc, &pf); err != nil {
		return nil, errors.Wrapf(err, "decode portfolio %d", portfolioID)
	}
	var ids []string
	for i := range pf.Trades {
		if pf.Trades[i].Active {
			ids = append(ids, pf.Trades[i].ID)
		}
	}
	return ids, nil
}
