// Package store persists portfolio snapshots as full-document replaces
// keyed by portfolio id. Loading an absent portfolio returns
// exception.ErrNotFound; the caller creates an empty portfolio and
// persists it immediately.
package store

import (
	"context"

	"github.com/terpnesZcorno/trading-server/internal/ledger"
)

// Store is the persistence gateway consumed by the event processor.
type Store interface {
	// Load returns the stored portfolio for the id, or
	// exception.ErrNotFound when no record exists.
	Load(ctx context.Context, id int) (ledger.Portfolio, error)

	// Save replaces the stored document keyed by the portfolio's own
	// id, inserting on first save. A replace that does not affect
	// exactly one record fails with exception.ErrWriteConflict.
	Save(ctx context.Context, pf ledger.Portfolio) error
}

// TradeJournal exposes the per-trade document rows kept alongside the
// portfolio document, for out-of-band inspection.
type TradeJournal interface {
	// ActiveTrades returns the ids of trades stored as active for the
	// portfolio.
	ActiveTrades(ctx context.Context, portfolioID int) ([]string, error)
}
