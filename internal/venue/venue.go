// Package venue defines the boundary to exchange connectivity: adapters
// report live state for reconciliation, the router accepts admitted
// orders for execution.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/terpnesZcorno/trading-server/internal/event"
)

// LivePosition is a venue-reported open position.
type LivePosition struct {
	Instrument string
	Side       event.Side
	Size       decimal.Decimal
	AvgPrice   decimal.Decimal
}

// LiveOrder is a venue-reported working order.
type LiveOrder struct {
	ID         string
	Instrument string
	Side       event.Side
	Size       decimal.Decimal
	Price      decimal.Decimal
}

// Adapter is one exchange connection. Queries are bounded by the
// caller's context; reconciliation treats a failed or timed-out query
// as venue-unavailable rather than stalling the pass.
type Adapter interface {
	Name() string
	GetPositions(ctx context.Context) ([]LivePosition, error)
	GetOrders(ctx context.Context) ([]LiveOrder, error)
}

// Router receives order events emitted on admission.
type Router interface {
	Submit(ctx context.Context, order event.Order) error
}
