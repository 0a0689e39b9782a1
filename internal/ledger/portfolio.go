// Package ledger owns the authoritative record of open positions, trades
// and capital allocation for one portfolio.
//
// The ledger holds no locking discipline of its own: all reads-for-decision
// and mutations must be serialized by the caller (the event processor runs
// a single dispatch worker).
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/risk"
)

// Position is a single open holding on one venue/instrument.
type Position struct {
	Venue         string          `json:"venue"`
	Instrument    string          `json:"instrument"`
	Side          event.Side      `json:"side"`
	Size          decimal.Decimal `json:"size"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	OpenedAt      time.Time       `json:"openedAt"`
}

// OrderKind separates opening orders from closing orders.
type OrderKind uint8

const (
	OrderKindUnknown OrderKind = iota
	OrderKindEntry
	OrderKindExit
)

// OrderState tracks the lifecycle of an order held against a trade.
type OrderState uint8

const (
	OrderStateUnknown OrderState = iota
	OrderStatePending
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
)

// Open reports whether the order can still receive fills.
func (s OrderState) Open() bool {
	return s == OrderStatePending || s == OrderStatePartFilled
}

// Order is the ledger's view of an order working at a venue.
type Order struct {
	ID         string          `json:"id"`
	TradeID    string          `json:"tradeId"`
	Venue      string          `json:"venue"`
	Instrument string          `json:"instrument"`
	Side       event.Side      `json:"side"`
	Size       decimal.Decimal `json:"size"`
	FilledSize decimal.Decimal `json:"filledSize"`
	Price      decimal.Decimal `json:"price"`
	StopPrice  decimal.Decimal `json:"stopPrice"`
	Kind       OrderKind       `json:"kind"`
	State      OrderState      `json:"state"`
}

// Trade groups the positions opened under a single strategy signal.
//
// A trade is active from the moment it is recorded pending until its last
// position closes or reconciliation force-closes it. The transition to
// inactive happens exactly once.
type Trade struct {
	ID          string          `json:"id"`
	Model       string          `json:"model"`
	Venue       string          `json:"venue"`
	Instrument  string          `json:"instrument"`
	Active      bool            `json:"active"`
	Orders      []Order         `json:"orders"`
	Positions   []Position      `json:"positions"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	OpenedAt    time.Time       `json:"openedAt"`
	ClosedAt    time.Time       `json:"closedAt"`
	Note        string          `json:"note,omitempty"`
}

// Portfolio is the aggregate risk/capital state for one account.
type Portfolio struct {
	ID               int                        `json:"id"`
	StartDate        time.Time                  `json:"startDate"`
	InitialFunds     decimal.Decimal            `json:"initialFunds"`
	CurrentValue     decimal.Decimal            `json:"currentValue"`
	PeakValue        decimal.Decimal            `json:"peakValue"`
	CurrentDrawdown  decimal.Decimal            `json:"currentDrawdown"`
	Trades           []Trade                    `json:"trades"`
	ModelAllocations map[string]decimal.Decimal `json:"modelAllocations"`
	Risk             risk.Config                `json:"risk"`
}

// NewPortfolio creates an empty portfolio with equal-weighted model
// allocations and the given risk configuration.
func NewPortfolio(id int, initialFunds decimal.Decimal, models []string, cfg risk.Config) Portfolio {
	allocations := make(map[string]decimal.Decimal, len(models))
	if len(models) > 0 {
		weight := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(models))))
		for _, model := range models {
			allocations[model] = weight
		}
	}

	return Portfolio{
		ID:               id,
		StartDate:        time.Now().UTC(),
		InitialFunds:     initialFunds,
		CurrentValue:     initialFunds,
		PeakValue:        initialFunds,
		CurrentDrawdown:  decimal.Zero,
		Trades:           []Trade{},
		ModelAllocations: allocations,
		Risk:             cfg,
	}
}

// OpenPositionCount returns the number of open positions in the trade.
func (t *Trade) OpenPositionCount() int {
	count := 0
	for i := range t.Positions {
		if t.Positions[i].Size.IsPositive() {
			count++
		}
	}
	return count
}

// ExitWorking reports whether the trade has an exit order still open.
// While one is working, stop triggers for the trade are suppressed.
func (t *Trade) ExitWorking() bool {
	return t.hasOpenOrders(OrderKindExit)
}

// openOrder returns the first open order matching the id.
func (t *Trade) openOrder(orderID string) *Order {
	for i := range t.Orders {
		if t.Orders[i].ID == orderID && t.Orders[i].State.Open() {
			return &t.Orders[i]
		}
	}
	return nil
}

// Position returns the trade's position for the venue/instrument pair.
func (t *Trade) Position(venue, instrument string) (*Position, bool) {
	pos := t.position(venue, instrument)
	return pos, pos != nil
}

func (t *Trade) position(venue, instrument string) *Position {
	for i := range t.Positions {
		if t.Positions[i].Venue == venue && t.Positions[i].Instrument == instrument {
			return &t.Positions[i]
		}
	}
	return nil
}

func clonePortfolio(pf Portfolio) Portfolio {
	out := pf
	out.Trades = make([]Trade, len(pf.Trades))
	for i, trade := range pf.Trades {
		out.Trades[i] = trade
		out.Trades[i].Orders = append([]Order(nil), trade.Orders...)
		out.Trades[i].Positions = append([]Position(nil), trade.Positions...)
	}
	out.ModelAllocations = make(map[string]decimal.Decimal, len(pf.ModelAllocations))
	for model, pct := range pf.ModelAllocations {
		out.ModelAllocations[model] = pct
	}
	out.Risk = pf.Risk.Clone()
	return out
}
