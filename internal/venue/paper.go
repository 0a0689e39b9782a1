package venue

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

// Paper is an in-memory venue that fills every order immediately at its
// order price. It serves paper-trading mode and tests; it implements
// both Adapter and Router.
type Paper struct {
	name string

	mu        sync.Mutex
	positions map[string]LivePosition
	fills     func(event.Fill)
}

// NewPaper creates a paper venue. Fills are delivered through the
// callback, which must not block.
func NewPaper(name string, fills func(event.Fill)) *Paper {
	return &Paper{
		name:      name,
		positions: make(map[string]LivePosition),
		fills:     fills,
	}
}

// Name implements Adapter.
func (p *Paper) Name() string { return p.name }

// Submit implements Router. The order fills in full at its limit price.
func (p *Paper) Submit(_ context.Context, order event.Order) error {
	if !order.Size.IsPositive() {
		return exception.ErrInvalidArgument
	}

	p.mu.Lock()
	if order.Exit {
		p.reduce(order.Instrument, order.Size)
	} else {
		p.grow(order)
	}
	fills := p.fills
	p.mu.Unlock()

	if fills != nil {
		fills(event.Fill{
			OrderID:    order.ID,
			Venue:      p.name,
			Instrument: order.Instrument,
			Side:       order.Side,
			Size:       order.Size,
			Price:      order.Price,
			At:         time.Now().UTC(),
		})
	}
	return nil
}

// GetPositions implements Adapter.
func (p *Paper) GetPositions(_ context.Context) ([]LivePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]LivePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

// GetOrders implements Adapter. Paper orders fill instantly, so the
// working order list is always empty.
func (p *Paper) GetOrders(_ context.Context) ([]LiveOrder, error) {
	return nil, nil
}

// SetPosition plants a live position directly, bypassing order flow.
// Test hook for reconciliation scenarios.
func (p *Paper) SetPosition(pos LivePosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[pos.Instrument] = pos
}

// DropPosition removes the live position for an instrument.
func (p *Paper) DropPosition(instrument string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, instrument)
}

func (p *Paper) grow(order event.Order) {
	pos, ok := p.positions[order.Instrument]
	if !ok {
		p.positions[order.Instrument] = LivePosition{
			Instrument: order.Instrument,
			Side:       order.Side,
			Size:       order.Size,
			AvgPrice:   order.Price,
		}
		return
	}

	total := pos.Size.Add(order.Size)
	pos.AvgPrice = pos.AvgPrice.Mul(pos.Size).
		Add(order.Price.Mul(order.Size)).
		Div(total)
	pos.Size = total
	p.positions[order.Instrument] = pos
}

func (p *Paper) reduce(instrument string, size decimal.Decimal) {
	pos, ok := p.positions[instrument]
	if !ok {
		return
	}
	pos.Size = pos.Size.Sub(size)
	if pos.Size.IsPositive() {
		p.positions[instrument] = pos
		return
	}
	delete(p.positions, instrument)
}
