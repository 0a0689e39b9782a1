// Package event defines the closed set of events flowing through the
// portfolio engine: market prices in, strategy signals in, fills in,
// sized orders out.
package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position or order.
type Side uint8

const (
	SideUnknown Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// Opposite returns the closing direction for a side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideUnknown
	}
}

// Kind tags the event variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPrice
	KindSignal
	KindFill
)

func (k Kind) String() string {
	switch k {
	case KindPrice:
		return "price"
	case KindSignal:
		return "signal"
	case KindFill:
		return "fill"
	default:
		return "unknown"
	}
}

// Price is a market tick for one venue/instrument.
type Price struct {
	Venue      string
	Instrument string
	Mark       decimal.Decimal
	At         time.Time
}

// Signal is a strategy's request to open or close exposure.
type Signal struct {
	Model      string
	Venue      string
	Instrument string
	Side       Side
	EntryPrice decimal.Decimal
	// StopPrice overrides the default stop distance when non-zero.
	StopPrice decimal.Decimal
	// Exit marks the signal as closing an existing trade instead of
	// opening a new one. Exit signals bypass admission checks.
	Exit bool
	// TradeID names the trade an exit signal closes.
	TradeID string
	At      time.Time
}

// Fill is a venue's confirmation that an order (partially) executed.
type Fill struct {
	OrderID    string
	Venue      string
	Instrument string
	Side       Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	At         time.Time
}

// Order is emitted downstream to the order router after admission.
type Order struct {
	ID         string
	TradeID    string
	Model      string
	Venue      string
	Instrument string
	Side       Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	StopPrice  decimal.Decimal
	Exit       bool
	At         time.Time
}

// Event is one tagged variant. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind   Kind
	Price  *Price
	Signal *Signal
	Fill   *Fill
}

// NewPrice wraps a price tick.
func NewPrice(p Price) Event {
	return Event{Kind: KindPrice, Price: &p}
}

// NewSignal wraps a strategy signal.
func NewSignal(s Signal) Event {
	return Event{Kind: KindSignal, Signal: &s}
}

// NewFill wraps a fill confirmation.
func NewFill(f Fill) Event {
	return Event{Kind: KindFill, Fill: &f}
}
