// Package risk decides whether a strategy signal may become an order and
// how large that order is allowed to be. Evaluation is pure: it reads a
// point-in-time view of the portfolio and never mutates it.
package risk

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/terpnesZcorno/trading-server/internal/event"
)

// Reason explains a rejected signal. Rejections are a normal decision
// outcome, not errors.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonMaxPositionsExceeded
	ReasonMaxCorrelatedExceeded
	ReasonMaxDrawdownExceeded
	ReasonZeroSize
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMaxPositionsExceeded:
		return "max simultaneous positions exceeded"
	case ReasonMaxCorrelatedExceeded:
		return "max correlated trades exceeded"
	case ReasonMaxDrawdownExceeded:
		return "max accepted drawdown exceeded"
	case ReasonZeroSize:
		return "computed position size is zero"
	default:
		return "unknown"
	}
}

// View is the portfolio snapshot an evaluation runs against. It is built
// by the event processor while holding the ledger.
type View struct {
	CurrentValue    decimal.Decimal
	CurrentDrawdown decimal.Decimal
	// OpenInstruments lists the instrument of every active trade, one
	// entry per trade.
	OpenInstruments []string
	ModelStats      map[string]ModelStats
}

// Decision is the outcome of evaluating one signal.
type Decision struct {
	Admit  bool
	Reason Reason
	// Size is the computed position size in instrument units. Zero
	// unless admitted.
	Size decimal.Decimal
	// StopPrice is the resolved stop level for the order.
	StopPrice decimal.Decimal
}

// Engine evaluates admission decisions against the current risk config.
// The config is guarded by an atomic.Value so a reload goroutine can
// swap limits while the dispatch worker evaluates.
type Engine struct {
	cfg atomic.Value
}

// NewEngine creates a risk engine with the given limits.
func NewEngine(cfg Config) *Engine {
	e := &Engine{}
	e.cfg.Store(cfg.Clone())
	return e
}

// Config returns the engine's current risk limits.
func (e *Engine) Config() Config {
	return e.cfg.Load().(Config)
}

// UpdateConfig swaps the risk limits. Evaluations already in flight
// finish against the limits they loaded.
func (e *Engine) UpdateConfig(cfg Config) {
	e.cfg.Store(cfg.Clone())
}

// Evaluate runs the admission checks in order and sizes the position.
// The checks are strictly ordered so a rejection reason is deterministic:
// position count, correlation, drawdown, then sizing.
func (e *Engine) Evaluate(view View, signal event.Signal) Decision {
	cfg := e.Config()

	if len(view.OpenInstruments) >= cfg.MaxSimultaneousPositions {
		return Decision{Reason: ReasonMaxPositionsExceeded}
	}

	correlated := 0
	for _, instrument := range view.OpenInstruments {
		if cfg.Correlated(instrument, signal.Instrument) {
			correlated++
		}
	}
	if correlated >= cfg.MaxCorrelatedTrades {
		return Decision{Reason: ReasonMaxCorrelatedExceeded}
	}

	if view.CurrentDrawdown.GreaterThanOrEqual(cfg.MaxAcceptedDrawdown) {
		return Decision{Reason: ReasonMaxDrawdownExceeded}
	}

	size, stop := e.size(cfg, view, signal)
	if !size.IsPositive() {
		return Decision{Reason: ReasonZeroSize}
	}

	return Decision{
		Admit:     true,
		Reason:    ReasonNone,
		Size:      size,
		StopPrice: stop,
	}
}

// size computes position size and the resolved stop level. Fixed mode
// risks a fixed percentage of current value against the stop distance.
// Kelly mode scales the risked amount from the model's recorded win
// rate and payoff, falling back to fixed-percent when no history exists.
func (e *Engine) size(cfg Config, view View, signal event.Signal) (size, stop decimal.Decimal) {
	stopFrac := stopFraction(cfg, signal.EntryPrice, signal.StopPrice)
	if !stopFrac.IsPositive() {
		return decimal.Zero, decimal.Zero
	}

	riskAmount := view.CurrentValue.Mul(cfg.RiskPerTrade).Div(oneHundred)
	if cfg.Sizing == SizingKelly {
		if fraction, ok := view.ModelStats[signal.Model].KellyFraction(); ok {
			riskAmount = view.CurrentValue.Mul(fraction)
		} else {
			logs.Debugf("model %s has no kelly history, sizing with fixed %s%%",
				signal.Model, cfg.RiskPerTrade)
		}
	}

	stop = signal.StopPrice
	if stop.IsZero() && signal.EntryPrice.IsPositive() {
		offset := signal.EntryPrice.Mul(stopFrac)
		if signal.Side == event.SideShort {
			stop = signal.EntryPrice.Add(offset)
		} else {
			stop = signal.EntryPrice.Sub(offset)
		}
	}

	return riskAmount.Div(stopFrac), stop
}
