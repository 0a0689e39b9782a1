package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/risk"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

// StopTrigger flags a position whose mark crossed its stop level. The
// event processor converts triggers into exit signals.
type StopTrigger struct {
	TradeID    string
	Model      string
	Venue      string
	Instrument string
	Side       event.Side
	Size       decimal.Decimal
	StopPrice  decimal.Decimal
	Mark       decimal.Decimal
}

// Ledger is the single source of truth for one portfolio's open
// positions, trade history and capital. Mutations are single-writer;
// callers serialize access.
type Ledger struct {
	pf Portfolio
}

// New wraps a loaded portfolio.
func New(pf Portfolio) *Ledger {
	l := &Ledger{pf: pf}
	l.recomputeValue()
	return l
}

// ID returns the portfolio id.
func (l *Ledger) ID() int {
	return l.pf.ID
}

// Snapshot returns a deep copy of the portfolio for persistence or
// inspection.
func (l *Ledger) Snapshot() Portfolio {
	return clonePortfolio(l.pf)
}

// ActiveTrades returns pointers to every trade still marked active.
// Callers must hold the single-writer discipline while using them.
func (l *Ledger) ActiveTrades() []*Trade {
	out := make([]*Trade, 0, len(l.pf.Trades))
	for i := range l.pf.Trades {
		if l.pf.Trades[i].Active {
			out = append(out, &l.pf.Trades[i])
		}
	}
	return out
}

// Trade looks a trade up by id.
func (l *Ledger) Trade(id string) (*Trade, bool) {
	for i := range l.pf.Trades {
		if l.pf.Trades[i].ID == id {
			return &l.pf.Trades[i], true
		}
	}
	return nil, false
}

// RiskConfig returns the portfolio's risk limits.
func (l *Ledger) RiskConfig() risk.Config {
	return l.pf.Risk
}

// View assembles the point-in-time view a risk evaluation runs against.
func (l *Ledger) View() risk.View {
	instruments := make([]string, 0, len(l.pf.Trades))
	for i := range l.pf.Trades {
		if l.pf.Trades[i].Active {
			instruments = append(instruments, l.pf.Trades[i].Instrument)
		}
	}
	return risk.View{
		CurrentValue:    l.pf.CurrentValue,
		CurrentDrawdown: l.pf.CurrentDrawdown,
		OpenInstruments: instruments,
		ModelStats:      l.modelStats(),
	}
}

// RecordPending records an admitted trade and its working entry order
// before the order is emitted downstream. The trade counts against risk
// limits from this point on.
func (l *Ledger) RecordPending(trade Trade) {
	trade.Active = true
	l.pf.Trades = append(l.pf.Trades, trade)
}

// RecordExitOrder attaches a closing order to an active trade.
func (l *Ledger) RecordExitOrder(tradeID string, order Order) error {
	trade, ok := l.Trade(tradeID)
	if !ok || !trade.Active {
		return exception.ErrInvalidArgument
	}
	order.TradeID = tradeID
	order.Kind = OrderKindExit
	if order.State == OrderStateUnknown {
		order.State = OrderStatePending
	}
	trade.Orders = append(trade.Orders, order)
	return nil
}

// ApplyFill applies a venue fill to the order it references, updating
// positions, realized P&L and current value. A fill that matches no open
// order for its trade/venue/instrument combination fails with
// exception.ErrInconsistentFill and mutates nothing.
func (l *Ledger) ApplyFill(fill event.Fill) (*Trade, error) {
	trade, order := l.matchOpenOrder(fill)
	if trade == nil {
		return nil, exception.ErrInconsistentFill
	}
	if !fill.Size.IsPositive() {
		return nil, exception.ErrInvalidArgument
	}

	order.FilledSize = order.FilledSize.Add(fill.Size)
	if order.FilledSize.GreaterThanOrEqual(order.Size) {
		order.State = OrderStateFilled
	} else {
		order.State = OrderStatePartFilled
	}

	switch order.Kind {
	case OrderKindEntry:
		l.applyEntryFill(trade, order, fill)
	case OrderKindExit:
		l.applyExitFill(trade, fill)
	}

	l.recomputeValue()
	return trade, nil
}

func (l *Ledger) applyEntryFill(trade *Trade, order *Order, fill event.Fill) {
	pos := trade.position(fill.Venue, fill.Instrument)
	if pos == nil {
		trade.Positions = append(trade.Positions, Position{
			Venue:         fill.Venue,
			Instrument:    fill.Instrument,
			Side:          order.Side,
			Size:          decimal.Zero,
			AvgEntryPrice: decimal.Zero,
			StopPrice:     order.StopPrice,
			OpenedAt:      fill.At,
		})
		pos = &trade.Positions[len(trade.Positions)-1]
	}

	total := pos.Size.Add(fill.Size)
	pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Size).
		Add(fill.Price.Mul(fill.Size)).
		Div(total)
	pos.Size = total
}

func (l *Ledger) applyExitFill(trade *Trade, fill event.Fill) {
	pos := trade.position(fill.Venue, fill.Instrument)
	if pos == nil || !pos.Size.IsPositive() {
		return
	}

	closed := decimal.Min(fill.Size, pos.Size)
	pnl := fill.Price.Sub(pos.AvgEntryPrice).Mul(closed)
	if pos.Side == event.SideShort {
		pnl = pnl.Neg()
	}

	pos.Size = pos.Size.Sub(closed)
	trade.RealizedPnL = trade.RealizedPnL.Add(pnl)
	if !pos.Size.IsPositive() {
		pos.UnrealizedPnL = decimal.Zero
	}

	if trade.OpenPositionCount() == 0 && !trade.hasOpenOrders(OrderKindEntry) {
		l.closeTrade(trade, fill.At, "")
	}
}

// ApplyPriceUpdate marks open positions on the ticked venue/instrument
// to market and returns any positions whose stop level the mark crossed.
// A trade with a working exit order is still marked but never
// re-triggered.
func (l *Ledger) ApplyPriceUpdate(tick event.Price) []StopTrigger {
	var triggered []StopTrigger
	for i := range l.pf.Trades {
		trade := &l.pf.Trades[i]
		if !trade.Active {
			continue
		}
		exitWorking := trade.ExitWorking()
		for j := range trade.Positions {
			pos := &trade.Positions[j]
			if pos.Venue != tick.Venue || pos.Instrument != tick.Instrument || !pos.Size.IsPositive() {
				continue
			}

			move := tick.Mark.Sub(pos.AvgEntryPrice)
			if pos.Side == event.SideShort {
				move = move.Neg()
			}
			pos.UnrealizedPnL = move.Mul(pos.Size)

			if !exitWorking && stopCrossed(pos.Side, tick.Mark, pos.StopPrice) {
				triggered = append(triggered, StopTrigger{
					TradeID:    trade.ID,
					Model:      trade.Model,
					Venue:      pos.Venue,
					Instrument: pos.Instrument,
					Side:       pos.Side,
					Size:       pos.Size,
					StopPrice:  pos.StopPrice,
					Mark:       tick.Mark,
				})
			}
		}
	}
	l.recomputeValue()
	return triggered
}

// ForceClose closes a trade out-of-band, canceling its open orders and
// dropping open positions. Used by reconciliation for orphaned trades.
// Closing an already-closed trade is a no-op.
func (l *Ledger) ForceClose(tradeID, note string) bool {
	trade, ok := l.Trade(tradeID)
	if !ok || !trade.Active {
		return false
	}
	for i := range trade.Orders {
		if trade.Orders[i].State.Open() {
			trade.Orders[i].State = OrderStateCanceled
		}
	}
	for i := range trade.Positions {
		trade.Positions[i].Size = decimal.Zero
		trade.Positions[i].UnrealizedPnL = decimal.Zero
	}
	l.closeTrade(trade, time.Now().UTC(), note)
	l.recomputeValue()
	return true
}

// OverridePosition replaces a trade's position with the venue-reported
// side, size and average price. Used by reconciliation when the venue is
// authoritative.
func (l *Ledger) OverridePosition(tradeID string, side event.Side, size, avgPrice decimal.Decimal) bool {
	trade, ok := l.Trade(tradeID)
	if !ok || !trade.Active {
		return false
	}
	pos := trade.position(trade.Venue, trade.Instrument)
	if pos == nil {
		trade.Positions = append(trade.Positions, Position{
			Venue:      trade.Venue,
			Instrument: trade.Instrument,
			OpenedAt:   time.Now().UTC(),
		})
		pos = &trade.Positions[len(trade.Positions)-1]
	}
	pos.Side = side
	pos.Size = size
	pos.AvgEntryPrice = avgPrice
	pos.UnrealizedPnL = decimal.Zero
	l.recomputeValue()
	return true
}

func (l *Ledger) matchOpenOrder(fill event.Fill) (*Trade, *Order) {
	for i := range l.pf.Trades {
		trade := &l.pf.Trades[i]
		if !trade.Active {
			continue
		}
		order := trade.openOrder(fill.OrderID)
		if order == nil {
			continue
		}
		if order.Venue != fill.Venue || order.Instrument != fill.Instrument || order.Side != fill.Side {
			return nil, nil
		}
		return trade, order
	}
	return nil, nil
}

func (l *Ledger) closeTrade(trade *Trade, at time.Time, note string) {
	if !trade.Active {
		return
	}
	trade.Active = false
	trade.ClosedAt = at
	if note != "" {
		trade.Note = note
	}
}

func (t *Trade) hasOpenOrders(kind OrderKind) bool {
	for i := range t.Orders {
		if t.Orders[i].Kind == kind && t.Orders[i].State.Open() {
			return true
		}
	}
	return false
}

// recomputeValue re-derives current value, peak value and drawdown from
// initial funds, realized P&L and open unrealized P&L. Drawdown is never
// stored independently of this derivation.
func (l *Ledger) recomputeValue() {
	value := l.pf.InitialFunds
	for i := range l.pf.Trades {
		trade := &l.pf.Trades[i]
		value = value.Add(trade.RealizedPnL)
		if !trade.Active {
			continue
		}
		for j := range trade.Positions {
			if trade.Positions[j].Size.IsPositive() {
				value = value.Add(trade.Positions[j].UnrealizedPnL)
			}
		}
	}

	l.pf.CurrentValue = value
	if value.GreaterThan(l.pf.PeakValue) {
		l.pf.PeakValue = value
	}
	if l.pf.PeakValue.IsPositive() {
		l.pf.CurrentDrawdown = l.pf.PeakValue.Sub(value).
			Div(l.pf.PeakValue).
			Mul(decimal.NewFromInt(100))
	} else {
		l.pf.CurrentDrawdown = decimal.Zero
	}
}

func stopCrossed(side event.Side, mark, stop decimal.Decimal) bool {
	if stop.IsZero() {
		return false
	}
	switch side {
	case event.SideLong:
		return mark.LessThanOrEqual(stop)
	case event.SideShort:
		return mark.GreaterThanOrEqual(stop)
	default:
		return false
	}
}

func (l *Ledger) modelStats() map[string]risk.ModelStats {
	type acc struct {
		wins, losses    int
		winSum, lossSum decimal.Decimal
	}
	accs := make(map[string]*acc)
	for i := range l.pf.Trades {
		trade := &l.pf.Trades[i]
		if trade.Active || trade.RealizedPnL.IsZero() {
			continue
		}
		a := accs[trade.Model]
		if a == nil {
			a = &acc{winSum: decimal.Zero, lossSum: decimal.Zero}
			accs[trade.Model] = a
		}
		if trade.RealizedPnL.IsPositive() {
			a.wins++
			a.winSum = a.winSum.Add(trade.RealizedPnL)
		} else {
			a.losses++
			a.lossSum = a.lossSum.Add(trade.RealizedPnL.Abs())
		}
	}

	stats := make(map[string]risk.ModelStats, len(accs))
	for model, a := range accs {
		s := risk.ModelStats{Wins: a.wins, Losses: a.losses}
		if a.wins > 0 {
			s.AvgWin = a.winSum.Div(decimal.NewFromInt(int64(a.wins)))
		}
		if a.losses > 0 {
			s.AvgLoss = a.lossSum.Div(decimal.NewFromInt(int64(a.losses)))
		}
		stats[model] = s
	}
	return stats
}
