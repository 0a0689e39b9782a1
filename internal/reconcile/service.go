// Package reconcile compares the ledger's active trades against each
// venue's reported live state and corrects the ledger where they
// disagree. The venue is authoritative for position existence and size;
// every correction is reported and logged, never applied silently.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/terpnesZcorno/trading-server/internal/errors"
	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/ledger"
	"github.com/terpnesZcorno/trading-server/internal/store"
	"github.com/terpnesZcorno/trading-server/internal/venue"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

const defaultVenueTimeout = 10 * time.Second

// Service runs reconciliation passes. It must own the ledger while a
// pass runs: the event processor is paused or not yet started.
type Service struct {
	venues  map[string]venue.Adapter
	store   store.Store
	timeout time.Duration

	mu      sync.Mutex
	pending []event.Fill
}

// New creates a reconciliation service over the given venue adapters.
func New(adapters []venue.Adapter, st store.Store, venueTimeout time.Duration) *Service {
	if venueTimeout <= 0 {
		venueTimeout = defaultVenueTimeout
	}
	venues := make(map[string]venue.Adapter, len(adapters))
	for _, a := range adapters {
		venues[a.Name()] = a
	}
	return &Service{venues: venues, store: st, timeout: venueTimeout}
}

// NoteInconsistentFill queues a fill that failed to apply for
// out-of-band resolution on the next pass. Safe to call from the event
// processor while a pass is not running.
func (s *Service) NoteInconsistentFill(fill event.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, fill)
	logs.Warnf("inconsistent fill queued for reconciliation: order=%s venue=%s instrument=%s",
		fill.OrderID, fill.Venue, fill.Instrument)
}

// venueState caches one venue's live state for the duration of a pass.
type venueState struct {
	positions []venue.LivePosition
	orders    []venue.LiveOrder
	err       error
}

// Run executes one pass: every active trade is compared against its
// venue, corrections are applied to the ledger and persisted, and
// previously-inconsistent fills are retried. An unreachable venue
// yields venue-unavailable entries for its trades without blocking the
// rest of the pass.
func (s *Service) Run(ctx context.Context, l *ledger.Ledger) (Report, error) {
	report := Report{StartedAt: time.Now().UTC()}
	states := make(map[string]*venueState)
	corrected := false

	for _, trade := range l.ActiveTrades() {
		state := s.venueStateFor(ctx, states, trade.Venue)
		if state.err != nil {
			report.Entries = append(report.Entries, Entry{
				TradeID:    trade.ID,
				Venue:      trade.Venue,
				Instrument: trade.Instrument,
				Outcome:    OutcomeVenueUnavailable,
				Detail:     state.err.Error(),
			})
			continue
		}
		report.Entries = append(report.Entries, s.compareTrade(l, trade, state, &corrected))
	}

	s.resolvePendingFills(l, &report, &corrected)

	report.FinishedAt = time.Now().UTC()
	for _, e := range report.Entries {
		if e.Outcome == OutcomeConsistent {
			continue
		}
		logs.Warnf("reconciliation: trade=%s venue=%s instrument=%s outcome=%s detail=%s",
			e.TradeID, e.Venue, e.Instrument, e.Outcome, e.Detail)
	}

	if corrected {
		if err := s.store.Save(ctx, l.Snapshot()); err != nil {
			return report, errors.Wrap(err, "persist reconciliation corrections")
		}
	}

	counts := report.Counts()
	logs.Infof("reconciliation pass complete: consistent=%d divergent=%d orphaned=%d unavailable=%d unmatched_fills=%d",
		counts[OutcomeConsistent], counts[OutcomeDivergent], counts[OutcomeOrphanedLocal],
		counts[OutcomeVenueUnavailable], len(report.UnmatchedFills))
	return report, nil
}

func (s *Service) venueStateFor(ctx context.Context, states map[string]*venueState, name string) *venueState {
	if state, ok := states[name]; ok {
		return state
	}

	state := &venueState{}
	states[name] = state

	adapter, ok := s.venues[name]
	if !ok {
		state.err = errors.Wrapf(exception.ErrVenueUnavailable, "no adapter for venue %s", name)
		return state
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	positions, err := adapter.GetPositions(fetchCtx)
	if err != nil {
		state.err = errors.Wrapf(err, "fetch positions from %s", name)
		return state
	}
	orders, err := adapter.GetOrders(fetchCtx)
	if err != nil {
		state.err = errors.Wrapf(err, "fetch orders from %s", name)
		return state
	}

	state.positions = positions
	state.orders = orders
	return state
}

func (s *Service) compareTrade(l *ledger.Ledger, trade *ledger.Trade, state *venueState, corrected *bool) Entry {
	entry := Entry{
		TradeID:    trade.ID,
		Venue:      trade.Venue,
		Instrument: trade.Instrument,
		Outcome:    OutcomeConsistent,
	}

	var live *venue.LivePosition
	for i := range state.positions {
		if state.positions[i].Instrument == trade.Instrument {
			live = &state.positions[i]
			break
		}
	}

	local, hasLocal := trade.Position(trade.Venue, trade.Instrument)
	hasLocal = hasLocal && local.Size.IsPositive()

	switch {
	case live == nil && !hasLocal:
		// Pending trade: no position on either side yet. Consistent
		// only while the venue still works the entry order.
		if s.venueHasOrder(state, trade) {
			return entry
		}
		entry.Outcome = OutcomeOrphanedLocal
		entry.Detail = "no live position or working order at venue"
		l.ForceClose(trade.ID, "reconciliation: "+entry.Detail)
		*corrected = true

	case live == nil:
		entry.Outcome = OutcomeOrphanedLocal
		entry.Detail = fmt.Sprintf("ledger size %s, venue reports no position", local.Size)
		l.ForceClose(trade.ID, "reconciliation: "+entry.Detail)
		*corrected = true

	case !hasLocal,
		live.Side != local.Side,
		!live.Size.Equal(local.Size),
		!live.AvgPrice.Equal(local.AvgEntryPrice):
		entry.Outcome = OutcomeDivergent
		entry.Detail = s.divergenceDetail(local, hasLocal, live)
		l.OverridePosition(trade.ID, live.Side, live.Size, live.AvgPrice)
		*corrected = true
	}

	return entry
}

func (s *Service) venueHasOrder(state *venueState, trade *ledger.Trade) bool {
	for i := range trade.Orders {
		if !trade.Orders[i].State.Open() {
			continue
		}
		for j := range state.orders {
			if state.orders[j].ID == trade.Orders[i].ID {
				return true
			}
		}
	}
	return false
}

func (s *Service) divergenceDetail(local *ledger.Position, hasLocal bool, live *venue.LivePosition) string {
	if !hasLocal {
		return fmt.Sprintf("venue reports %s %s @ %s, ledger has no open position",
			live.Side, live.Size, live.AvgPrice)
	}
	return fmt.Sprintf("ledger %s %s @ %s, venue %s %s @ %s",
		local.Side, local.Size, local.AvgEntryPrice,
		live.Side, live.Size, live.AvgPrice)
}

// resolvePendingFills retries fills that previously failed with an
// inconsistency, after venue corrections have been applied.
func (s *Service) resolvePendingFills(l *ledger.Ledger, report *Report, corrected *bool) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fill := range pending {
		if _, err := l.ApplyFill(fill); err != nil {
			report.UnmatchedFills = append(report.UnmatchedFills, fill)
			logs.Warnf("fill still unmatched after reconciliation: order=%s venue=%s instrument=%s",
				fill.OrderID, fill.Venue, fill.Instrument)
			continue
		}
		report.ResolvedFills = append(report.ResolvedFills, fill)
		*corrected = true
		logs.Infof("fill resolved by reconciliation: order=%s venue=%s instrument=%s",
			fill.OrderID, fill.Venue, fill.Instrument)
	}
}
