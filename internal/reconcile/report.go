package reconcile

import (
	"time"

	"github.com/terpnesZcorno/trading-server/internal/event"
)

// Outcome classifies one compared trade.
type Outcome uint8

const (
	OutcomeConsistent Outcome = iota
	OutcomeDivergent
	OutcomeOrphanedLocal
	OutcomeVenueUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConsistent:
		return "consistent"
	case OutcomeDivergent:
		return "divergent"
	case OutcomeOrphanedLocal:
		return "orphaned-local"
	case OutcomeVenueUnavailable:
		return "venue-unavailable"
	default:
		return "unknown"
	}
}

// Entry records the outcome for one trade. Corrections are never
// applied silently: every non-consistent entry carries a detail line.
type Entry struct {
	TradeID    string
	Venue      string
	Instrument string
	Outcome    Outcome
	Detail     string
}

// Report is the result of one reconciliation pass.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    []Entry
	// ResolvedFills are previously-inconsistent fills that applied
	// cleanly after corrections.
	ResolvedFills []event.Fill
	// UnmatchedFills are inconsistent fills still unresolved after the
	// pass.
	UnmatchedFills []event.Fill
}

// Clean reports whether the pass found nothing to correct.
func (r Report) Clean() bool {
	for _, e := range r.Entries {
		if e.Outcome != OutcomeConsistent {
			return false
		}
	}
	return len(r.UnmatchedFills) == 0
}

// Counts tallies entries by outcome.
func (r Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, 4)
	for _, e := range r.Entries {
		counts[e.Outcome]++
	}
	return counts
}
