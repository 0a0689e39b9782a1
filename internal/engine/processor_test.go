package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/ledger"
	"github.com/terpnesZcorno/trading-server/internal/obs"
	"github.com/terpnesZcorno/trading-server/internal/reconcile"
	"github.com/terpnesZcorno/trading-server/internal/risk"
	"github.com/terpnesZcorno/trading-server/internal/store"
	"github.com/terpnesZcorno/trading-server/internal/venue"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

type harness struct {
	proc    *Processor
	ledger  *ledger.Ledger
	mem     *store.Memory
	paper   *venue.Paper
	recon   *reconcile.Service
	metrics *obs.Metrics
}

// newHarness wires a processor over a fresh portfolio with the paper
// venue feeding fills back into the queue.
func newHarness(t *testing.T, cfg Config, riskCfg risk.Config) *harness {
	t.Helper()

	h := &harness{
		mem:     store.NewMemory(),
		metrics: obs.NewMetrics(),
	}
	h.paper = venue.NewPaper("paper", func(fill event.Fill) {
		_ = h.proc.Offer(event.NewFill(fill))
	})
	h.recon = reconcile.New([]venue.Adapter{h.paper}, h.mem, time.Second)

	pf := ledger.NewPortfolio(1, dec(10000), []string{"trend"}, riskCfg)
	h.ledger = ledger.New(pf)

	if cfg.SaveBackoff == 0 {
		cfg.SaveBackoff = time.Millisecond
	}
	h.proc = New(cfg, h.ledger, risk.NewEngine(riskCfg), h.mem, h.paper, h.recon, h.metrics)
	return h
}

// drain synchronously processes everything queued, including events
// enqueued while draining.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for {
		select {
		case e := <-h.proc.queue.ch:
			require.NoError(t, h.proc.handle(context.Background(), e))
		default:
			return
		}
	}
}

func signalEvent(instrument string, entry float64) event.Event {
	return event.NewSignal(event.Signal{
		Model:      "trend",
		Venue:      "paper",
		Instrument: instrument,
		Side:       event.SideLong,
		EntryPrice: dec(entry),
		At:         time.Now().UTC(),
	})
}

func TestSignalToFillPipeline(t *testing.T) {
	h := newHarness(t, Config{}, risk.DefaultConfig())

	require.NoError(t, h.proc.handle(context.Background(), signalEvent("XBTUSD", 100)))
	h.drain(t)

	trades := h.ledger.ActiveTrades()
	require.Len(t, trades, 1)
	trade := trades[0]
	require.Len(t, trade.Positions, 1)

	pos := trade.Positions[0]
	assert.True(t, pos.AvgEntryPrice.Equal(dec(100)))
	assert.True(t, pos.Size.Round(2).Equal(dec(3333.33)), "size %s", pos.Size)
	assert.True(t, pos.StopPrice.Equal(dec(97)))

	// One save on admission, one on the fill.
	assert.Equal(t, 2, h.mem.SaveCount())
	snap := h.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Admitted)

	live, err := h.paper.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.True(t, live[0].Size.Equal(pos.Size))
}

func TestRejectedSignalEmitsNothing(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.MaxSimultaneousPositions = 0
	h := newHarness(t, Config{}, cfg)

	require.NoError(t, h.proc.handle(context.Background(), signalEvent("XBTUSD", 100)))
	h.drain(t)

	assert.Empty(t, h.ledger.ActiveTrades())
	assert.Equal(t, 0, h.mem.SaveCount(), "rejection must not persist or emit")

	live, err := h.paper.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)

	snap := h.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.RejectCounts[risk.ReasonMaxPositionsExceeded])
}

func TestPersistFailureBlocksEmission(t *testing.T) {
	h := newHarness(t, Config{SaveRetries: 1}, risk.DefaultConfig())
	h.mem.FailNextSaves(10)

	err := h.proc.handle(context.Background(), signalEvent("XBTUSD", 100))
	require.ErrorIs(t, err, exception.ErrWriteConflict)

	live, perr := h.paper.GetPositions(context.Background())
	require.NoError(t, perr)
	assert.Empty(t, live, "order must not reach the venue when persistence fails")
	assert.Equal(t, uint64(1), h.metrics.Snapshot().SaveFailures)
}

func TestSaveRetriesWriteConflict(t *testing.T) {
	h := newHarness(t, Config{SaveRetries: 2}, risk.DefaultConfig())
	h.mem.FailNextSaves(1)

	require.NoError(t, h.proc.handle(context.Background(), signalEvent("XBTUSD", 100)))
	h.drain(t)

	// Conflicted attempt, successful retry, then the fill save.
	assert.Equal(t, 3, h.mem.SaveCount())
	snap := h.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.SaveRetries)
	assert.Equal(t, uint64(0), snap.SaveFailures)
	require.Len(t, h.ledger.ActiveTrades(), 1)
}

func TestStopTriggerDrivesExit(t *testing.T) {
	h := newHarness(t, Config{}, risk.DefaultConfig())

	require.NoError(t, h.proc.handle(context.Background(), signalEvent("XBTUSD", 100)))
	h.drain(t)
	require.Len(t, h.ledger.ActiveTrades(), 1)
	tradeID := h.ledger.ActiveTrades()[0].ID

	// Mark through the stop: exit signal, exit order, exit fill.
	tick := event.NewPrice(event.Price{
		Venue:      "paper",
		Instrument: "XBTUSD",
		Mark:       dec(96),
		At:         time.Now().UTC(),
	})
	require.NoError(t, h.proc.handle(context.Background(), tick))
	h.drain(t)

	trade, ok := h.ledger.Trade(tradeID)
	require.True(t, ok)
	assert.False(t, trade.Active)
	assert.True(t, trade.RealizedPnL.IsNegative(), "realized %s", trade.RealizedPnL)

	live, err := h.paper.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().StopsTriggered)
}

func TestRepeatedStopTicksEmitSingleExit(t *testing.T) {
	h := newHarness(t, Config{}, risk.DefaultConfig())

	require.NoError(t, h.proc.handle(context.Background(), signalEvent("XBTUSD", 100)))
	h.drain(t)
	require.Len(t, h.ledger.ActiveTrades(), 1)
	tradeID := h.ledger.ActiveTrades()[0].ID

	// Two through-the-stop ticks land before the first exit is
	// processed; only one exit order may reach the venue.
	tick := event.NewPrice(event.Price{
		Venue:      "paper",
		Instrument: "XBTUSD",
		Mark:       dec(96),
		At:         time.Now().UTC(),
	})
	require.NoError(t, h.proc.handle(context.Background(), tick))
	require.NoError(t, h.proc.handle(context.Background(), tick))
	h.drain(t)

	trade, ok := h.ledger.Trade(tradeID)
	require.True(t, ok)
	assert.False(t, trade.Active)

	exits := 0
	for i := range trade.Orders {
		if trade.Orders[i].Kind == ledger.OrderKindExit {
			exits++
		}
	}
	assert.Equal(t, 1, exits, "duplicate exit orders recorded")
	assert.Equal(t, uint64(0), h.metrics.Snapshot().InconsistentFills)

	live, err := h.paper.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestInconsistentFillGoesToReconciliation(t *testing.T) {
	h := newHarness(t, Config{}, risk.DefaultConfig())
	before := h.ledger.Snapshot()

	fill := event.NewFill(event.Fill{
		OrderID:    "phantom",
		Venue:      "paper",
		Instrument: "XBTUSD",
		Side:       event.SideLong,
		Size:       dec(1),
		Price:      dec(100),
	})
	require.NoError(t, h.proc.handle(context.Background(), fill))

	after := h.ledger.Snapshot()
	assert.Equal(t, len(before.Trades), len(after.Trades))
	assert.True(t, after.CurrentValue.Equal(before.CurrentValue))
	assert.Equal(t, 0, h.mem.SaveCount())
	assert.Equal(t, uint64(1), h.metrics.Snapshot().InconsistentFills)

	report, err := h.recon.Run(context.Background(), h.ledger)
	require.NoError(t, err)
	require.Len(t, report.UnmatchedFills, 1)
	assert.Equal(t, "phantom", report.UnmatchedFills[0].OrderID)
}

func TestConcurrentSignalsNeverBreachLimits(t *testing.T) {
	riskCfg := risk.DefaultConfig()
	riskCfg.MaxSimultaneousPositions = 3
	h := newHarness(t, Config{QueueCapacity: 64}, riskCfg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			instrument := fmt.Sprintf("INSTR-%d", i)
			assert.NoError(t, h.proc.Offer(signalEvent(instrument, 100)))
		}(i)
	}
	wg.Wait()

	// A pre-canceled context makes Run drain the queue and return; the
	// single worker still evaluates every signal in sequence.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.proc.Run(ctx))

	assert.Len(t, h.ledger.ActiveTrades(), 3, "admissions must serialize against the limit")
	snap := h.metrics.Snapshot()
	assert.Equal(t, uint64(3), snap.Admitted)
	assert.Equal(t, uint64(7), snap.RejectCounts[risk.ReasonMaxPositionsExceeded])
}

func TestRunShutdownDrainsAndPersists(t *testing.T) {
	h := newHarness(t, Config{}, risk.DefaultConfig())

	require.NoError(t, h.proc.Offer(signalEvent("XBTUSD", 100)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.proc.Run(ctx))

	require.Len(t, h.ledger.ActiveTrades(), 1)
	// Admission save plus the final shutdown snapshot.
	assert.GreaterOrEqual(t, h.mem.SaveCount(), 2)

	loaded, err := h.mem.Load(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, loaded.Trades, 1)

	// Queue no longer accepts events after shutdown.
	err = h.proc.Offer(signalEvent("ETHUSD", 100))
	require.ErrorIs(t, err, exception.ErrEventQueueClosed)
}
