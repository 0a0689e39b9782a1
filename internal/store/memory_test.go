package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/ledger"
	"github.com/terpnesZcorno/trading-server/internal/risk"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

func testPortfolio() ledger.Portfolio {
	pf := ledger.NewPortfolio(7, decimal.NewFromInt(10000), []string{"trend", "meanrev"}, risk.DefaultConfig())
	pf.Trades = []ledger.Trade{
		{
			ID:         "t1",
			Model:      "trend",
			Venue:      "paper",
			Instrument: "XBTUSD",
			Active:     true,
			Positions: []ledger.Position{{
				Venue:         "paper",
				Instrument:    "XBTUSD",
				Side:          event.SideLong,
				Size:          decimal.NewFromInt(5),
				AvgEntryPrice: decimal.NewFromInt(100),
				StopPrice:     decimal.NewFromInt(97),
				OpenedAt:      time.Now().UTC().Truncate(time.Second),
			}},
			OpenedAt: time.Now().UTC().Truncate(time.Second),
		},
		{
			ID:          "t0",
			Model:       "meanrev",
			Venue:       "paper",
			Instrument:  "ETHUSD",
			RealizedPnL: decimal.NewFromInt(-40),
			ClosedAt:    time.Now().UTC().Truncate(time.Second),
		},
	}
	return pf
}

func TestMemoryLoadNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Load(context.Background(), 1)
	require.ErrorIs(t, err, exception.ErrNotFound)
}

func TestMemorySaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	pf := testPortfolio()

	require.NoError(t, m.Save(ctx, pf))
	loaded, err := m.Load(ctx, pf.ID)
	require.NoError(t, err)

	assert.Equal(t, pf.ID, loaded.ID)
	assert.True(t, loaded.InitialFunds.Equal(pf.InitialFunds))
	require.Len(t, loaded.Trades, 2)
	assert.True(t, loaded.Trades[0].Positions[0].AvgEntryPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, loaded.Trades[1].RealizedPnL.Equal(decimal.NewFromInt(-40)))
	assert.Equal(t, pf.Risk.MaxSimultaneousPositions, loaded.Risk.MaxSimultaneousPositions)

	// Saving what was loaded must be a fixed point.
	require.NoError(t, m.Save(ctx, loaded))
	again, err := m.Load(ctx, pf.ID)
	require.NoError(t, err)
	assert.Equal(t, loaded, again)
}

func TestMemoryWriteConflictInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailNextSaves(2)

	pf := testPortfolio()
	require.ErrorIs(t, m.Save(ctx, pf), exception.ErrWriteConflict)
	require.ErrorIs(t, m.Save(ctx, pf), exception.ErrWriteConflict)
	require.NoError(t, m.Save(ctx, pf))
	assert.Equal(t, 3, m.SaveCount())
}

func TestMemoryActiveTrades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ids, err := m.ActiveTrades(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, m.Save(ctx, testPortfolio()))
	ids, err = m.ActiveTrades(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)
}
