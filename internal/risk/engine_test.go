package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terpnesZcorno/trading-server/internal/event"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func testView(value float64, open ...string) View {
	return View{
		CurrentValue:    dec(value),
		OpenInstruments: open,
	}
}

func longSignal(instrument string, entry float64) event.Signal {
	return event.Signal{
		Model:      "trend",
		Venue:      "paper",
		Instrument: instrument,
		Side:       event.SideLong,
		EntryPrice: dec(entry),
	}
}

func TestEvaluateFixedPercentSizing(t *testing.T) {
	// 10000 value, 1% risk per trade, 3% default stop: 100 / 0.03.
	engine := NewEngine(DefaultConfig())

	decision := engine.Evaluate(testView(10000), longSignal("XBTUSD", 100))
	require.True(t, decision.Admit)
	assert.Equal(t, ReasonNone, decision.Reason)
	assert.True(t, decision.Size.Round(2).Equal(dec(3333.33)), "size %s", decision.Size)
	assert.True(t, decision.StopPrice.Equal(dec(97)), "stop %s", decision.StopPrice)
}

func TestEvaluateSignalStopOverridesDefault(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	signal := longSignal("XBTUSD", 100)
	signal.StopPrice = dec(95)

	decision := engine.Evaluate(testView(10000), signal)
	require.True(t, decision.Admit)
	// stop fraction 5%: 100 / 0.05 = 2000.
	assert.True(t, decision.Size.Equal(dec(2000)), "size %s", decision.Size)
	assert.True(t, decision.StopPrice.Equal(dec(95)))
}

func TestEvaluateShortStopAboveEntry(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	signal := longSignal("XBTUSD", 100)
	signal.Side = event.SideShort

	decision := engine.Evaluate(testView(10000), signal)
	require.True(t, decision.Admit)
	assert.True(t, decision.StopPrice.Equal(dec(103)), "stop %s", decision.StopPrice)
}

func TestEvaluateMaxPositionsExceeded(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	open := make([]string, 0, DefaultMaxSimultaneousPositions)
	for i := 0; i < DefaultMaxSimultaneousPositions; i++ {
		open = append(open, "INSTR")
	}

	decision := engine.Evaluate(testView(10000, open...), longSignal("XBTUSD", 100))
	assert.False(t, decision.Admit)
	assert.Equal(t, ReasonMaxPositionsExceeded, decision.Reason)
	assert.True(t, decision.Size.IsZero())
}

func TestEvaluateCorrelationLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrelationGroups = map[string]string{
		"XBTUSD": "crypto",
		"ETHUSD": "crypto",
		"EURUSD": "fx",
	}
	engine := NewEngine(cfg)

	decision := engine.Evaluate(testView(10000, "XBTUSD"), longSignal("ETHUSD", 100))
	assert.False(t, decision.Admit)
	assert.Equal(t, ReasonMaxCorrelatedExceeded, decision.Reason)

	// Same instrument always correlates, grouped or not.
	decision = engine.Evaluate(testView(10000, "EURUSD"), longSignal("EURUSD", 100))
	assert.Equal(t, ReasonMaxCorrelatedExceeded, decision.Reason)

	// Different group passes.
	decision = engine.Evaluate(testView(10000, "EURUSD"), longSignal("ETHUSD", 100))
	assert.True(t, decision.Admit)
}

func TestEvaluateDrawdownLimit(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	view := testView(8500)
	view.CurrentDrawdown = dec(15)
	decision := engine.Evaluate(view, longSignal("XBTUSD", 100))
	assert.False(t, decision.Admit)
	assert.Equal(t, ReasonMaxDrawdownExceeded, decision.Reason)

	view.CurrentDrawdown = dec(14.99)
	decision = engine.Evaluate(view, longSignal("XBTUSD", 100))
	assert.True(t, decision.Admit)
}

func TestEvaluateCheckOrderIsDeterministic(t *testing.T) {
	// Breaches everything at once; the position-count check fires first.
	engine := NewEngine(DefaultConfig())

	open := make([]string, DefaultMaxSimultaneousPositions)
	for i := range open {
		open[i] = "XBTUSD"
	}
	view := testView(5000, open...)
	view.CurrentDrawdown = dec(50)

	decision := engine.Evaluate(view, longSignal("XBTUSD", 100))
	assert.Equal(t, ReasonMaxPositionsExceeded, decision.Reason)
}

func TestEvaluateZeroSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTrade = decimal.Zero
	engine := NewEngine(cfg)

	decision := engine.Evaluate(testView(10000), longSignal("XBTUSD", 100))
	assert.False(t, decision.Admit)
	assert.Equal(t, ReasonZeroSize, decision.Reason)
}

func TestEvaluateKellySizing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sizing = SizingKelly
	engine := NewEngine(cfg)

	view := testView(10000)
	view.ModelStats = map[string]ModelStats{
		"trend": {Wins: 6, Losses: 4, AvgWin: dec(200), AvgLoss: dec(100)},
	}

	// W=0.6, R=2: f = 0.6 - 0.4/2 = 0.4; risk 4000 against a 3% stop.
	decision := engine.Evaluate(view, longSignal("XBTUSD", 100))
	require.True(t, decision.Admit)
	expected := dec(10000).Mul(dec(0.4)).Div(dec(0.03))
	assert.True(t, decision.Size.Equal(expected), "size %s", decision.Size)
}

func TestEvaluateKellyFallsBackWithoutHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sizing = SizingKelly
	engine := NewEngine(cfg)

	decision := engine.Evaluate(testView(10000), longSignal("XBTUSD", 100))
	require.True(t, decision.Admit)
	assert.True(t, decision.Size.Round(2).Equal(dec(3333.33)), "size %s", decision.Size)
}

func TestUpdateConfigSwapsLimits(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	decision := engine.Evaluate(testView(10000, "ETHUSD"), longSignal("XBTUSD", 100))
	require.True(t, decision.Admit)

	cfg := engine.Config()
	cfg.MaxSimultaneousPositions = 1
	engine.UpdateConfig(cfg)

	decision = engine.Evaluate(testView(10000, "ETHUSD"), longSignal("XBTUSD", 100))
	assert.False(t, decision.Admit)
	assert.Equal(t, ReasonMaxPositionsExceeded, decision.Reason)
	assert.Equal(t, 1, engine.Config().MaxSimultaneousPositions)
}

func TestKellyFraction(t *testing.T) {
	for _, tc := range []struct {
		name     string
		stats    ModelStats
		ok       bool
		fraction decimal.Decimal
	}{
		{"no history", ModelStats{}, false, decimal.Zero},
		{"only wins", ModelStats{Wins: 3, AvgWin: dec(100)}, false, decimal.Zero},
		{"balanced", ModelStats{Wins: 6, Losses: 4, AvgWin: dec(200), AvgLoss: dec(100)}, true, dec(0.4)},
		{"negative edge", ModelStats{Wins: 2, Losses: 8, AvgWin: dec(100), AvgLoss: dec(100)}, false, decimal.Zero},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fraction, ok := tc.stats.KellyFraction()
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.True(t, fraction.Equal(tc.fraction), "fraction %s", fraction)
			}
		})
	}
}

func TestCorrelated(t *testing.T) {
	cfg := Config{CorrelationGroups: map[string]string{"A": "g1", "B": "g1", "C": "g2"}}

	assert.True(t, cfg.Correlated("A", "A"))
	assert.True(t, cfg.Correlated("A", "B"))
	assert.False(t, cfg.Correlated("A", "C"))
	assert.False(t, cfg.Correlated("A", "ungrouped"))
	assert.True(t, Config{}.Correlated("X", "X"))
}
