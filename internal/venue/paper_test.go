package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func TestPaperSubmitFillsAtOrderPrice(t *testing.T) {
	var got []event.Fill
	p := NewPaper("paper", func(f event.Fill) { got = append(got, f) })

	err := p.Submit(context.Background(), event.Order{
		ID: "o1", Venue: "paper", Instrument: "XBTUSD",
		Side: event.SideLong, Size: dec(5), Price: dec(100),
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].OrderID)
	assert.True(t, got[0].Size.Equal(dec(5)))
	assert.True(t, got[0].Price.Equal(dec(100)))

	live, err := p.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.True(t, live[0].Size.Equal(dec(5)))
	assert.True(t, live[0].AvgPrice.Equal(dec(100)))
}

func TestPaperGrowAveragesPrice(t *testing.T) {
	p := NewPaper("paper", nil)
	ctx := context.Background()

	order := event.Order{ID: "o1", Instrument: "XBTUSD", Side: event.SideLong, Size: dec(5), Price: dec(100)}
	require.NoError(t, p.Submit(ctx, order))
	order.ID, order.Price = "o2", dec(110)
	require.NoError(t, p.Submit(ctx, order))

	live, _ := p.GetPositions(ctx)
	require.Len(t, live, 1)
	assert.True(t, live[0].Size.Equal(dec(10)))
	assert.True(t, live[0].AvgPrice.Equal(dec(105)), "avg %s", live[0].AvgPrice)
}

func TestPaperExitReducesAndRemoves(t *testing.T) {
	p := NewPaper("paper", nil)
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, event.Order{
		ID: "o1", Instrument: "XBTUSD", Side: event.SideLong, Size: dec(5), Price: dec(100),
	}))
	require.NoError(t, p.Submit(ctx, event.Order{
		ID: "o2", Instrument: "XBTUSD", Side: event.SideShort, Size: dec(2), Price: dec(98), Exit: true,
	}))

	live, _ := p.GetPositions(ctx)
	require.Len(t, live, 1)
	assert.True(t, live[0].Size.Equal(dec(3)))

	require.NoError(t, p.Submit(ctx, event.Order{
		ID: "o3", Instrument: "XBTUSD", Side: event.SideShort, Size: dec(3), Price: dec(98), Exit: true,
	}))
	live, _ = p.GetPositions(ctx)
	assert.Empty(t, live)
}

func TestPaperRejectsNonPositiveSize(t *testing.T) {
	p := NewPaper("paper", nil)
	err := p.Submit(context.Background(), event.Order{ID: "o1", Instrument: "XBTUSD"})
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestMuxRoutesByVenue(t *testing.T) {
	a := NewPaper("a", nil)
	b := NewPaper("b", nil)

	mux := NewMux()
	mux.Register("a", a)
	mux.Register("b", b)

	require.NoError(t, mux.Submit(context.Background(), event.Order{
		ID: "o1", Venue: "b", Instrument: "XBTUSD",
		Side: event.SideLong, Size: dec(1), Price: dec(100),
	}))

	liveA, _ := a.GetPositions(context.Background())
	liveB, _ := b.GetPositions(context.Background())
	assert.Empty(t, liveA)
	require.Len(t, liveB, 1)

	err := mux.Submit(context.Background(), event.Order{ID: "o2", Venue: "missing", Size: dec(1)})
	require.ErrorIs(t, err, exception.ErrVenueUnavailable)
}
