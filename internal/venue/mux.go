package venue

import (
	"context"

	"github.com/terpnesZcorno/trading-server/internal/errors"
	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

// Mux routes order events to the router for their venue.
type Mux struct {
	routers map[string]Router
}

// NewMux builds a router multiplexer.
func NewMux() *Mux {
	return &Mux{routers: make(map[string]Router)}
}

// Register attaches a router for a venue name.
func (m *Mux) Register(name string, r Router) {
	m.routers[name] = r
}

// Submit implements Router.
func (m *Mux) Submit(ctx context.Context, order event.Order) error {
	r, ok := m.routers[order.Venue]
	if !ok {
		return errors.Wrapf(exception.ErrVenueUnavailable, "no router for venue %s", order.Venue)
	}
	return r.Submit(ctx, order)
}
