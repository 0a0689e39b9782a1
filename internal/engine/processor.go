// Package engine runs the event dispatch loop. A single worker owns the
// ledger: every risk evaluation and the mutation it commits happen on
// that worker, so two racing signals can never jointly breach a limit.
// Venue I/O (order submission, reconciliation queries) stays off the
// decide-and-commit path.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"github.com/terpnesZcorno/trading-server/internal/errors"
	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/ledger"
	"github.com/terpnesZcorno/trading-server/internal/obs"
	"github.com/terpnesZcorno/trading-server/internal/reconcile"
	"github.com/terpnesZcorno/trading-server/internal/risk"
	"github.com/terpnesZcorno/trading-server/internal/store"
	"github.com/terpnesZcorno/trading-server/internal/venue"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

// Config tunes the processor.
type Config struct {
	QueueCapacity int
	// SaveRetries bounds write-conflict retries before the conflict is
	// escalated as fatal.
	SaveRetries int
	SaveBackoff time.Duration
	// ReconcileInterval re-runs reconciliation from the dispatch
	// worker. Zero disables periodic passes.
	ReconcileInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.SaveRetries <= 0 {
		c.SaveRetries = 3
	}
	if c.SaveBackoff <= 0 {
		c.SaveBackoff = 50 * time.Millisecond
	}
	return c
}

// Processor sequences price, signal and fill events against the ledger.
type Processor struct {
	cfg     Config
	ledger  *ledger.Ledger
	risk    *risk.Engine
	store   store.Store
	router  venue.Router
	recon   *reconcile.Service
	metrics *obs.Metrics
	queue   *Queue
}

// New wires a processor around a loaded ledger.
func New(cfg Config, l *ledger.Ledger, re *risk.Engine, st store.Store, router venue.Router, recon *reconcile.Service, metrics *obs.Metrics) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		cfg:     cfg,
		ledger:  l,
		risk:    re,
		store:   st,
		router:  router,
		recon:   recon,
		metrics: metrics,
		queue:   NewQueue(cfg.QueueCapacity),
	}
}

// Offer publishes an event without blocking. Safe from any goroutine.
func (p *Processor) Offer(e event.Event) error {
	err := p.queue.TryPublish(e)
	if errors.Is(err, exception.ErrEventQueueFull) {
		p.metrics.IncQueueDrop()
	}
	return err
}

// Run consumes events until the context is done, then drains the queue
// and persists a final snapshot before returning. It returns a non-nil
// error only on fatal persistence failure: risk decisions must not keep
// running against stale durable state.
func (p *Processor) Run(ctx context.Context) error {
	var reconcileTick <-chan time.Time
	if p.cfg.ReconcileInterval > 0 && p.recon != nil {
		ticker := time.NewTicker(p.cfg.ReconcileInterval)
		defer ticker.Stop()
		reconcileTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return p.shutdown()
		case <-reconcileTick:
			// The worker itself runs the pass, so it holds exclusive
			// access to the ledger for its duration.
			if _, err := p.recon.Run(ctx, p.ledger); err != nil {
				logs.Errorf("periodic reconciliation failed, err: %+v", err)
			}
		case e := <-p.queue.ch:
			if err := p.handle(ctx, e); err != nil {
				return err
			}
		}
	}
}

func (p *Processor) shutdown() error {
	p.queue.Close()
	for {
		select {
		case e := <-p.queue.ch:
			// Drain with a fresh context; the run context is done.
			if err := p.handle(context.Background(), e); err != nil {
				return err
			}
		default:
			if err := p.save(context.Background()); err != nil {
				return errors.Wrap(err, "persist final snapshot")
			}
			logs.Info("event processor drained and persisted")
			return nil
		}
	}
}

func (p *Processor) handle(ctx context.Context, e event.Event) error {
	p.metrics.ObserveEvent(e.Kind)
	switch e.Kind {
	case event.KindPrice:
		p.handlePrice(ctx, *e.Price)
		return nil
	case event.KindSignal:
		return p.handleSignal(ctx, *e.Signal)
	case event.KindFill:
		return p.handleFill(ctx, *e.Fill)
	default:
		logs.Warnf("dropping event with unknown kind %d", e.Kind)
		return nil
	}
}

func (p *Processor) handlePrice(ctx context.Context, tick event.Price) {
	triggered := p.ledger.ApplyPriceUpdate(tick)
	for _, stop := range triggered {
		p.metrics.IncStopTriggered()
		logs.Infof("stop triggered: trade=%s instrument=%s stop=%s mark=%s",
			stop.TradeID, stop.Instrument, stop.StopPrice, stop.Mark)

		exit := event.NewSignal(event.Signal{
			Model:      stop.Model,
			Venue:      stop.Venue,
			Instrument: stop.Instrument,
			Side:       stop.Side.Opposite(),
			EntryPrice: stop.Mark,
			Exit:       true,
			TradeID:    stop.TradeID,
			At:         tick.At,
		})
		if err := p.Offer(exit); err != nil {
			// Never lose a stop: process inline when the queue is full.
			if err := p.handle(ctx, exit); err != nil {
				logs.Errorf("inline stop exit failed, err: %+v", err)
			}
		}
	}
}

func (p *Processor) handleSignal(ctx context.Context, signal event.Signal) error {
	if signal.Exit {
		return p.handleExitSignal(ctx, signal)
	}

	started := time.Now()
	decision := p.risk.Evaluate(p.ledger.View(), signal)
	p.metrics.ObserveRiskEval(time.Since(started))

	if !decision.Admit {
		p.metrics.IncReject(decision.Reason)
		logs.Infof("signal rejected: model=%s instrument=%s reason=%s",
			signal.Model, signal.Instrument, decision.Reason)
		return nil
	}

	tradeID := uuid.NewString()
	order := ledger.Order{
		ID:         uuid.NewString(),
		TradeID:    tradeID,
		Venue:      signal.Venue,
		Instrument: signal.Instrument,
		Side:       signal.Side,
		Size:       decision.Size,
		Price:      signal.EntryPrice,
		StopPrice:  decision.StopPrice,
		Kind:       ledger.OrderKindEntry,
		State:      ledger.OrderStatePending,
	}
	p.ledger.RecordPending(ledger.Trade{
		ID:         tradeID,
		Model:      signal.Model,
		Venue:      signal.Venue,
		Instrument: signal.Instrument,
		Orders:     []ledger.Order{order},
		OpenedAt:   signal.At,
	})

	// Write-through before emission: a crash here loses the admission,
	// never double-commits it.
	if err := p.save(ctx); err != nil {
		return errors.Wrap(err, "persist admitted signal")
	}

	p.metrics.IncAdmitted()
	p.emit(ctx, event.Order{
		ID:         order.ID,
		TradeID:    tradeID,
		Model:      signal.Model,
		Venue:      signal.Venue,
		Instrument: signal.Instrument,
		Side:       signal.Side,
		Size:       decision.Size,
		Price:      signal.EntryPrice,
		StopPrice:  decision.StopPrice,
		At:         time.Now().UTC(),
	})
	return nil
}

func (p *Processor) handleExitSignal(ctx context.Context, signal event.Signal) error {
	trade, ok := p.ledger.Trade(signal.TradeID)
	if !ok || !trade.Active {
		logs.Warnf("exit signal for unknown or closed trade %s", signal.TradeID)
		return nil
	}
	pos, ok := trade.Position(signal.Venue, signal.Instrument)
	if !ok || !pos.Size.IsPositive() {
		logs.Warnf("exit signal for trade %s with no open position", signal.TradeID)
		return nil
	}
	if trade.ExitWorking() {
		// A second trigger before the first exit fills would
		// double-close the position.
		logs.Debugf("exit already working for trade %s, signal dropped", trade.ID)
		return nil
	}

	order := ledger.Order{
		ID:         uuid.NewString(),
		Venue:      signal.Venue,
		Instrument: signal.Instrument,
		Side:       pos.Side,
		Size:       pos.Size,
		Price:      signal.EntryPrice,
	}
	if err := p.ledger.RecordExitOrder(trade.ID, order); err != nil {
		logs.Errorf("record exit order for trade %s, err: %+v", trade.ID, err)
		return nil
	}
	if err := p.save(ctx); err != nil {
		return errors.Wrap(err, "persist exit order")
	}

	p.emit(ctx, event.Order{
		ID:         order.ID,
		TradeID:    trade.ID,
		Model:      trade.Model,
		Venue:      signal.Venue,
		Instrument: signal.Instrument,
		Side:       pos.Side,
		Size:       pos.Size,
		Price:      signal.EntryPrice,
		Exit:       true,
		At:         time.Now().UTC(),
	})
	return nil
}

func (p *Processor) handleFill(ctx context.Context, fill event.Fill) error {
	trade, err := p.ledger.ApplyFill(fill)
	if errors.Is(err, exception.ErrInconsistentFill) {
		// The venue and local order tracking have already diverged.
		// The fill is not discarded; reconciliation resolves it.
		p.metrics.IncInconsistentFill()
		if p.recon != nil {
			p.recon.NoteInconsistentFill(fill)
		}
		return nil
	}
	if err != nil {
		logs.Errorf("apply fill %s, err: %+v", fill.OrderID, err)
		return nil
	}

	if err := p.save(ctx); err != nil {
		return errors.Wrap(err, "persist fill")
	}
	if !trade.Active {
		logs.Infof("trade closed: id=%s model=%s realized=%s",
			trade.ID, trade.Model, trade.RealizedPnL)
	}
	return nil
}

func (p *Processor) emit(ctx context.Context, order event.Order) {
	if p.router == nil {
		return
	}
	if err := p.router.Submit(ctx, order); err != nil {
		logs.Errorf("submit order %s to %s, err: %+v", order.ID, order.Venue, err)
	}
}

// save is the write-through persistence step with bounded
// write-conflict retries.
func (p *Processor) save(ctx context.Context) error {
	started := time.Now()
	defer func() { p.metrics.ObserveSave(time.Since(started)) }()

	snapshot := p.ledger.Snapshot()
	backoff := p.cfg.SaveBackoff
	var err error
	for attempt := 0; attempt <= p.cfg.SaveRetries; attempt++ {
		if attempt > 0 {
			p.metrics.IncSaveRetry()
			time.Sleep(backoff)
			backoff *= 2
		}
		err = p.store.Save(ctx, snapshot)
		if err == nil {
			return nil
		}
		if !errors.Is(err, exception.ErrWriteConflict) {
			break
		}
	}

	p.metrics.IncSaveFailure()
	return err
}
