package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/terpnesZcorno/trading-server/internal/engine"
	"github.com/terpnesZcorno/trading-server/internal/errors"
	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/ledger"
	"github.com/terpnesZcorno/trading-server/internal/obs"
	"github.com/terpnesZcorno/trading-server/internal/ops"
	"github.com/terpnesZcorno/trading-server/internal/reconcile"
	"github.com/terpnesZcorno/trading-server/internal/risk"
	"github.com/terpnesZcorno/trading-server/internal/store"
	"github.com/terpnesZcorno/trading-server/internal/venue"
	"github.com/terpnesZcorno/trading-server/pkg/conn"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	memoryStore := flag.Bool("memory-store", false, "Use the in-memory store (paper mode)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profiling.Enable {
		stop, err := startProfiler(loaded.Profiling)
		if err != nil {
			log.Fatalf("profiler start failed: %v", err)
		}
		defer stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, journal, closeStore, err := buildStore(ctx, loaded, *memoryStore)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer closeStore()

	pf, err := loadOrCreatePortfolio(ctx, st, loaded)
	if err != nil {
		log.Fatalf("portfolio load failed: %v", err)
	}
	l := ledger.New(pf)
	logs.Infof("portfolio %d loaded: value=%s drawdown=%s%% trades=%d",
		l.ID(), pf.CurrentValue, pf.CurrentDrawdown, len(pf.Trades))

	if journal != nil {
		ids, err := journal.ActiveTrades(ctx, l.ID())
		if err != nil {
			logs.Warnf("trade journal query failed, err: %+v", err)
		} else if len(ids) != len(l.ActiveTrades()) {
			logs.Warnf("trade journal disagrees with portfolio document: journal=%d ledger=%d",
				len(ids), len(l.ActiveTrades()))
		}
	}

	metrics := obs.NewMetrics()
	riskEngine := risk.NewEngine(l.RiskConfig())
	if *configReload > 0 {
		go watchConfig(ctx, *configPath, *configReload, func(next ops.Loaded) {
			riskEngine.UpdateConfig(next.Risk)
		})
	}

	var proc *engine.Processor
	mux := venue.NewMux()
	adapters := make([]venue.Adapter, 0, len(loaded.Venues))
	for _, name := range loaded.Venues {
		paper := venue.NewPaper(name, func(f event.Fill) {
			if err := proc.Offer(event.NewFill(f)); err != nil {
				logs.Errorf("enqueue fill %s, err: %+v", f.OrderID, err)
			}
		})
		mux.Register(name, paper)
		adapters = append(adapters, paper)
	}

	recon := reconcile.New(adapters, st, loaded.VenueTimeout)
	proc = engine.New(engine.Config{
		QueueCapacity:     loaded.QueueCapacity,
		SaveRetries:       loaded.SaveRetries,
		SaveBackoff:       loaded.SaveBackoff,
		ReconcileInterval: loaded.ReconcileInterval,
	}, l, riskEngine, st, mux, recon, metrics)

	// Reconcile before consuming live events: the ledger must match
	// venue ground truth before any risk decision runs.
	if _, err := recon.Run(ctx, l); err != nil {
		log.Fatalf("startup reconciliation failed: %v", err)
	}

	go func() {
		<-sys.Shutdown()
		logs.Info("shutdown signal received")
		cancel()
	}()

	if err := proc.Run(ctx); err != nil {
		logs.Errorf("event processor stopped, err: %+v", err)
		os.Exit(1)
	}

	snap := metrics.Snapshot()
	logs.Infof("processor stats: admitted=%d stops=%d drops=%d save_retries=%d inconsistent_fills=%d",
		snap.Admitted, snap.StopsTriggered, snap.QueueDrops, snap.SaveRetries, snap.InconsistentFills)
}

func buildStore(ctx context.Context, loaded ops.Loaded, forceMemory bool) (store.Store, store.TradeJournal, func(), error) {
	if forceMemory || loaded.Store.Memory {
		mem := store.NewMemory()
		return mem, mem, func() {}, nil
	}

	client, err := conn.New(ctx, conn.Option{
		Host:     loaded.Store.Host,
		Port:     loaded.Store.Port,
		User:     loaded.Store.User,
		Password: loaded.Store.Password,
		Database: loaded.Store.Database,
		SSLMode:  loaded.Store.SSLMode,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	pg, err := store.NewPostgres(client.DB())
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	return pg, pg, func() { _ = client.Close() }, nil
}

// loadOrCreatePortfolio loads the stored portfolio, or creates an empty
// one with the configured allocations and persists it immediately.
func loadOrCreatePortfolio(ctx context.Context, st store.Store, loaded ops.Loaded) (ledger.Portfolio, error) {
	pf, err := st.Load(ctx, loaded.PortfolioID)
	if err == nil {
		return pf, nil
	}
	if !errors.Is(err, exception.ErrNotFound) {
		return ledger.Portfolio{}, err
	}

	pf = ledger.NewPortfolio(loaded.PortfolioID, loaded.InitialFunds, loaded.Models, loaded.Risk)
	if len(loaded.Allocations) > 0 {
		pf.ModelAllocations = loaded.Allocations
	}
	if err := st.Save(ctx, pf); err != nil {
		return ledger.Portfolio{}, errors.Wrap(err, "persist empty portfolio")
	}
	logs.Debugf("empty portfolio %d created", pf.ID)
	return pf, nil
}

// watchConfig polls the config file and applies updated risk limits
// when its modification time advances. A file that fails to load keeps
// the previous limits.
func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("config stat failed, err: %+v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				logs.Warnf("config reload failed, err: %+v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			logs.Infof("config reloaded: %s", path)
		}
	}
}

func startProfiler(cfg ops.ProfilingConfig) (func(), error) {
	address := cfg.ServerAddress
	if address == "" {
		address = "http://localhost:4040"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "portfoliod",
		ServerAddress:   address,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = profiler.Stop() }, nil
}
