// Package ops loads and validates the process configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terpnesZcorno/trading-server/internal/risk"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Portfolio PortfolioConfig `json:"portfolio"`
	Risk      RiskConfig      `json:"risk"`
	Venues    []VenueConfig   `json:"venues"`
	Store     StoreConfig     `json:"store"`
	Engine    EngineConfig    `json:"engine"`
	Profiling ProfilingConfig `json:"profiling"`
}

// PortfolioConfig describes the account the engine manages.
type PortfolioConfig struct {
	ID           int              `json:"id"`
	InitialFunds *decimal.Decimal `json:"initialFunds"`
	Models       []string         `json:"models"`
	// Allocations overrides the default equal weighting. Must sum to
	// 100 when present.
	Allocations map[string]decimal.Decimal `json:"allocations,omitempty"`
}

// RiskConfig carries per-portfolio risk limit overrides. Absent fields
// fall back to the defaults.
type RiskConfig struct {
	MaxSimultaneousPositions *int              `json:"maxSimultaneousPositions"`
	MaxCorrelatedTrades      *int              `json:"maxCorrelatedTrades"`
	MaxAcceptedDrawdown      *decimal.Decimal  `json:"maxAcceptedDrawdown"`
	Sizing                   string            `json:"sizing"`
	RiskPerTrade             *decimal.Decimal  `json:"riskPerTrade"`
	DefaultStop              *decimal.Decimal  `json:"defaultStop"`
	CorrelationGroups        map[string]string `json:"correlationGroups,omitempty"`
}

// VenueConfig names a connected venue.
type VenueConfig struct {
	Name string `json:"name"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Memory switches to the in-memory store (paper-trading mode).
	Memory   bool   `json:"memory"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// EngineConfig tunes the event processor.
type EngineConfig struct {
	QueueCapacity        int `json:"queueCapacity"`
	SaveRetries          int `json:"saveRetries"`
	SaveBackoffMs        int `json:"saveBackoffMs"`
	ReconcileIntervalSec int `json:"reconcileIntervalSec"`
	VenueTimeoutSec      int `json:"venueTimeoutSec"`
}

// ProfilingConfig toggles continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `json:"enable"`
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	PortfolioID       int
	InitialFunds      decimal.Decimal
	Models            []string
	Allocations       map[string]decimal.Decimal
	Risk              risk.Config
	Venues            []string
	Store             StoreConfig
	QueueCapacity     int
	SaveRetries       int
	SaveBackoff       time.Duration
	ReconcileInterval time.Duration
	VenueTimeout      time.Duration
	Profiling         ProfilingConfig
}

// Load reads a JSON config file and resolves it against the defaults.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a file config and applies defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	riskCfg, err := resolveRisk(cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}

	if len(cfg.Portfolio.Models) == 0 {
		return Loaded{}, fmt.Errorf("at least one model is required")
	}
	if err := validateAllocations(cfg.Portfolio); err != nil {
		return Loaded{}, err
	}

	if len(cfg.Venues) == 0 {
		return Loaded{}, fmt.Errorf("at least one venue is required")
	}
	venues := make([]string, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		if v.Name == "" {
			return Loaded{}, fmt.Errorf("venue name is empty")
		}
		venues = append(venues, v.Name)
	}

	initialFunds := decimal.Zero
	if cfg.Portfolio.InitialFunds != nil {
		if cfg.Portfolio.InitialFunds.IsNegative() {
			return Loaded{}, fmt.Errorf("initial funds must be >= 0")
		}
		initialFunds = *cfg.Portfolio.InitialFunds
	}

	return Loaded{
		PortfolioID:       cfg.Portfolio.ID,
		InitialFunds:      initialFunds,
		Models:            cfg.Portfolio.Models,
		Allocations:       cfg.Portfolio.Allocations,
		Risk:              riskCfg,
		Venues:            venues,
		Store:             cfg.Store,
		QueueCapacity:     cfg.Engine.QueueCapacity,
		SaveRetries:       cfg.Engine.SaveRetries,
		SaveBackoff:       time.Duration(cfg.Engine.SaveBackoffMs) * time.Millisecond,
		ReconcileInterval: time.Duration(cfg.Engine.ReconcileIntervalSec) * time.Second,
		VenueTimeout:      time.Duration(cfg.Engine.VenueTimeoutSec) * time.Second,
		Profiling:         cfg.Profiling,
	}, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	out := risk.DefaultConfig()

	if cfg.MaxSimultaneousPositions != nil {
		if *cfg.MaxSimultaneousPositions <= 0 {
			return risk.Config{}, fmt.Errorf("maxSimultaneousPositions must be > 0")
		}
		out.MaxSimultaneousPositions = *cfg.MaxSimultaneousPositions
	}
	if cfg.MaxCorrelatedTrades != nil {
		if *cfg.MaxCorrelatedTrades <= 0 {
			return risk.Config{}, fmt.Errorf("maxCorrelatedTrades must be > 0")
		}
		out.MaxCorrelatedTrades = *cfg.MaxCorrelatedTrades
	}
	if cfg.MaxAcceptedDrawdown != nil {
		if !cfg.MaxAcceptedDrawdown.IsPositive() {
			return risk.Config{}, fmt.Errorf("maxAcceptedDrawdown must be > 0")
		}
		out.MaxAcceptedDrawdown = *cfg.MaxAcceptedDrawdown
	}
	if cfg.RiskPerTrade != nil {
		if !cfg.RiskPerTrade.IsPositive() {
			return risk.Config{}, fmt.Errorf("riskPerTrade must be > 0")
		}
		out.RiskPerTrade = *cfg.RiskPerTrade
	}
	if cfg.DefaultStop != nil {
		if !cfg.DefaultStop.IsPositive() {
			return risk.Config{}, fmt.Errorf("defaultStop must be > 0")
		}
		out.DefaultStop = *cfg.DefaultStop
	}
	if cfg.CorrelationGroups != nil {
		out.CorrelationGroups = cfg.CorrelationGroups
	}

	switch strings.ToLower(cfg.Sizing) {
	case "", "fixed", "fixed-percent":
		out.Sizing = risk.SizingFixedPercent
	case "kelly":
		out.Sizing = risk.SizingKelly
	default:
		return risk.Config{}, fmt.Errorf("unknown sizing mode: %s", cfg.Sizing)
	}

	return out, nil
}

func validateAllocations(cfg PortfolioConfig) error {
	if len(cfg.Allocations) == 0 {
		return nil
	}

	total := decimal.Zero
	for model, pct := range cfg.Allocations {
		found := false
		for _, m := range cfg.Models {
			if m == model {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("allocation for unknown model: %s", model)
		}
		if pct.IsNegative() {
			return fmt.Errorf("allocation for %s must be >= 0", model)
		}
		total = total.Add(pct)
	}
	if !total.Equal(decimal.NewFromInt(100)) {
		return fmt.Errorf("model allocations must sum to 100, got %s", total)
	}
	return nil
}
