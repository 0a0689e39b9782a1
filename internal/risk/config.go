package risk

import "github.com/shopspring/decimal"

// SizingMode selects the position sizing strategy.
type SizingMode uint8

const (
	SizingFixedPercent SizingMode = iota
	SizingKelly
)

func (m SizingMode) String() string {
	switch m {
	case SizingKelly:
		return "kelly"
	default:
		return "fixed-percent"
	}
}

// Default risk limits, applied when a portfolio is created without
// overrides.
var (
	DefaultMaxSimultaneousPositions = 20
	DefaultMaxCorrelatedTrades      = 1
	DefaultMaxAcceptedDrawdown      = decimal.NewFromInt(15)
	DefaultRiskPerTrade             = decimal.NewFromInt(1)
	DefaultStop                     = decimal.NewFromInt(3)
)

// Config is the immutable-at-runtime risk policy for one portfolio.
// Percentages are whole numbers (15 means 15%).
type Config struct {
	MaxSimultaneousPositions int             `json:"maxSimultaneousPositions"`
	MaxCorrelatedTrades      int             `json:"maxCorrelatedTrades"`
	MaxAcceptedDrawdown      decimal.Decimal `json:"maxAcceptedDrawdown"`
	Sizing                   SizingMode      `json:"sizing"`
	RiskPerTrade             decimal.Decimal `json:"riskPerTrade"`
	DefaultStop              decimal.Decimal `json:"defaultStop"`
	// CorrelationGroups maps an instrument to an operator-declared
	// correlation group. Instruments without a group correlate only
	// with themselves.
	CorrelationGroups map[string]string `json:"correlationGroups,omitempty"`
}

// DefaultConfig returns the default risk limits.
func DefaultConfig() Config {
	return Config{
		MaxSimultaneousPositions: DefaultMaxSimultaneousPositions,
		MaxCorrelatedTrades:      DefaultMaxCorrelatedTrades,
		MaxAcceptedDrawdown:      DefaultMaxAcceptedDrawdown,
		Sizing:                   SizingFixedPercent,
		RiskPerTrade:             DefaultRiskPerTrade,
		DefaultStop:              DefaultStop,
	}
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	out := c
	if c.CorrelationGroups != nil {
		out.CorrelationGroups = make(map[string]string, len(c.CorrelationGroups))
		for instrument, group := range c.CorrelationGroups {
			out.CorrelationGroups[instrument] = group
		}
	}
	return out
}

// Correlated reports whether two instruments count against the same
// correlation limit.
func (c Config) Correlated(a, b string) bool {
	if a == b {
		return true
	}
	groupA, okA := c.CorrelationGroups[a]
	groupB, okB := c.CorrelationGroups[b]
	return okA && okB && groupA == groupB
}
