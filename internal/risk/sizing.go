package risk

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// ModelStats is the historical outcome record for one strategy model,
// accumulated from closed trades.
type ModelStats struct {
	Wins    int             `json:"wins"`
	Losses  int             `json:"losses"`
	AvgWin  decimal.Decimal `json:"avgWin"`
	AvgLoss decimal.Decimal `json:"avgLoss"`
}

// KellyFraction computes the Kelly criterion fraction from the recorded
// win rate and payoff ratio. It reports false when there is no usable
// history or the edge is not positive, in which case the caller falls
// back to fixed-percent sizing.
func (s ModelStats) KellyFraction() (decimal.Decimal, bool) {
	total := s.Wins + s.Losses
	if total == 0 || s.AvgLoss.IsZero() {
		return decimal.Zero, false
	}

	winRate := decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(total)))
	payoff := s.AvgWin.Div(s.AvgLoss.Abs())
	if payoff.IsZero() {
		return decimal.Zero, false
	}

	lossRate := decimal.NewFromInt(1).Sub(winRate)
	fraction := winRate.Sub(lossRate.Div(payoff))
	if !fraction.IsPositive() {
		return decimal.Zero, false
	}
	return fraction, true
}

// stopFraction resolves the stop distance as a fraction of entry price.
// A signal-provided stop level wins over the configured default.
func stopFraction(cfg Config, entry, stop decimal.Decimal) decimal.Decimal {
	if !stop.IsZero() && entry.IsPositive() {
		return entry.Sub(stop).Abs().Div(entry)
	}
	return cfg.DefaultStop.Div(oneHundred)
}
