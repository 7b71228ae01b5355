package engine

import (
	"riskpilot/internal/domain/models"
	"riskpilot/pkg/config"
)

// trailWidth returns the trail distance for the best profit reached so far.
// Below the arming threshold the trail stays pinned at the regime's initial
// width so small favorable moves do not creep the stop. Once armed, the width
// scales with the profit tier and is capped at the regime's max trail.
func trailWidth(cfg config.EngineConfig, params config.ExitParams, peakProfit float64) float64 {
	if peakProfit < cfg.ArmProfit {
		return params.InitialTrail
	}

	mult := 1.0
	switch {
	case peakProfit >= cfg.TierHigh.Profit:
		mult = cfg.TierHigh.Mult
	case peakProfit >= cfg.TierMedium.Profit:
		mult = cfg.TierMedium.Mult
	case peakProfit >= cfg.TierLow.Profit:
		mult = cfg.TierLow.Mult
	}

	trail := params.InitialTrail * mult
	if trail > params.MaxTrail {
		trail = params.MaxTrail
	}
	return trail
}

// effectiveTrail applies the regime leniency on top of the stored trail for
// one cross test. A profitable position in a trending market (or under strong
// directional movement) gets a wider trail; past the high-profit threshold
// the widening is compressed again so late-stage gains are captured rather
// than given back. The adjustment is transient and never persisted.
func effectiveTrail(cfg config.EngineConfig, current float64, profit float64, env Env) float64 {
	if profit <= 0 {
		return current
	}
	if env.Regime != models.RegimeTrending && env.TrendStrength < cfg.TrendStrengthWiden {
		return current
	}

	trail := current * cfg.TrendWidenMult
	if profit >= cfg.HighProfitThreshold && cfg.HighProfitCompress > 0 {
		trail /= cfg.HighProfitCompress
	}
	return trail
}

// stopPrice computes the trailing stop from the favorable extremum. Long
// positions stop below the highest price seen, shorts above the lowest.
func stopPrice(side models.Side, extremum, trail float64) float64 {
	if side == models.SideLong {
		return extremum * (1 - trail)
	}
	return extremum * (1 + trail)
}

// crossed reports whether the price has reached the stop for the side.
func crossed(side models.Side, price, stop float64) bool {
	if side == models.SideLong {
		return price <= stop
	}
	return price >= stop
}
