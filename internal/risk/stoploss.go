package risk

import "perp-core/internal/market"

const stopATRMultiple = 2.0

// Levels are the protective trigger prices for an entry.
type Levels struct {
	StopLoss   float64
	TakeProfit float64
}

// ProtectiveLevels places the stop two ATRs from entry and the take-profit rr
// stop distances away, both rounded to the price precision. If rounding
// collapses a level onto the entry it is pushed 1% away.
func ProtectiveLevels(entry, atr float64, side Side, rr float64, rule market.Rule) Levels {
	stopDist := atr * stopATRMultiple
	takeDist := stopDist * rr

	if side == Short {
		stop := rule.RoundPrice(entry + stopDist)
		take := rule.RoundPrice(entry - takeDist)
		if stop <= entry {
			stop = entry * 1.01
		}
		if take >= entry {
			take = entry * 0.99
		}
		return Levels{StopLoss: stop, TakeProfit: take}
	}

	stop := rule.RoundPrice(entry - stopDist)
	take := rule.RoundPrice(entry + takeDist)
	if stop >= entry {
		stop = entry * 0.99
	}
	if take <= entry {
		take = entry * 1.01
	}
	return Levels{StopLoss: stop, TakeProfit: take}
}
