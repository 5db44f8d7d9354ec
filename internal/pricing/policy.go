// Package pricing maps a scenario's current price to what the next thief
// pays, what the price becomes afterwards and what a buy-back costs.
// Every function here is pure and total.
package pricing

import "math"

const bpsDenominator = 10_000

// Policy is the escalation curve.  Growth and premium are expressed in
// basis points of the price they apply to.
type Policy struct {
	GrowthBps          int64 // growth of the price per steal
	MinIncrement       int64 // smallest growth step, at least 1
	MaxIncrement       int64 // largest growth step, 0 for uncapped
	RecoveryPremiumBps int64 // buy-back premium over the last steal price
}

// Default grows the price 20% per steal and charges a 50% premium for
// recovery.
func Default() Policy {
	return Policy{GrowthBps: 2_000, MinIncrement: 1, RecoveryPremiumBps: 5_000}
}

// Quote is the set of prices derived from one scenario state.
type Quote struct {
	StealPrice    int64
	NextPrice     int64
	RecoveryPrice int64
}

// Quote prices a steal evaluated now.  StealPrice is the current price,
// NextPrice is strictly greater, RecoveryPrice is the premium a displaced
// holder would pay to buy this steal back.
func (p Policy) Quote(currentPrice int64) Quote {
	steal := clampNonNegative(currentPrice)
	return Quote{
		StealPrice:    steal,
		NextPrice:     p.Next(steal),
		RecoveryPrice: p.Recovery(steal),
	}
}

// Next returns the price after a steal at price.
func (p Policy) Next(price int64) int64 {
	price = clampNonNegative(price)
	return addSaturating(price, p.step(price, p.GrowthBps))
}

// Recovery returns the buy-back price for a steal paid at stealPrice.
func (p Policy) Recovery(stealPrice int64) int64 {
	stealPrice = clampNonNegative(stealPrice)
	return addSaturating(stealPrice, p.step(stealPrice, p.RecoveryPremiumBps))
}

func (p Policy) step(price, bps int64) int64 {
	minInc := p.MinIncrement
	if minInc < 1 {
		minInc = 1
	}
	inc := int64(0)
	if bps > 0 {
		if price > math.MaxInt64/bps {
			inc = math.MaxInt64
		} else {
			inc = price * bps / bpsDenominator
		}
	}
	if inc < minInc {
		inc = minInc
	}
	if p.MaxIncrement > 0 && inc > p.MaxIncrement {
		inc = max(p.MaxIncrement, minInc)
	}
	return inc
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
