package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote_DefaultCurve(t *testing.T) {
	p := Default()

	q := p.Quote(20)
	assert.Equal(t, int64(20), q.StealPrice)
	assert.Equal(t, int64(24), q.NextPrice)
	assert.Equal(t, int64(30), q.RecoveryPrice)

	q = p.Quote(24)
	assert.Equal(t, int64(24), q.StealPrice)
	assert.Equal(t, int64(28), q.NextPrice)
	assert.Equal(t, int64(36), q.RecoveryPrice)
}

func TestNext_StrictlyIncreasing(t *testing.T) {
	policies := []Policy{
		Default(),
		{GrowthBps: 0},
		{GrowthBps: 1, MinIncrement: 0},
		{GrowthBps: 50_000, MaxIncrement: 3},
		{GrowthBps: -500, MinIncrement: -2},
	}
	prices := []int64{-5, 0, 1, 2, 7, 20, 99, 1_000, 123_456_789}
	for _, p := range policies {
		for _, price := range prices {
			q := p.Quote(price)
			require.Greater(t, q.NextPrice, q.StealPrice, "policy %+v price %d", p, price)
			require.Greater(t, q.RecoveryPrice, q.StealPrice, "policy %+v price %d", p, price)
			require.GreaterOrEqual(t, q.StealPrice, int64(0))
		}
	}
}

func TestNext_CappedGrowth(t *testing.T) {
	p := Policy{GrowthBps: 5_000, MinIncrement: 1, MaxIncrement: 10}

	assert.Equal(t, int64(15), p.Next(10))
	assert.Equal(t, int64(1_010), p.Next(1_000))
}

func TestNext_Saturates(t *testing.T) {
	p := Default()
	assert.Equal(t, int64(math.MaxInt64), p.Next(math.MaxInt64-1))
	assert.Equal(t, int64(math.MaxInt64), p.Recovery(math.MaxInt64/2+10))
}

func TestNext_Ladder(t *testing.T) {
	p := Default()

	price := int64(20)
	ladder := []int64{price}
	for k := 1; k <= 25; k++ {
		next := p.Next(price)
		require.Greater(t, next, price, "steal %d", k)
		ladder = append(ladder, next)
		price = next
	}
	assert.Equal(t, []int64{20, 24, 28}, ladder[:3])
}
