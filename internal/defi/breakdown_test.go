package defi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(v float64) *float64 { return &v }

func TestByChain(t *testing.T) {
	t.Run("Should split volume per declared chain", func(t *testing.T) {
		txs := []Transaction{
			{Chain: "ethereum", ValueUSD: 700},
			{Chain: "polygon", ValueUSD: 300},
		}

		got := ByChain(txs, []string{"ethereum", "polygon"}, 1000)

		assert.Equal(t, []BreakdownEntry{
			{Key: "ethereum", VolumeUSD: 700, Percentage: 70},
			{Key: "polygon", VolumeUSD: 300, Percentage: 30},
		}, got)
	})

	t.Run("Should include declared chains without transactions", func(t *testing.T) {
		txs := []Transaction{
			{Chain: "polygon", ValueUSD: 250},
			{Chain: "ethereum", ValueUSD: 750},
		}

		got := ByChain(txs, []string{"ethereum", "polygon", "base"}, 1000)

		require.Len(t, got, 3)
		assert.Equal(t, "ethereum", got[0].Key)
		assert.Equal(t, "polygon", got[1].Key)
		assert.Equal(t, BreakdownEntry{Key: "base", VolumeUSD: 0, Percentage: 0}, got[2])
	})

	t.Run("Should match chains case-insensitively and ignore undeclared chains", func(t *testing.T) {
		txs := []Transaction{
			{Chain: "Ethereum", ValueUSD: 100},
			{Chain: "arbitrum", ValueUSD: 900},
		}

		got := ByChain(txs, []string{"ethereum"}, 1000)

		require.Len(t, got, 1)
		assert.Equal(t, 100.0, got[0].VolumeUSD)
		assert.Equal(t, 10.0, got[0].Percentage)
	})
}

func TestByType(t *testing.T) {
	txs := []Transaction{
		{Type: "swap", ValueUSD: 100},
		{Type: "swap", ValueUSD: 50},
		{Type: "stake", ValueUSD: 40},
		{Type: "", ValueUSD: 10},
		{Type: "lp_add", ValueUSD: 40},
		{Type: "bridge", ValueUSD: 5},
		{Type: "claim", ValueUSD: 1},
	}

	t.Run("Should keep the top entries sorted by volume", func(t *testing.T) {
		got := ByType(txs, 246, DefaultTopN)

		require.Len(t, got, DefaultTopN)
		keys := make([]string, len(got))
		for i, e := range got {
			keys[i] = e.Key
		}
		// Equal volumes fall back to key order
		assert.Equal(t, []string{"swap", "lp_add", "stake", "unknown", "bridge"}, keys)
		assert.Equal(t, 150.0, got[0].VolumeUSD)
	})

	t.Run("Should keep every group when topN is not positive", func(t *testing.T) {
		assert.Len(t, ByType(txs, 246, 0), 6)
	})
}

func TestByToken(t *testing.T) {
	t.Run("Should credit both legs of a swap", func(t *testing.T) {
		txs := []Transaction{{
			TokenOut:  "ETH",
			AmountOut: amount(1),
			TokenIn:   "USDC",
			AmountIn:  amount(2000),
			ValueUSD:  2000,
		}}

		got := ByToken(txs, 2000, DefaultTopN)

		assert.False(t, got.NoData)
		assert.ElementsMatch(t, []BreakdownEntry{
			{Key: "ETH", VolumeUSD: 2000, Percentage: 100},
			{Key: "USDC", VolumeUSD: 2000, Percentage: 100},
		}, got.Entries)
	})

	t.Run("Should skip legs without an amount", func(t *testing.T) {
		txs := []Transaction{
			{TokenOut: "ETH", ValueUSD: 10},
			{TokenIn: "DAI", AmountIn: amount(5), ValueUSD: 5},
		}

		got := ByToken(txs, 15, DefaultTopN)

		require.Len(t, got.Entries, 1)
		assert.Equal(t, "DAI", got.Entries[0].Key)
	})

	t.Run("Should flag no data when no transaction has a token leg", func(t *testing.T) {
		got := ByToken([]Transaction{{ValueUSD: 100}}, 100, DefaultTopN)

		assert.True(t, got.NoData)
		assert.Empty(t, got.Entries)
	})
}

func TestBreakdownsZeroVolume(t *testing.T) {
	txs := []Transaction{
		{Chain: "ethereum", Type: "swap", ValueUSD: 12, TokenIn: "ETH", AmountIn: amount(1)},
		{Chain: "base", Type: "bridge", ValueUSD: 3, TokenOut: "USDC", AmountOut: amount(3)},
	}
	report := &Report{
		Job:          Job{ID: "a1", Status: StatusCompleted, Chains: []string{"ethereum", "base"}},
		Transactions: txs,
	}

	b := ComputeBreakdowns(report)

	all := append(append([]BreakdownEntry{}, b.ByChain...), b.ByType...)
	all = append(all, b.ByToken.Entries...)
	require.NotEmpty(t, all)
	for _, e := range all {
		assert.Zero(t, e.Percentage, e.Key)
		assert.False(t, math.IsNaN(e.Percentage) || math.IsInf(e.Percentage, 0), e.Key)
	}
}

func TestBreakdownsEmptyReport(t *testing.T) {
	report := &Report{Job: Job{ID: "a2", Status: StatusCompleted, Chains: []string{"ethereum"}}}

	b := ComputeBreakdowns(report)

	assert.Equal(t, []BreakdownEntry{{Key: "ethereum"}}, b.ByChain)
	assert.Empty(t, b.ByType)
	assert.True(t, b.ByToken.NoData)

	t.Run("Should handle a nil report", func(t *testing.T) {
		b := ComputeBreakdowns(nil)
		assert.NotNil(t, b.ByChain)
		assert.NotNil(t, b.ByType)
		assert.True(t, b.ByToken.NoData)
	})
}

func TestBreakdownsAreDeterministic(t *testing.T) {
	report := &Report{
		Job:     Job{Chains: []string{"ethereum", "polygon"}},
		Summary: Summary{TotalVolumeUSD: 400},
		Transactions: []Transaction{
			{Chain: "ethereum", Type: "swap", ValueUSD: 100, TokenIn: "A", AmountIn: amount(1), TokenOut: "B", AmountOut: amount(1)},
			{Chain: "polygon", Type: "stake", ValueUSD: 100, TokenIn: "C", AmountIn: amount(1)},
			{Chain: "ethereum", Type: "lp_add", ValueUSD: 100, TokenOut: "D", AmountOut: amount(1)},
			{Chain: "polygon", Type: "claim", ValueUSD: 100, TokenIn: "E", AmountIn: amount(1)},
		},
	}
	before := append([]Transaction{}, report.Transactions...)

	first := ComputeBreakdowns(report)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputeBreakdowns(report))
	}
	assert.Equal(t, before, report.Transactions, "inputs must not be mutated")
}
