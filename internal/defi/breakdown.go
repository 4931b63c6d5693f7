package defi

import (
	"sort"
	"strings"
)

// DefaultTopN is the number of entries kept by the type and token breakdowns
const DefaultTopN = 5

const unknownType = "unknown"

// BreakdownEntry is one row of a derived volume grouping
type BreakdownEntry struct {
	Key        string  `json:"key"`
	VolumeUSD  float64 `json:"volume_usd"`
	Percentage float64 `json:"percentage"`
}

// TokenBreakdown is the per-token grouping. NoData is set when no transaction
// carried a token leg, which is distinct from an empty transaction list having zero activity.
type TokenBreakdown struct {
	Entries []BreakdownEntry `json:"entries"`
	NoData  bool             `json:"no_data"`
}

// Breakdowns bundles the three views rendered for a report
type Breakdowns struct {
	ByChain []BreakdownEntry `json:"by_chain"`
	ByType  []BreakdownEntry `json:"by_type"`
	ByToken TokenBreakdown   `json:"by_token"`
}

// ComputeBreakdowns runs all aggregations against a report's own chains and totals
func ComputeBreakdowns(r *Report) Breakdowns {
	if r == nil {
		return Breakdowns{
			ByChain: []BreakdownEntry{},
			ByType:  []BreakdownEntry{},
			ByToken: TokenBreakdown{Entries: []BreakdownEntry{}, NoData: true},
		}
	}
	total := r.Summary.TotalVolumeUSD
	return Breakdowns{
		ByChain: ByChain(r.Transactions, r.Chains, total),
		ByType:  ByType(r.Transactions, total, DefaultTopN),
		ByToken: ByToken(r.Transactions, total, DefaultTopN),
	}
}

// ByChain sums transaction value per declared chain, in declared order.
// Declared chains with no transactions appear with zero volume; chain matching ignores case.
func ByChain(txs []Transaction, chains []string, totalVolume float64) []BreakdownEntry {
	sums := make(map[string]float64, len(chains))
	for _, tx := range txs {
		sums[strings.ToLower(tx.Chain)] += tx.ValueUSD
	}

	out := make([]BreakdownEntry, 0, len(chains))
	for _, chain := range chains {
		volume := sums[strings.ToLower(chain)]
		out = append(out, BreakdownEntry{
			Key:        chain,
			VolumeUSD:  volume,
			Percentage: percentage(volume, totalVolume),
		})
	}
	return out
}

// ByType groups value by transaction type and keeps the largest topN groups.
// Percentages are against totalVolume, so the kept rows need not sum to 100.
func ByType(txs []Transaction, totalVolume float64, topN int) []BreakdownEntry {
	sums := make(map[string]float64)
	for _, tx := range txs {
		key := strings.TrimSpace(tx.Type)
		if key == "" {
			key = unknownType
		}
		sums[key] += tx.ValueUSD
	}
	return topEntries(sums, totalVolume, topN)
}

// ByToken credits each transaction's value to its outbound token and, independently,
// to its inbound token, so a swap contributes its full value to both legs.
func ByToken(txs []Transaction, totalVolume float64, topN int) TokenBreakdown {
	sums := make(map[string]float64)
	for _, tx := range txs {
		if tx.hasOutLeg() {
			sums[tx.TokenOut] += tx.ValueUSD
		}
		if tx.hasInLeg() {
			sums[tx.TokenIn] += tx.ValueUSD
		}
	}
	if len(sums) == 0 {
		return TokenBreakdown{Entries: []BreakdownEntry{}, NoData: true}
	}
	return TokenBreakdown{Entries: topEntries(sums, totalVolume, topN)}
}

// topEntries sorts by volume descending (key ascending on ties) and truncates to topN
func topEntries(sums map[string]float64, totalVolume float64, topN int) []BreakdownEntry {
	out := make([]BreakdownEntry, 0, len(sums))
	for key, volume := range sums {
		out = append(out, BreakdownEntry{
			Key:        key,
			VolumeUSD:  volume,
			Percentage: percentage(volume, totalVolume),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VolumeUSD != out[j].VolumeUSD {
			return out[i].VolumeUSD > out[j].VolumeUSD
		}
		return out[i].Key < out[j].Key
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

func percentage(volume, total float64) float64 {
	if total == 0 {
		return 0
	}
	return volume / total * 100
}
