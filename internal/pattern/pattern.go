// Package pattern compares the peer sets recorded on correlation snapshots.
package pattern

import (
	"math"
	"sort"
	"strings"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
)

const (
	jaccardWeight   = 0.6
	closenessWeight = 0.4
)

// Signature renders the sorted, de-duplicated matched symbols joined by "+"
// followed by the threshold at two decimals, e.g. "AAPL+MSFT:0.85".
func Signature(matched []model.MatchedStock, threshold float64) string {
	symbols := symbolSet(matched)
	keys := make([]string, 0, len(symbols))
	for s := range symbols {
		keys = append(keys, s)
	}
	sort.Strings(keys)

	return strings.Join(keys, "+") + ":" + model.CanonicalThreshold(threshold).StringFixed(2)
}

// Similarity scores two peer sets in [0,1] as
// 0.6*Jaccard + 0.4*mean price-correlation closeness over shared symbols.
func Similarity(a, b []model.MatchedStock) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA, setB := symbolSet(a), symbolSet(b)

	shared := 0
	closeness := 0.0
	for sym, ma := range setA {
		mb, ok := setB[sym]
		if !ok {
			continue
		}
		shared++
		diff := math.Abs(ma.PriceCorrValue() - mb.PriceCorrValue())
		closeness += 1 - math.Min(diff, 1)
	}

	union := len(setA) + len(setB) - shared
	jaccard := float64(shared) / float64(union)
	if shared > 0 {
		closeness /= float64(shared)
	}

	score := jaccardWeight*jaccard + closenessWeight*closeness
	return math.Max(0, math.Min(1, score))
}

// symbolSet keys matches by symbol; a repeated symbol keeps its last entry
func symbolSet(matched []model.MatchedStock) map[string]model.MatchedStock {
	out := make(map[string]model.MatchedStock, len(matched))
	for _, m := range matched {
		out[m.Symbol] = m
	}
	return out
}
