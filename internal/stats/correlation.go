// Package stats holds the numeric primitives behind snapshot computation.
// Every primitive is pure: absent results are reported through an ok flag,
// never through NaN.
package stats

import (
	"math"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
)

const (
	// MinValidFraction of a window that must hold paired observations
	MinValidFraction = 0.8
	// MinValidPoints is the absolute floor of paired observations
	MinValidPoints = 10
)

// WindowedCorrelation computes the Pearson correlation of field between a and
// b over the lookback trading days ending at the trading date nearest anchor.
// Both series must share the dataset calendar.
func WindowedCorrelation(a, b *model.PriceSeries, anchor time.Time, lookback int, field model.Field) (float64, bool) {
	if a == nil || b == nil || lookback < 2 {
		return 0, false
	}

	idx, ok := a.IndexOf(anchor)
	if !ok || idx < lookback-1 {
		return 0, false
	}

	xs := make([]float64, 0, lookback)
	ys := make([]float64, 0, lookback)
	for i := idx - lookback + 1; i <= idx; i++ {
		x, y := a.Value(field, i), b.Value(field, i)
		if !finite(x) || !finite(y) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}

	if float64(len(xs)) < float64(lookback)*MinValidFraction || len(xs) < MinValidPoints {
		return 0, false
	}

	return Pearson(xs, ys)
}

// Pearson returns the sample correlation coefficient of two equal-length
// slices. It is undefined when either side has zero variance.
func Pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0, false
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}

	if sxx == 0 || syy == 0 {
		return 0, false
	}

	r := sxy / math.Sqrt(sxx*syy)
	if !finite(r) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, r)), true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
