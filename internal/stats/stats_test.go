package stats

import (
	"math"
	"testing"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// buildDataset lays out the given closes on consecutive calendar days
func buildDataset(t *testing.T, series map[string][]float64) *model.Dataset {
	t.Helper()
	bars := make(map[string][]model.Bar, len(series))
	for sym, closes := range series {
		for i, c := range closes {
			bars[sym] = append(bars[sym], model.Bar{
				Date:     start.AddDate(0, 0, i),
				Close:    c,
				AdjClose: c,
				Volume:   c * 1000,
			})
		}
	}
	return model.NewDataset(bars)
}

func wave(n int, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 10*math.Sin(float64(i)/3+phase) + float64(i)*0.1
	}
	return out
}

func mustSeries(t *testing.T, ds *model.Dataset, sym string) *model.PriceSeries {
	t.Helper()
	s, ok := ds.Series(sym)
	require.True(t, ok)
	return s
}

func TestWindowedCorrelationIdentityAndSymmetry(t *testing.T) {
	ds := buildDataset(t, map[string][]float64{
		"AAA": wave(40, 0),
		"BBB": wave(40, 1.3),
	})
	a, b := mustSeries(t, ds, "AAA"), mustSeries(t, ds, "BBB")
	anchor := start.AddDate(0, 0, 30)

	self, ok := WindowedCorrelation(a, a, anchor, 15, model.FieldAdjClose)
	require.True(t, ok)
	assert.InDelta(t, 1.0, self, 1e-12)

	ab, ok := WindowedCorrelation(a, b, anchor, 15, model.FieldAdjClose)
	require.True(t, ok)
	ba, ok := WindowedCorrelation(b, a, anchor, 15, model.FieldAdjClose)
	require.True(t, ok)
	assert.Equal(t, ab, ba)
	assert.GreaterOrEqual(t, ab, -1.0)
	assert.LessOrEqual(t, ab, 1.0)

	again, _ := WindowedCorrelation(a, b, anchor, 15, model.FieldAdjClose)
	assert.Equal(t, ab, again)
}

func TestWindowedCorrelationNegative(t *testing.T) {
	base := wave(30, 0)
	mirror := make([]float64, len(base))
	for i, v := range base {
		mirror[i] = 300 - v
	}
	ds := buildDataset(t, map[string][]float64{"AAA": base, "BBB": mirror})

	r, ok := WindowedCorrelation(mustSeries(t, ds, "AAA"), mustSeries(t, ds, "BBB"), start.AddDate(0, 0, 20), 15, model.FieldVolume)
	require.True(t, ok)
	assert.InDelta(t, -1.0, r, 1e-9)
}

func TestWindowedCorrelationInsufficientData(t *testing.T) {
	withGaps := func(gaps int) []float64 {
		v := wave(30, 0.5)
		for i := 0; i < gaps; i++ {
			v[20-i] = math.NaN()
		}
		return v
	}

	tests := []struct {
		name     string
		a, b     []float64
		anchor   int
		lookback int
		wantOK   bool
	}{
		{"history one short of lookback", wave(30, 0), wave(30, 1), 13, 15, false},
		{"history exactly lookback", wave(30, 0), wave(30, 1), 14, 15, true},
		{"three gaps keeps 80 percent", wave(30, 0), withGaps(3), 22, 15, true},
		{"four gaps drops below 80 percent", wave(30, 0), withGaps(4), 22, 15, false},
		{"window below ten points", wave(30, 0), wave(30, 1), 20, 8, false},
		{"zero variance", wave(30, 0), constant(30, 42), 20, 15, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := buildDataset(t, map[string][]float64{"AAA": tt.a, "BBB": tt.b})
			r, ok := WindowedCorrelation(mustSeries(t, ds, "AAA"), mustSeries(t, ds, "BBB"),
				start.AddDate(0, 0, tt.anchor), tt.lookback, model.FieldAdjClose)
			assert.Equal(t, tt.wantOK, ok)
			assert.False(t, math.IsNaN(r))
		})
	}
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPearsonLengthMismatch(t *testing.T) {
	_, ok := Pearson([]float64{1, 2, 3}, []float64{1, 2})
	assert.False(t, ok)
}

func TestForwardReturn(t *testing.T) {
	closes := []float64{100, 0, 102, 103, 110, math.NaN(), 120}
	ds := buildDataset(t, map[string][]float64{"AAA": closes})
	s := mustSeries(t, ds, "AAA")

	tests := []struct {
		name    string
		anchor  int
		forward int
		want    float64
		wantOK  bool
	}{
		{"simple gain", 0, 4, 10, true},
		{"beyond end", 4, 3, 0, false},
		{"last row reachable", 4, 2, 9.090909090909092, true},
		{"zero start", 1, 2, 0, false},
		{"missing end", 2, 3, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ForwardReturn(s, start.AddDate(0, 0, tt.anchor), tt.forward, model.FieldAdjClose)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestClassifyMovement(t *testing.T) {
	th := model.DefaultThresholds()

	tests := []struct {
		r    float64
		want model.MovementType
	}{
		{25, model.StrongUp},
		{10, model.StrongUp},
		{9.99, model.ModerateUp},
		{5, model.ModerateUp},
		{4.99, model.Neutral},
		{0, model.Neutral},
		{-5, model.Neutral},
		{-5.01, model.ModerateDown},
		{-7, model.ModerateDown},
		{-9.99, model.ModerateDown},
		{-10, model.StrongDown},
		{-40, model.StrongDown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMovement(tt.r, th), "return %v", tt.r)
	}
}

func TestClassifyMovementAsymmetricBand(t *testing.T) {
	th := model.Thresholds{StrongUp: 8, ModerateUp: 2, NeutralLower: -3, StrongDown: -12}
	assert.Equal(t, model.ModerateUp, ClassifyMovement(2, th))
	assert.Equal(t, model.Neutral, ClassifyMovement(-3, th))
	assert.Equal(t, model.ModerateDown, ClassifyMovement(-11, th))
}
