package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewDatasetAlignsCalendars(t *testing.T) {
	ds := NewDataset(map[string][]Bar{
		"AAA": {
			{Date: day("2024-01-02"), AdjClose: 10, Volume: 100},
			{Date: day("2024-01-04"), AdjClose: 11, Volume: 110},
		},
		"BBB": {
			{Date: day("2024-01-03"), AdjClose: 20, Volume: 200},
			{Date: day("2024-01-04"), AdjClose: 21, Volume: 210},
		},
	})

	require.Len(t, ds.Dates(), 3)
	assert.Equal(t, []string{"AAA", "BBB"}, ds.Symbols())

	a, ok := ds.Series("AAA")
	require.True(t, ok)
	assert.Equal(t, 10.0, a.Value(FieldAdjClose, 0))
	assert.True(t, math.IsNaN(a.Value(FieldAdjClose, 1)))
	assert.Equal(t, 11.0, a.Value(FieldAdjClose, 2))
	assert.True(t, math.IsNaN(a.Value(FieldAdjClose, 7)))
}

func TestNearestIndex(t *testing.T) {
	ds := NewDataset(map[string][]Bar{
		"AAA": {
			{Date: day("2024-01-05")},
			{Date: day("2024-01-08")},
			{Date: day("2024-01-12")},
		},
	})

	tests := []struct {
		name string
		date string
		want int
	}{
		{"exact", "2024-01-08", 1},
		{"before start", "2023-12-01", 0},
		{"after end", "2024-02-01", 2},
		{"weekend closer to friday", "2024-01-06", 0},
		{"closer to next", "2024-01-11", 2},
		{"tie picks earlier", "2024-01-10", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ds.IndexOf(day(tt.date))
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLatestOnOrBefore(t *testing.T) {
	ds := NewDataset(map[string][]Bar{
		"AAA": {{Date: day("2024-01-05")}, {Date: day("2024-01-08")}},
	})

	got, ok := ds.LatestOnOrBefore(day("2024-01-07"))
	require.True(t, ok)
	assert.Equal(t, day("2024-01-05"), got)

	_, ok = ds.LatestOnOrBefore(day("2024-01-01"))
	assert.False(t, ok)
}

func TestThresholdKey(t *testing.T) {
	assert.Equal(t, "0.8500", Params{CorrelationThreshold: 0.85}.ThresholdKey())
	assert.Equal(t, "0.7000", Params{CorrelationThreshold: 0.70000000001}.ThresholdKey())
	assert.True(t, DefaultThresholds().Valid())
	assert.False(t, Thresholds{StrongUp: 1, ModerateUp: 2, NeutralLower: -1, StrongDown: -2}.Valid())
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, DirectionUp, DirectionOf(0.01))
	assert.Equal(t, DirectionDown, DirectionOf(-0.01))
	assert.Equal(t, DirectionNeutral, DirectionOf(0))
}
