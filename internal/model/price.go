package model

import (
	"math"
	"sort"
	"time"
)

// Field names a column of a price series
type Field string

const (
	FieldOpen     Field = "Open"
	FieldHigh     Field = "High"
	FieldLow      Field = "Low"
	FieldClose    Field = "Close"
	FieldAdjClose Field = "Adj Close"
	FieldVolume   Field = "Volume"
)

// Bar is one daily observation for a symbol
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   float64   `json:"volume"`
}

// TwelveResponse represents the time_series payload from Twelve Data
type TwelveResponse struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
	} `json:"meta"`
	Values []struct {
		Datetime string  `json:"datetime"`
		Open     float64 `json:"open,string"`
		High     float64 `json:"high,string"`
		Low      float64 `json:"low,string"`
		Close    float64 `json:"close,string"`
		Volume   float64 `json:"volume,string,omitempty"`
	} `json:"values"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PriceSeries holds one symbol's values aligned to the dataset calendar.
// Missing observations are NaN.
type PriceSeries struct {
	Symbol string
	dates  []time.Time
	values map[Field][]float64
}

// Dates returns the trading calendar shared by the dataset
func (s *PriceSeries) Dates() []time.Time {
	return s.dates
}

// Values returns the column for a field, or nil if the field is unknown
func (s *PriceSeries) Values(field Field) []float64 {
	return s.values[field]
}

// Value returns the field value at index i (NaN when missing or out of range)
func (s *PriceSeries) Value(field Field, i int) float64 {
	col := s.values[field]
	if i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// IndexOf locates the trading index closest to date
func (s *PriceSeries) IndexOf(date time.Time) (int, bool) {
	return nearestIndex(s.dates, date)
}

// Dataset is the two-level lookup symbol -> field -> value-at-date
type Dataset struct {
	dates  []time.Time
	series map[string]*PriceSeries
}

// NewDataset aligns all symbols onto the union of their trading dates
func NewDataset(bars map[string][]Bar) *Dataset {
	seen := make(map[time.Time]struct{})
	for _, list := range bars {
		for _, b := range list {
			seen[truncateDay(b.Date)] = struct{}{}
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	pos := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		pos[d] = i
	}

	ds := &Dataset{dates: dates, series: make(map[string]*PriceSeries, len(bars))}
	for symbol, list := range bars {
		s := &PriceSeries{Symbol: symbol, dates: dates, values: make(map[Field][]float64, 6)}
		for _, f := range []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldAdjClose, FieldVolume} {
			col := make([]float64, len(dates))
			for i := range col {
				col[i] = math.NaN()
			}
			s.values[f] = col
		}
		for _, b := range list {
			i := pos[truncateDay(b.Date)]
			s.values[FieldOpen][i] = b.Open
			s.values[FieldHigh][i] = b.High
			s.values[FieldLow][i] = b.Low
			s.values[FieldClose][i] = b.Close
			s.values[FieldAdjClose][i] = b.AdjClose
			s.values[FieldVolume][i] = b.Volume
		}
		ds.series[symbol] = s
	}
	return ds
}

// Dates returns the sorted trading calendar
func (d *Dataset) Dates() []time.Time {
	return d.dates
}

// Series returns the series for a symbol
func (d *Dataset) Series(symbol string) (*PriceSeries, bool) {
	s, ok := d.series[symbol]
	return s, ok
}

// Symbols returns all symbols in sorted order
func (d *Dataset) Symbols() []string {
	out := make([]string, 0, len(d.series))
	for sym := range d.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// IndexOf locates the trading index closest to date
func (d *Dataset) IndexOf(date time.Time) (int, bool) {
	return nearestIndex(d.dates, date)
}

// LatestOnOrBefore returns the most recent trading date not after date
func (d *Dataset) LatestOnOrBefore(date time.Time) (time.Time, bool) {
	day := truncateDay(date)
	i := sort.Search(len(d.dates), func(i int) bool { return d.dates[i].After(day) })
	if i == 0 {
		return time.Time{}, false
	}
	return d.dates[i-1], true
}

// nearestIndex finds the closest date by binary search; ties go to the earlier date
func nearestIndex(dates []time.Time, date time.Time) (int, bool) {
	if len(dates) == 0 {
		return 0, false
	}
	day := truncateDay(date)
	i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(day) })
	switch {
	case i == 0:
		return 0, true
	case i == len(dates):
		return len(dates) - 1, true
	case dates[i].Equal(day):
		return i, true
	}
	if day.Sub(dates[i-1]) <= dates[i].Sub(day) {
		return i - 1, true
	}
	return i, true
}

// Day normalises t to midnight UTC of its calendar date
func Day(t time.Time) time.Time {
	return truncateDay(t)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
