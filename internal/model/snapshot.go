package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WindowTradingDays is the only window interpretation currently supported
const WindowTradingDays = "trading_days"

// MovementType is the bucketed forward return
type MovementType string

const (
	StrongUp     MovementType = "strong_up"
	ModerateUp   MovementType = "moderate_up"
	Neutral      MovementType = "neutral"
	ModerateDown MovementType = "moderate_down"
	StrongDown   MovementType = "strong_down"
)

// Thresholds are the movement band cut points, in percent.
//
//	r >= StrongUp               strong_up
//	ModerateUp <= r < StrongUp  moderate_up
//	NeutralLower <= r < ModerateUp  neutral
//	StrongDown < r < NeutralLower   moderate_down
//	r <= StrongDown             strong_down
type Thresholds struct {
	StrongUp     float64 `json:"strong_up"`
	ModerateUp   float64 `json:"moderate_up"`
	NeutralLower float64 `json:"neutral_lower"`
	StrongDown   float64 `json:"strong_down"`
}

// DefaultThresholds returns the +/-5% and +/-10% bands
func DefaultThresholds() Thresholds {
	return Thresholds{StrongUp: 10, ModerateUp: 5, NeutralLower: -5, StrongDown: -10}
}

// Valid reports whether the cut points are strictly ordered
func (t Thresholds) Valid() bool {
	return t.StrongDown < t.NeutralLower && t.NeutralLower < t.ModerateUp && t.ModerateUp < t.StrongUp
}

// Params identifies one pre-computation configuration
type Params struct {
	LookbackDays         int     `json:"lookback_days"`
	ForwardDays          int     `json:"forward_days"`
	CorrelationThreshold float64 `json:"correlation_threshold"`
	WindowType           string  `json:"window_type"`
}

// ThresholdKey renders the threshold at the precision it is stored with
func (p Params) ThresholdKey() string {
	return CanonicalThreshold(p.CorrelationThreshold).StringFixed(4)
}

// CanonicalThreshold rounds a threshold to four decimal places
func CanonicalThreshold(th float64) decimal.Decimal {
	return decimal.NewFromFloat(th).Round(4)
}

// MatchedStock is a peer whose correlation met the threshold
type MatchedStock struct {
	Symbol     string   `json:"symbol"`
	PriceCorr  *float64 `json:"price_corr,omitempty"`
	VolumeCorr *float64 `json:"volume_corr,omitempty"`
}

// PriceCorrValue returns the price correlation, or 0 when it was not computable
func (m MatchedStock) PriceCorrValue() float64 {
	if m.PriceCorr == nil {
		return 0
	}
	return *m.PriceCorr
}

// CorrelationSnapshot is the persisted result for one (stock, date, params)
type CorrelationSnapshot struct {
	StockSymbol      string         `json:"stock_symbol"`
	SnapshotDate     time.Time      `json:"snapshot_date"`
	Params           Params         `json:"params"`
	MatchedStocks    []MatchedStock `json:"matched_stocks"`
	NumMatches       int            `json:"num_matches"`
	FutureReturnPct  *float64       `json:"future_return_pct,omitempty"`
	MovementType     MovementType   `json:"movement_type,omitempty"`
	PatternSignature string         `json:"pattern_signature"`
	CreatedAt        time.Time      `json:"created_at"`
}

// SnapshotKey is the natural key of a snapshot row
type SnapshotKey struct {
	StockSymbol  string
	SnapshotDate time.Time
	LookbackDays int
	ForwardDays  int
	Threshold    string
}

// Key returns the upsert key
func (s CorrelationSnapshot) Key() SnapshotKey {
	return SnapshotKey{
		StockSymbol:  s.StockSymbol,
		SnapshotDate: Day(s.SnapshotDate),
		LookbackDays: s.Params.LookbackDays,
		ForwardDays:  s.Params.ForwardDays,
		Threshold:    s.Params.ThresholdKey(),
	}
}

// Stock is a row of the tracked universe
type Stock struct {
	Symbol      string    `json:"symbol"`
	CompanyName string    `json:"company_name"`
	Sector      string    `json:"sector"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}
