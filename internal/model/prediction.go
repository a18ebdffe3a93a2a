package model

import "time"

// Direction is the sign of a forecast or realised return
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// DirectionOf maps a return to its sign; zero is neutral
func DirectionOf(returnPct float64) Direction {
	switch {
	case returnPct > 0:
		return DirectionUp
	case returnPct < 0:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

// Forecast is the outcome of predicting one stock on one date
type Forecast struct {
	Stock                string    `json:"stock"`
	Date                 time.Time `json:"date"`
	Direction            Direction `json:"direction"`
	Confidence           float64   `json:"confidence"`
	ExpectedReturn       float64   `json:"expected_return"`
	NumSimilarPatterns   int       `json:"num_similar_patterns"`
	UpCount              int       `json:"up_count"`
	DownCount            int       `json:"down_count"`
	CurrentMatches       int       `json:"current_matches"`
	CurrentSignature     string    `json:"current_signature"`
	MostSimilarDate      time.Time `json:"most_similar_date"`
	MostSimilarScore     float64   `json:"most_similar_score"`
	HistoricalCandidates int       `json:"historical_candidates"`
}

// Outcome is the realised move recorded on a snapshot
type Outcome struct {
	Direction    Direction    `json:"direction"`
	ReturnPct    float64      `json:"return_pct"`
	MovementType MovementType `json:"movement_type"`
}
