package model

import "time"

// BacktestCase is one scored (stock, date) prediction
type BacktestCase struct {
	Stock           string    `json:"stock"`
	Date            time.Time `json:"date"`
	Predicted       Direction `json:"predicted"`
	Actual          Direction `json:"actual"`
	Confidence      float64   `json:"confidence"`
	ExpectedReturn  float64   `json:"expected_return"`
	ActualReturn    float64   `json:"actual_return"`
	SimilarPatterns int       `json:"similar_patterns"`
	WasCorrect      bool      `json:"was_correct"`
}

// BacktestResults stores backtesting results
type BacktestResults struct {
	RunID          string    `json:"run_id"`
	Stocks         []string  `json:"stocks"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Params         Params    `json:"params"`
	TotalTested    int       `json:"total_tested"`
	Correct        int       `json:"correct"`
	PredictedUp    int       `json:"predicted_up"`
	ActualUp       int       `json:"actual_up"`
	TruePositiveUp int       `json:"true_positive_up"`
	Accuracy       float64   `json:"accuracy"`
	Precision      float64   `json:"precision"`
	Recall         float64   `json:"recall"`
	F1Score        float64   `json:"f1_score"`
	MeanConfidence float64   `json:"mean_confidence"`
	MaxConsecutive struct {
		Correct   int `json:"correct"`
		Incorrect int `json:"incorrect"`
	} `json:"max_consecutive"`
	StockAccuracy   map[string]float64 `json:"stock_accuracy"`
	MonthlyAccuracy map[string]float64 `json:"monthly_accuracy"`
	DetailedResults []BacktestCase     `json:"detailed_results"`
}
