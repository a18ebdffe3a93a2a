package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Request describes a backtest run
type Request struct {
	Stocks    []string
	StartDate time.Time
	EndDate   time.Time
	Params    model.Params
}

// Engine replays forecasts against recorded outcomes
type Engine struct {
	forecaster *Forecaster
	logger     zerolog.Logger
}

// NewEngine creates a new backtesting engine
func NewEngine(forecaster *Forecaster) *Engine {
	return &Engine{
		forecaster: forecaster,
		logger:     log.With().Str("component", "backtest").Logger(),
	}
}

// Run walks every calendar day in [StartDate, EndDate] for every stock and
// scores the days that have both a forecast and a recorded outcome
func (e *Engine) Run(ctx context.Context, req Request) (*model.BacktestResults, error) {
	if len(req.Stocks) == 0 {
		return nil, errors.New("no stocks to backtest")
	}
	start, end := model.Day(req.StartDate), model.Day(req.EndDate)
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	results := &model.BacktestResults{
		RunID:           uuid.NewString(),
		Stocks:          req.Stocks,
		StartDate:       start,
		EndDate:         end,
		Params:          req.Params,
		StockAccuracy:   make(map[string]float64),
		MonthlyAccuracy: make(map[string]float64),
		DetailedResults: []model.BacktestCase{},
	}

	e.logger.Info().
		Str("run_id", results.RunID).
		Int("stocks", len(req.Stocks)).
		Time("start", start).
		Time("end", end).
		Msg("Starting backtest")

	for _, stock := range req.Stocks {
		tested := 0
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			c, ok := e.evaluate(ctx, stock, d, req.Params)
			if !ok {
				continue
			}
			results.DetailedResults = append(results.DetailedResults, c)
			tested++
		}
		e.logger.Debug().Str("stock", stock).Int("tested", tested).Msg("Stock backtested")
	}

	CalculateMetrics(results)

	e.logger.Info().
		Str("run_id", results.RunID).
		Int("tested", results.TotalTested).
		Float64("accuracy", results.Accuracy).
		Msg("Backtest finished")
	return results, nil
}

func (e *Engine) evaluate(ctx context.Context, stock string, date time.Time, params model.Params) (model.BacktestCase, bool) {
	forecast, err := e.forecaster.Predict(ctx, stock, date, params)
	if err != nil {
		e.logger.Warn().Err(err).Str("stock", stock).Time("date", date).Msg("Prediction failed, skipping day")
		return model.BacktestCase{}, false
	}
	if forecast == nil {
		return model.BacktestCase{}, false
	}

	outcome, err := e.forecaster.ActualOutcome(ctx, stock, date, params)
	if err != nil {
		e.logger.Warn().Err(err).Str("stock", stock).Time("date", date).Msg("Outcome lookup failed, skipping day")
		return model.BacktestCase{}, false
	}
	if outcome == nil {
		return model.BacktestCase{}, false
	}

	return model.BacktestCase{
		Stock:           stock,
		Date:            model.Day(date),
		Predicted:       forecast.Direction,
		Actual:          outcome.Direction,
		Confidence:      forecast.Confidence,
		ExpectedReturn:  forecast.ExpectedReturn,
		ActualReturn:    outcome.ReturnPct,
		SimilarPatterns: forecast.NumSimilarPatterns,
		WasCorrect:      IsCorrect(forecast, outcome),
	}, true
}

// FormatResults formats backtest results as a readable string
func (e *Engine) FormatResults(results *model.BacktestResults) string {
	if results == nil {
		return "No backtest results available"
	}

	var b strings.Builder
	b.WriteString("\n===== BACKTEST RESULTS =====\n")
	fmt.Fprintf(&b, "Run: %s\n", results.RunID)
	fmt.Fprintf(&b, "Period: %s to %s\n",
		results.StartDate.Format("2006-01-02"), results.EndDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Parameters: lookback=%d forward=%d threshold=%s\n",
		results.Params.LookbackDays, results.Params.ForwardDays, results.Params.ThresholdKey())
	fmt.Fprintf(&b, "Stocks: %d\n", len(results.Stocks))
	fmt.Fprintf(&b, "Predictions tested: %d\n", results.TotalTested)

	if results.TotalTested == 0 {
		b.WriteString("No predictions could be scored in this period\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Correct: %d (%.2f%%)\n", results.Correct, results.Accuracy*100)
	fmt.Fprintf(&b, "Precision (up): %.4f\n", results.Precision)
	fmt.Fprintf(&b, "Recall (up): %.4f\n", results.Recall)
	fmt.Fprintf(&b, "F1 score: %.4f\n", results.F1Score)
	fmt.Fprintf(&b, "Mean confidence: %.2f%%\n", results.MeanConfidence)
	fmt.Fprintf(&b, "Max consecutive correct: %d\n", results.MaxConsecutive.Correct)
	fmt.Fprintf(&b, "Max consecutive incorrect: %d\n", results.MaxConsecutive.Incorrect)

	if len(results.StockAccuracy) > 0 {
		b.WriteString("\nAccuracy by stock:\n")
		for _, stock := range sortedKeys(results.StockAccuracy) {
			fmt.Fprintf(&b, "- %s: %.2f%%\n", stock, results.StockAccuracy[stock]*100)
		}
	}

	if len(results.MonthlyAccuracy) > 0 {
		b.WriteString("\nMonthly accuracy:\n")
		for _, month := range sortedKeys(results.MonthlyAccuracy) {
			fmt.Fprintf(&b, "- %s: %.2f%%\n", month, results.MonthlyAccuracy[month]*100)
		}
	}

	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
