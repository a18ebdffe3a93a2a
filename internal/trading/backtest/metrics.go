package backtest

import (
	"sort"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
)

// CalculateMetrics fills the aggregate fields of results from its
// DetailedResults. Precision and recall treat "up" as the positive class;
// any zero denominator yields 0.
func CalculateMetrics(results *model.BacktestResults) {
	if results == nil {
		return
	}

	cases := results.DetailedResults
	sort.SliceStable(cases, func(i, j int) bool {
		if !cases[i].Date.Equal(cases[j].Date) {
			return cases[i].Date.Before(cases[j].Date)
		}
		return cases[i].Stock < cases[j].Stock
	})

	results.TotalTested = len(cases)
	results.Correct = 0
	results.PredictedUp = 0
	results.ActualUp = 0
	results.TruePositiveUp = 0
	results.Accuracy, results.Precision, results.Recall, results.F1Score = 0, 0, 0, 0
	results.MeanConfidence = 0
	results.MaxConsecutive.Correct, results.MaxConsecutive.Incorrect = 0, 0
	results.StockAccuracy = make(map[string]float64)
	results.MonthlyAccuracy = make(map[string]float64)

	if len(cases) == 0 {
		return
	}

	var (
		confidenceSum float64
		streakCorrect int
		streakWrong   int
	)
	perStock := make(map[string]*tally)
	perMonth := make(map[string]*tally)

	for _, c := range cases {
		predictedUp := c.Predicted == model.DirectionUp
		actualUp := c.Actual == model.DirectionUp

		if c.WasCorrect {
			results.Correct++
			streakCorrect++
			streakWrong = 0
		} else {
			streakWrong++
			streakCorrect = 0
		}
		results.MaxConsecutive.Correct = max(results.MaxConsecutive.Correct, streakCorrect)
		results.MaxConsecutive.Incorrect = max(results.MaxConsecutive.Incorrect, streakWrong)

		if predictedUp {
			results.PredictedUp++
		}
		if actualUp {
			results.ActualUp++
		}
		if predictedUp && actualUp {
			results.TruePositiveUp++
		}
		confidenceSum += c.Confidence

		tallyFor(perStock, c.Stock).add(c.WasCorrect)
		tallyFor(perMonth, c.Date.Format("2006-01")).add(c.WasCorrect)
	}

	n := float64(len(cases))
	results.Accuracy = float64(results.Correct) / n
	results.MeanConfidence = confidenceSum / n
	results.Precision = ratio(results.TruePositiveUp, results.PredictedUp)
	results.Recall = ratio(results.TruePositiveUp, results.ActualUp)
	if sum := results.Precision + results.Recall; sum > 0 {
		results.F1Score = 2 * results.Precision * results.Recall / sum
	}

	for stock, t := range perStock {
		results.StockAccuracy[stock] = t.accuracy()
	}
	for month, t := range perMonth {
		results.MonthlyAccuracy[month] = t.accuracy()
	}
}

type tally struct {
	correct int
	total   int
}

func (t *tally) add(correct bool) {
	t.total++
	if correct {
		t.correct++
	}
}

func (t *tally) accuracy() float64 {
	return ratio(t.correct, t.total)
}

func tallyFor(m map[string]*tally, key string) *tally {
	t, ok := m[key]
	if !ok {
		t = &tally{}
		m[key] = t
	}
	return t
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
