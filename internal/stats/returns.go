package stats

import (
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
)

// ForwardReturn is the percentage change of field from the trading date
// nearest anchor to forward trading rows later.
func ForwardReturn(s *model.PriceSeries, anchor time.Time, forward int, field model.Field) (float64, bool) {
	if s == nil || forward < 1 {
		return 0, false
	}

	idx, ok := s.IndexOf(anchor)
	if !ok {
		return 0, false
	}

	end := idx + forward
	if end >= len(s.Dates()) {
		return 0, false
	}

	start, last := s.Value(field, idx), s.Value(field, end)
	if !finite(start) || !finite(last) || start == 0 {
		return 0, false
	}

	return (last - start) / start * 100, true
}

// ClassifyMovement buckets a percentage return into one of five bands.
// The bands partition the real line for any valid Thresholds.
func ClassifyMovement(returnPct float64, t model.Thresholds) model.MovementType {
	switch {
	case returnPct >= t.StrongUp:
		return model.StrongUp
	case returnPct >= t.ModerateUp:
		return model.ModerateUp
	case returnPct >= t.NeutralLower:
		return model.Neutral
	case returnPct > t.StrongDown:
		return model.ModerateDown
	default:
		return model.StrongDown
	}
}
