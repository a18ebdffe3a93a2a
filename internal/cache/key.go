// Package cache holds the analysis-cache key scheme and a Redis-backed
// implementation of the TTL cache.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
)

// Key addresses one cached analysis
type Key struct {
	Date       time.Time
	Symbol     string
	ParamsHash string
}

// NewKey builds the key for a stock, date and parameter set
func NewKey(date time.Time, symbol string, params model.Params) Key {
	return Key{Date: model.Day(date), Symbol: symbol, ParamsHash: ParamsHash(params)}
}

// String renders the key as "analysis:<date>:<symbol>:<hash>"
func (k Key) String() string {
	return fmt.Sprintf("analysis:%s:%s:%s", k.Date.Format("2006-01-02"), k.Symbol, k.ParamsHash)
}

// NewForecastKey builds the key for a forecast. It also covers the
// forecaster's similarity threshold and history limit.
func NewForecastKey(date time.Time, symbol string, params model.Params, similarityThreshold float64, historyLimit int) Key {
	return Key{
		Date:   model.Day(date),
		Symbol: symbol,
		ParamsHash: hashCanonical(canonicalParams(params, map[string]any{
			"similarity_threshold": model.CanonicalThreshold(similarityThreshold),
			"history_limit":        historyLimit,
		})),
	}
}

// ParamsHash is the MD5 of the canonical JSON form of params
func ParamsHash(p model.Params) string {
	return hashCanonical(canonicalParams(p, nil))
}

func canonicalParams(p model.Params, extra map[string]any) map[string]any {
	windowType := p.WindowType
	if windowType == "" {
		windowType = model.WindowTradingDays
	}
	canonical := map[string]any{
		"lookback_days":         p.LookbackDays,
		"forward_days":          p.ForwardDays,
		"correlation_threshold": model.CanonicalThreshold(p.CorrelationThreshold),
		"window_type":           windowType,
	}
	for k, v := range extra {
		canonical[k] = v
	}
	return canonical
}

func hashCanonical(canonical map[string]any) string {
	// map keys marshal sorted
	data, _ := json.Marshal(canonical)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
