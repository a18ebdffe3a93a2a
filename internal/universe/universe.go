// Package universe supplies the list of tracked stocks.
package universe

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source yields the current stock universe
type Source interface {
	GetStocks(ctx context.Context) ([]model.Stock, error)
}

// GetSymbols returns the symbols of src in the order it reports them
func GetSymbols(ctx context.Context, src Source) ([]string, error) {
	stocks, err := src.GetStocks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(stocks))
	for _, s := range stocks {
		out = append(out, s.Symbol)
	}
	return out, nil
}

// NormalizeSymbol maps share-class dots to dashes (BRK.B -> BRK-B)
func NormalizeSymbol(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), ".", "-")
}

// StaticSource serves a fixed list
type StaticSource struct {
	Stocks []model.Stock
}

// NewStaticSource builds an active universe from bare symbols
func NewStaticSource(symbols ...string) *StaticSource {
	stocks := make([]model.Stock, 0, len(symbols))
	for _, s := range symbols {
		stocks = append(stocks, model.Stock{Symbol: NormalizeSymbol(s), IsActive: true})
	}
	return &StaticSource{Stocks: stocks}
}

// GetStocks returns the fixed list
func (s *StaticSource) GetStocks(context.Context) ([]model.Stock, error) {
	if len(s.Stocks) == 0 {
		return nil, fmt.Errorf("static universe is empty")
	}
	out := make([]model.Stock, len(s.Stocks))
	copy(out, s.Stocks)
	return out, nil
}

// DefaultSP500 is a liquid large-cap subset used when scraping fails
func DefaultSP500() *StaticSource {
	return NewStaticSource(
		"AAPL", "MSFT", "GOOGL", "AMZN", "META", "TSLA", "NVDA", "JPM", "V", "JNJ",
		"WMT", "PG", "MA", "HD", "BAC", "DIS", "ADBE", "NFLX", "CRM", "CSCO",
		"PEP", "KO", "INTC", "AMD", "PYPL", "NKE", "MRK", "TMO", "ABBV", "ABT",
		"COST", "ACN", "AVGO", "TXN", "DHR", "LLY", "UNP", "NEE", "PM", "BMY",
		"UPS", "LOW", "QCOM", "HON", "ORCL", "IBM", "AMGN", "GE", "MDT", "CAT",
		"BA", "MMM", "GS", "AXP",
	)
}

// FallbackSource tries Primary and falls back when it fails or is empty
type FallbackSource struct {
	Primary  Source
	Fallback Source
	logger   zerolog.Logger
}

// NewFallbackSource chains two sources
func NewFallbackSource(primary, fallback Source) *FallbackSource {
	return &FallbackSource{
		Primary:  primary,
		Fallback: fallback,
		logger:   log.With().Str("component", "universe").Logger(),
	}
}

// GetStocks returns the primary list or, failing that, the fallback list
func (f *FallbackSource) GetStocks(ctx context.Context) ([]model.Stock, error) {
	stocks, err := f.Primary.GetStocks(ctx)
	if err == nil && len(stocks) > 0 {
		return stocks, nil
	}
	f.logger.Warn().Err(err).Msg("Primary universe source unavailable, using fallback list")
	return f.Fallback.GetStocks(ctx)
}
