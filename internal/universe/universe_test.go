package universe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const constituentsHTML = `<html><body>
<table class="wikitable sortable" id="constituents">
<tbody>
<tr><th>Symbol</th><th>Security</th><th>GICS Sector</th><th>Headquarters</th></tr>
<tr><td><a href="#">MMM</a></td><td>3M</td><td>Industrials</td><td>Saint Paul</td></tr>
<tr><td>BRK.B</td><td>Berkshire Hathaway</td><td>Financials</td><td>Omaha</td></tr>
<tr><td>MMM</td><td>3M duplicate</td><td>Industrials</td><td>Saint Paul</td></tr>
</tbody>
</table>
<table class="wikitable"><tr><th>Date</th></tr><tr><td>2024-01-01</td></tr></table>
</body></html>`

func TestWikipediaSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(constituentsHTML))
	}))
	defer srv.Close()

	stocks, err := NewWikipediaSource(srv.URL, time.Second).GetStocks(context.Background())
	require.NoError(t, err)
	require.Len(t, stocks, 2)
	assert.Equal(t, model.Stock{Symbol: "MMM", CompanyName: "3M", Sector: "Industrials", IsActive: true}, stocks[0])
	assert.Equal(t, "BRK-B", stocks[1].Symbol)

	symbols, err := GetSymbols(context.Background(), NewWikipediaSource(srv.URL, time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"MMM", "BRK-B"}, symbols)
}

type failingSource struct{}

func (failingSource) GetStocks(context.Context) ([]model.Stock, error) {
	return nil, errors.New("blocked")
}

func TestFallbackSource(t *testing.T) {
	src := NewFallbackSource(failingSource{}, NewStaticSource("aapl", "brk.b"))
	symbols, err := GetSymbols(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "BRK-B"}, symbols)

	primary := NewFallbackSource(NewStaticSource("MSFT"), DefaultSP500())
	symbols, err = GetSymbols(context.Background(), primary)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, symbols)
}

func TestDefaultSP500(t *testing.T) {
	stocks, err := DefaultSP500().GetStocks(context.Background())
	require.NoError(t, err)
	assert.Len(t, stocks, 54)
}
