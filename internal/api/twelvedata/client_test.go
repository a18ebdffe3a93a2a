package twelvedata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aaplPayload = `{
	"meta": {"symbol": "AAPL", "interval": "1day"},
	"values": [
		{"datetime": "2024-01-03", "open": "184.2", "high": "185.9", "low": "183.4", "close": "184.25", "volume": "58414500"},
		{"datetime": "2024-01-02", "open": "187.15", "high": "188.44", "low": "183.89", "close": "185.64", "volume": "82488700"}
	],
	"status": "ok"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{
		APIKey:          "test",
		BaseURL:         srv.URL,
		RequestTimeout:  time.Second,
		RequestsPerSec:  100,
		MaxRetries:      1,
		MaxRetryTimeout: time.Second,
		RefreshBars:     30,
	})
}

func TestGetDailyBars(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1day", r.URL.Query().Get("interval"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		_, _ = w.Write([]byte(aaplPayload))
	})

	bars, err := c.GetDailyBars(context.Background(), "AAPL", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 100)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2, bars[0].Date.Day())
	assert.Equal(t, 185.64, bars[0].Close)
	assert.Equal(t, bars[0].Close, bars[0].AdjClose)
	assert.Equal(t, 82488700.0, bars[0].Volume)
}

func TestLoadSeriesSkipsFailedSymbols(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			_, _ = w.Write([]byte(aaplPayload))
		case "BAD":
			_, _ = w.Write([]byte(`{"code": 400, "message": "symbol not found", "status": "error"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	out, err := c.LoadSeries(context.Background(), []string{"AAPL", "BAD", "GONE"}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Contains(t, out, "AAPL")
}

func TestRefreshUsesRecentWindow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "30", r.URL.Query().Get("outputsize"))
		assert.Empty(t, r.URL.Query().Get("start_date"))
		_, _ = w.Write([]byte(aaplPayload))
	})

	out, err := c.Refresh(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Len(t, out["AAPL"], 2)
}
