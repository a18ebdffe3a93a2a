package universe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
	httpClient "github.com/ZyrticX/DELTA-MIX/internal/platform/http"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultWikipediaURL lists the S&P 500 constituents
const DefaultWikipediaURL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"

// WikipediaSource scrapes the constituents table of a Wikipedia index page
type WikipediaSource struct {
	url    string
	client *httpClient.Client
	logger zerolog.Logger
}

// NewWikipediaSource creates a scraper for url
func NewWikipediaSource(url string, timeout time.Duration) *WikipediaSource {
	if url == "" {
		url = DefaultWikipediaURL
	}
	return &WikipediaSource{
		url: url,
		client: httpClient.NewClient(httpClient.ClientOptions{
			Timeout:        timeout,
			RequestsPerSec: 1,
			MaxRetries:     2,
		}),
		logger: log.With().Str("component", "wikipedia_universe").Logger(),
	}
}

// GetStocks downloads and parses the constituents table
func (w *WikipediaSource) GetStocks(ctx context.Context) ([]model.Stock, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; DELTA-MIX universe sync)")

	resp, err := w.client.DoRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	stocks, err := parseConstituents(doc)
	if err != nil {
		return nil, err
	}
	w.logger.Info().Int("stocks", len(stocks)).Msg("Scraped universe")
	return stocks, nil
}

// parseConstituents reads the first table with a symbol/ticker column
func parseConstituents(doc *goquery.Document) ([]model.Stock, error) {
	table := doc.Find("table#constituents").First()
	if table.Length() == 0 {
		table = doc.Find("table.wikitable").First()
	}
	if table.Length() == 0 {
		table = doc.Find("table").First()
	}
	if table.Length() == 0 {
		return nil, fmt.Errorf("no table found")
	}

	symbolCol, nameCol, sectorCol := -1, -1, -1
	table.Find("tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
		h := strings.ToLower(strings.TrimSpace(th.Text()))
		switch {
		case symbolCol < 0 && (strings.Contains(h, "symbol") || strings.Contains(h, "ticker")):
			symbolCol = i
		case nameCol < 0 && (strings.Contains(h, "security") || strings.Contains(h, "company") || strings.Contains(h, "name")):
			nameCol = i
		case sectorCol < 0 && strings.Contains(h, "sector"):
			sectorCol = i
		}
	})
	if symbolCol < 0 {
		return nil, fmt.Errorf("no symbol column found")
	}

	var stocks []model.Stock
	seen := make(map[string]struct{})
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() <= symbolCol {
			return
		}
		symbol := NormalizeSymbol(cells.Eq(symbolCol).Text())
		if symbol == "" {
			return
		}
		if _, dup := seen[symbol]; dup {
			return
		}
		seen[symbol] = struct{}{}

		stock := model.Stock{Symbol: symbol, IsActive: true}
		if nameCol >= 0 && cells.Length() > nameCol {
			stock.CompanyName = strings.TrimSpace(cells.Eq(nameCol).Text())
		}
		if sectorCol >= 0 && cells.Length() > sectorCol {
			stock.Sector = strings.TrimSpace(cells.Eq(sectorCol).Text())
		}
		stocks = append(stocks, stock)
	})

	if len(stocks) == 0 {
		return nil, fmt.Errorf("constituents table is empty")
	}
	return stocks, nil
}
