package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/groupfolio/paper-engine/internal/metrics"
	"github.com/groupfolio/paper-engine/internal/model"
)

// Client is an Oracle backed by a Yahoo-compatible chart API
// (GET {base}/v8/finance/chart/{symbol}). Every request is bounded by the
// configured timeout; a timeout surfaces as ErrSymbolNotFound so the caller
// treats the symbol as unavailable rather than retrying.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an HTTP quote client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				ShortName          string  `json:"shortName"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) Lookup(ctx context.Context, symbol string) (*model.Quote, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", c.baseURL, url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection failures mean "unavailable this request".
		metrics.OracleLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrSymbolNotFound, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		metrics.OracleLookups.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.OracleLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("oracle: lookup %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.OracleLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("oracle: decode quote %s: %w", symbol, err)
	}
	if body.Chart.Error != nil || len(body.Chart.Result) == 0 {
		metrics.OracleLookups.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	meta := body.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		metrics.OracleLookups.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	metrics.OracleLookups.WithLabelValues("ok").Inc()

	price := decimal.NewFromFloat(meta.RegularMarketPrice).Round(2)
	change := decimal.Zero
	changePct := decimal.Zero
	if meta.PreviousClose > 0 {
		prev := decimal.NewFromFloat(meta.PreviousClose)
		change = price.Sub(prev).Round(2)
		changePct = change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}

	currency := meta.Currency
	if currency == "" {
		currency = "USD"
	}

	return &model.Quote{
		Symbol:           symbol,
		Name:             meta.ShortName,
		Price:            price,
		Currency:         currency,
		DayChange:        change,
		DayChangePercent: changePct,
	}, nil
}

var _ Oracle = (*Client)(nil)
