package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"golang.org/x/time/rate"
)

const threeCommasBaseURL = "https://api.3commas.io"

// ThreeCommas serves prices from the 3Commas public currency_rate endpoint
// against the coin's USDT pair.
type ThreeCommas struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewThreeCommas(baseURL, apiKey string) *ThreeCommas {
	if baseURL == "" {
		baseURL = threeCommasBaseURL
	}
	return &ThreeCommas{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		// 200ms between requests keeps us clear of their rate limits.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

func (c *ThreeCommas) Name() string { return "3commas" }

func (c *ThreeCommas) GetPrice(ctx context.Context, coin string) (domain.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, err
	}

	pair := url.QueryEscape(coin + "_USDT")
	u := fmt.Sprintf("%s/public/api/ver1/accounts/currency_rate?pair=%s", c.baseURL, pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("3commas price for %s: %w", coin, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Quote{}, fmt.Errorf("3commas price for %s: unexpected status %d", coin, resp.StatusCode)
	}

	var body struct {
		Last string `json:"last"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Quote{}, fmt.Errorf("3commas price for %s: %w", coin, err)
	}
	price, err := strconv.ParseFloat(body.Last, 64)
	if err != nil || price <= 0 {
		return domain.Quote{}, fmt.Errorf("3commas returned invalid last price %q for %s", body.Last, coin)
	}
	return domain.Quote{Coin: coin, Price: price, Source: c.Name(), Time: time.Now().UTC()}, nil
}
