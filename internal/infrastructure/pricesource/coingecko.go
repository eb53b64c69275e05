package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"golang.org/x/time/rate"
)

const (
	coinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	// CoinGecko's public tier allows roughly one call every 1.5s.
	coinGeckoRate = 1.5
)

// CoinGecko serves prices from the CoinGecko public API. Symbols are
// resolved to CoinGecko ids through a cache pre-populated with the majors,
// so the common case never hits the /coins/list endpoint.
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter

	mu      sync.RWMutex
	idCache map[string]string
}

func NewCoinGecko(baseURL, apiKey string) *CoinGecko {
	if baseURL == "" {
		baseURL = coinGeckoBaseURL
	}
	return &CoinGecko{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Duration(coinGeckoRate*float64(time.Second))), 1),
		idCache: map[string]string{
			"BTC":  "bitcoin",
			"ETH":  "ethereum",
			"USDT": "tether",
			"USDC": "usd-coin",
			"BNB":  "binancecoin",
			"XRP":  "ripple",
			"ADA":  "cardano",
			"SOL":  "solana",
			"DOGE": "dogecoin",
			"DOT":  "polkadot",
		},
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

func (c *CoinGecko) GetPrice(ctx context.Context, coin string) (domain.Quote, error) {
	id, err := c.coinID(ctx, coin)
	if err != nil {
		return domain.Quote{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, err
	}

	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(id))
	var body map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := c.getJSON(ctx, u, &body); err != nil {
		return domain.Quote{}, fmt.Errorf("coingecko price for %s: %w", coin, err)
	}
	entry, ok := body[id]
	if !ok || entry.USD <= 0 {
		return domain.Quote{}, fmt.Errorf("coingecko returned no usd price for %s (%s)", coin, id)
	}
	return domain.Quote{Coin: coin, Price: entry.USD, Source: c.Name(), Time: time.Now().UTC()}, nil
}

// coinID maps a ticker symbol to a CoinGecko id, consulting /coins/list on
// a cache miss and preferring entries whose id echoes the symbol.
func (c *CoinGecko) coinID(ctx context.Context, symbol string) (string, error) {
	symbol = strings.ToUpper(symbol)
	c.mu.RLock()
	id, ok := c.idCache[symbol]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	var list []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/coins/list", &list); err != nil {
		return "", fmt.Errorf("coingecko coin list: %w", err)
	}

	var first string
	for _, entry := range list {
		if !strings.EqualFold(entry.Symbol, symbol) {
			continue
		}
		if first == "" {
			first = entry.ID
		}
		if strings.EqualFold(entry.Name, symbol) || strings.Contains(strings.ToUpper(entry.ID), symbol) {
			first = entry.ID
			break
		}
	}
	if first == "" {
		return "", fmt.Errorf("no coingecko id for symbol %s", symbol)
	}

	c.mu.Lock()
	c.idCache[symbol] = first
	c.mu.Unlock()
	return first, nil
}

func (c *CoinGecko) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
