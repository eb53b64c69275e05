package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

const ThreeCommasBaseURL = "https://api.3commas.io"

// ThreeCommasAdapter talks to the 3Commas account and smart-trade API. It
// implements both the balance lookup the engine reads and the swap
// execution boundary it calls.
type ThreeCommasAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
}

func NewThreeCommasAdapter(apiKey, apiSecret, baseURL string) *ThreeCommasAdapter {
	if baseURL == "" {
		baseURL = ThreeCommasBaseURL
	}
	return &ThreeCommasAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// sign computes the HMAC-SHA256 of the request path+body, which 3Commas
// expects in the Signature header.
func (a *ThreeCommasAdapter) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(a.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *ThreeCommasAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Apikey", a.apiKey)
	req.Header.Set("Signature", a.sign(path+string(body)))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, classifyHTTPError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// classifyHTTPError maps API failures onto the engine's execution failure
// taxonomy so callers never have to parse response text.
func classifyHTTPError(status int, body []byte) error {
	msg := strings.ToLower(string(body))
	kind := domain.FailureUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = domain.FailureAuth
	case status == http.StatusTooManyRequests:
		kind = domain.FailureRateLimited
	case strings.Contains(msg, "insufficient"):
		kind = domain.FailureInsufficientFunds
	}
	return &domain.ExecutionError{Kind: kind, Err: fmt.Errorf("status %d: %s", status, string(body))}
}

// ListCoins returns the holdings of one exchange account.
func (a *ThreeCommasAdapter) ListCoins(ctx context.Context, accountID string) ([]domain.CoinBalance, error) {
	path := fmt.Sprintf("/public/api/ver1/accounts/%s/account_table_data", accountID)
	body, err := a.sendRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list coins for account %s: %w", accountID, err)
	}

	var rows []struct {
		CurrencyCode string  `json:"currency_code"`
		Equity       float64 `json:"equity"`
		UsdValue     float64 `json:"usd_value"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode account table: %w", err)
	}

	balances := make([]domain.CoinBalance, 0, len(rows))
	for _, row := range rows {
		if row.Equity <= 0 {
			continue
		}
		balances = append(balances, domain.CoinBalance{
			Coin:        row.CurrencyCode,
			Amount:      row.Equity,
			AmountInUSD: row.UsdValue,
		})
	}
	return balances, nil
}

// Execute places an instant market smart trade selling fromCoin into
// toCoin and waits for it to fill. amount <= 0 sells the full holding.
func (a *ThreeCommasAdapter) Execute(ctx context.Context, accountID, fromCoin, toCoin string, amount float64) (*domain.SwapResult, error) {
	units := map[string]interface{}{"value": "max"}
	if amount > 0 {
		units["value"] = strconv.FormatFloat(amount, 'f', -1, 64)
	}
	payload := map[string]interface{}{
		"account_id": accountID,
		"pair":       fromCoin + "_" + toCoin,
		"instant":    true,
		"skip_enter_step": true,
		"position": map[string]interface{}{
			"type":       "sell",
			"order_type": "market",
			"units":      units,
		},
		"take_profit": map[string]interface{}{"enabled": false},
		"stop_loss":   map[string]interface{}{"enabled": false},
		"note":        fmt.Sprintf("rebalance %s -> %s", fromCoin, toCoin),
	}

	body, err := a.sendRequest(ctx, http.MethodPost, "/public/api/ver2/smart_trades", payload)
	if err != nil {
		return nil, err
	}

	var created struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, &domain.ExecutionError{Kind: domain.FailureUnknown, Err: fmt.Errorf("decode smart trade response: %w", err)}
	}
	tradeID := created.ID.String()
	if tradeID == "" {
		return nil, &domain.ExecutionError{Kind: domain.FailureUnknown, Err: fmt.Errorf("smart trade created without id")}
	}

	return a.waitForFill(ctx, tradeID)
}

// waitForFill polls the smart trade until it finishes or the context
// expires. The poll interval mirrors the API's own update cadence.
func (a *ThreeCommasAdapter) waitForFill(ctx context.Context, tradeID string) (*domain.SwapResult, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, &domain.ExecutionError{Kind: domain.FailureUnknown, Err: ctx.Err()}
		case <-ticker.C:
		}

		body, err := a.sendRequest(ctx, http.MethodGet, "/public/api/ver2/smart_trades/"+tradeID, nil)
		if err != nil {
			return nil, err
		}

		var st struct {
			Status struct {
				Type string `json:"type"`
			} `json:"status"`
			Position struct {
				Units struct {
					Value string `json:"value"`
				} `json:"units"`
				Total struct {
					Value string `json:"value"`
				} `json:"total"`
			} `json:"position"`
			Profit struct {
				Volume string `json:"volume"`
			} `json:"profit"`
		}
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, &domain.ExecutionError{Kind: domain.FailureUnknown, Err: fmt.Errorf("decode smart trade status: %w", err)}
		}

		switch st.Status.Type {
		case "finished":
			fromAmount, _ := strconv.ParseFloat(st.Position.Units.Value, 64)
			toAmount, _ := strconv.ParseFloat(st.Position.Total.Value, 64)
			return &domain.SwapResult{
				TradeID:    tradeID,
				FromAmount: fromAmount,
				ToAmount:   toAmount,
			}, nil
		case "failed", "cancelled":
			return nil, &domain.ExecutionError{
				Kind: domain.FailureUnknown,
				Err:  fmt.Errorf("smart trade %s ended as %s", tradeID, st.Status.Type),
			}
		}
	}
}
