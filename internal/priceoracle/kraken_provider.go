// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package priceoracle

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/logging"
	"kryptosteuer/internal/money"
)

// krakenPairOverrides maps a canonical asset to its Kraken EUR trading pair
// where the naive "<ASSET>EUR" construction is wrong (Kraken quotes BTC and
// ETH as XXBTZEUR / XETHZEUR internally, exposed under the REST API as
// XBTEUR / ETHEUR).
var krakenPairOverrides = map[asset.ID]string{
	"BTC": "XBTEUR",
	"ETH": "ETHEUR",
}

// KrakenOHLCProvider fetches daily OHLC closes from Kraken's public market
// data endpoint. Requests go through go-resty/resty, retried with an
// exponential backoff policy, bounded by the provider's timeout.
type KrakenOHLCProvider struct {
	client  *resty.Client
	log     logging.Logger
	timeout time.Duration
}

// NewKrakenOHLCProvider builds a provider against Kraken's public API.
// baseURL is overridable for tests (point it at an httptest.Server).
func NewKrakenOHLCProvider(baseURL string, log logging.Logger) *KrakenOHLCProvider {
	client := resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second)
	return &KrakenOHLCProvider{client: client, log: log, timeout: 30 * time.Second}
}

func (p *KrakenOHLCProvider) Name() string { return "kraken-ohlc" }

// SupportsWindow is unbounded: Kraken retains full OHLC history for its
// listed pairs, unlike CoinGecko's free-tier window.
func (p *KrakenOHLCProvider) SupportsWindow(ts time.Time) bool { return true }

type krakenOHLCResponse struct {
	Error  []string                   `json:"error"`
	Result map[string][][]interface{} `json:"result"`
}

// Fetch retrieves the daily candle covering ts and returns its closing
// price, retrying transient failures with exponential backoff, at most 3
// retries; each request is bounded by the client's 30s timeout.
func (p *KrakenOHLCProvider) Fetch(ctx context.Context, id asset.ID, ts time.Time) (money.Money, error) {
	pair, ok := krakenPairOverrides[id]
	if !ok {
		pair = string(id) + "EUR"
	}

	dayStart := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)

	var result money.Money
	operation := func() error {
		start := time.Now()
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"pair":     pair,
				"interval": "1440", // 1440 minutes = 1 day
				"since":    fmt.Sprintf("%d", dayStart.Unix()),
			}).
			SetResult(&krakenOHLCResponse{}).
			Get("/0/public/OHLC")
		duration := time.Since(start)
		if err != nil {
			p.log.APICall("Kraken", "/0/public/OHLC", "GET", false, 0, duration, err.Error())
			return err
		}
		p.log.APICall("Kraken", "/0/public/OHLC", "GET", true, resp.StatusCode(), duration, "")

		parsed, ok := resp.Result().(*krakenOHLCResponse)
		if !ok || len(parsed.Error) > 0 {
			return backoff.Permanent(fmt.Errorf("kraken ohlc: %v", parsed))
		}
		for _, candles := range parsed.Result {
			for _, candle := range candles {
				closePrice, perr := parseOHLCClose(candle)
				if perr != nil {
					continue
				}
				result = closePrice
				return nil
			}
		}
		return backoff.Permanent(fmt.Errorf("kraken ohlc: no candle for pair %s", pair))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return money.Zero, fmt.Errorf("priceoracle: kraken fetch %s at %s: %w", id, ts, err)
	}
	return result, nil
}

func parseOHLCClose(candle []interface{}) (money.Money, error) {
	if len(candle) < 5 {
		return money.Zero, fmt.Errorf("malformed candle")
	}
	closeStr, ok := candle[4].(string)
	if !ok {
		return money.Zero, fmt.Errorf("malformed close field")
	}
	return money.Parse(closeStr)
}
