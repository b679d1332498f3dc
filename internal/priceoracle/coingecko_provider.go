// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package priceoracle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/logging"
	"kryptosteuer/internal/money"
)

// coinGeckoIDs maps a canonical asset to its CoinGecko coin id. Only
// canonical tickers appear here; internal/asset normalizes historical
// spellings before this provider ever sees them.
var coinGeckoIDs = map[asset.ID]string{
	"BTC": "bitcoin", "ETH": "ethereum", "DOGE": "dogecoin", "ADA": "cardano",
	"DOT": "polkadot", "SOL": "solana", "MATIC": "polygon", "LTC": "litecoin",
	"XRP": "ripple", "XTZ": "tezos", "XLM": "stellar", "ATOM": "cosmos",
	"LINK": "chainlink", "UNI": "uniswap", "AAVE": "aave", "AVAX": "avalanche-2",
	"FTM": "fantom", "ALGO": "algorand", "NEAR": "near", "FIL": "filecoin",
	"USDT": "tether", "USDC": "usd-coin", "DAI": "dai",
}

// coinGeckoFreeWindow is the historical window CoinGecko's free-tier
// /coins/{id}/history endpoint serves.
const coinGeckoFreeWindow = 365 * 24 * time.Hour

// CoinGeckoProvider fetches a historical daily price from CoinGecko. It
// declares a bounded SupportsWindow matching the free API tier, so the
// oracle skips it entirely for older dates rather than calling it and
// discarding a guaranteed 0-day-range rejection.
type CoinGeckoProvider struct {
	client *resty.Client
	log    logging.Logger
	now    func() time.Time
}

// NewCoinGeckoProvider builds a provider against CoinGecko's public API.
func NewCoinGeckoProvider(baseURL string, log logging.Logger) *CoinGeckoProvider {
	client := resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second)
	return &CoinGeckoProvider{client: client, log: log, now: time.Now}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

func (p *CoinGeckoProvider) SupportsWindow(ts time.Time) bool {
	return p.now().Sub(ts) <= coinGeckoFreeWindow
}

type coinGeckoHistoryResponse struct {
	MarketData struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

func (p *CoinGeckoProvider) Fetch(ctx context.Context, id asset.ID, ts time.Time) (money.Money, error) {
	cgID, ok := coinGeckoIDs[id]
	if !ok {
		return money.Zero, fmt.Errorf("priceoracle: no coingecko id for %s", id)
	}
	dateStr := ts.UTC().Format("02-01-2006")

	start := time.Now()
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"date": dateStr, "localization": "false"}).
		SetResult(&coinGeckoHistoryResponse{}).
		Get(fmt.Sprintf("/api/v3/coins/%s/history", cgID))
	duration := time.Since(start)
	if err != nil {
		p.log.APICall("CoinGecko", "/coins/history", "GET", false, 0, duration, err.Error())
		return money.Zero, err
	}
	p.log.APICall("CoinGecko", "/coins/history", "GET", true, resp.StatusCode(), duration, "")

	parsed, ok := resp.Result().(*coinGeckoHistoryResponse)
	if !ok {
		return money.Zero, fmt.Errorf("priceoracle: malformed coingecko response")
	}
	eur, ok := parsed.MarketData.CurrentPrice["eur"]
	if !ok {
		return money.Zero, fmt.Errorf("priceoracle: coingecko has no eur price for %s on %s", id, dateStr)
	}
	return money.Parse(fmt.Sprintf("%f", eur))
}
