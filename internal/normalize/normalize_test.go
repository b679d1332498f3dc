// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kryptosteuer/internal/diagnostics"
	"kryptosteuer/internal/eventsource"
	"kryptosteuer/internal/logging"
	"kryptosteuer/internal/taxrules"
	"kryptosteuer/internal/txmodel"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNormalizeBuyFromAmountSign(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "B1", "time": "2023-01-10", "type": "buy", "asset": "BTC", "amount": "1", "price": "20000"},
	}
	txs, diags := n.Normalize(events)
	require.Empty(t, diags)
	require.Len(t, txs, 1)
	assert.Equal(t, txmodel.KindBuy, txs[0].Kind)
	assert.Equal(t, "BTC", string(txs[0].Asset))
}

func TestNormalizeSellFromNegativeAmount(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "S1", "time": "2023-06-10", "type": "sell", "asset": "BTC", "amount": "-1", "price": "21000"},
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 1)
	assert.Equal(t, txmodel.KindSell, txs[0].Kind)
}

func TestNormalizeMissingRequiredFieldSkipsWithDiagnostic(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"asset": "BTC", "amount": "1"}, // no ref_id, no time
	}
	txs, diags := n.Normalize(events)
	assert.Empty(t, txs)
	require.Len(t, diags, 1)
	assert.Equal(t, diagnostics.MalformedEvent, diags[0].Kind)
}

func TestNormalizePairSplitSlashForm(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "B1", "time": "2023-01-10", "type": "buy", "pair": "ETH/EUR", "amount": "2", "price": "1500"},
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 1)
	assert.Equal(t, "ETH", string(txs[0].Asset))
	require.NotNil(t, txs[0].QuoteAsset)
	assert.Equal(t, "EUR", string(*txs[0].QuoteAsset))
}

func TestNormalizePairSplitConcatenatedHistoricalForm(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "B1", "time": "2023-01-10", "type": "buy", "pair": "XBTEUR", "amount": "1", "price": "20000"},
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 1)
	assert.Equal(t, "BTC", string(txs[0].Asset))
	require.NotNil(t, txs[0].QuoteAsset)
	assert.Equal(t, "EUR", string(*txs[0].QuoteAsset))
}

func TestNormalizeCryptoCryptoTradePairing(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "T1", "time": "2023-04-01T12:00:00Z", "type": "trade", "asset": "BTC", "amount": "-0.1"},
		{"ref_id": "T1", "time": "2023-04-01T12:00:30Z", "type": "trade", "asset": "ETH", "amount": "2"},
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, txmodel.KindCryptoCryptoTrade, tx.Kind)
	assert.Equal(t, "BTC", string(tx.Asset))
	assert.True(t, tx.Amount.IsNegative())
	require.NotNil(t, tx.Received)
	assert.Equal(t, "ETH", string(tx.Received.Asset))
	assert.Equal(t, "2", tx.Received.Amount.String())
}

func TestNormalizeCryptoCryptoTradeOutsideWindowStaysSeparate(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "T1", "time": "2023-04-01T12:00:00Z", "type": "trade", "asset": "BTC", "amount": "-0.1"},
		{"ref_id": "T1", "time": "2023-04-01T12:10:00Z", "type": "trade", "asset": "ETH", "amount": "2"}, // 10 min later, outside 120s window
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.NotEqual(t, txmodel.KindCryptoCryptoTrade, tx.Kind)
	}
}

func TestNormalizeRewardSubtyping(t *testing.T) {
	tests := []struct {
		rawType string
		want    taxrules.RewardSubtype
	}{
		{"staking", taxrules.RewardStaking},
		{"reward lending payout", taxrules.RewardLending},
		{"mining reward", taxrules.RewardMining},
		{"airdrop", taxrules.RewardAirdrop},
		{"fork", taxrules.RewardFork},
		{"bonus", taxrules.RewardUnknown},
	}
	for _, tt := range tests {
		n := New(logging.Discard())
		events := []eventsource.RawEvent{
			{"ref_id": "R1", "time": "2023-01-10", "type": tt.rawType, "asset": "ETH", "amount": "0.5"},
		}
		txs, _ := n.Normalize(events)
		require.Len(t, txs, 1, "type=%s", tt.rawType)
		assert.Equal(t, txmodel.KindReward, txs[0].Kind, "type=%s", tt.rawType)
		assert.Equal(t, tt.want, txs[0].RewardKind, "type=%s", tt.rawType)
	}
}

func TestNormalizeAmbiguousRewardSubtypeWarns(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "R1", "time": "2023-01-10", "type": "bonus", "asset": "ETH", "amount": "0.5"},
	}
	_, diags := n.Normalize(events)
	require.Len(t, diags, 1)
	assert.Equal(t, diagnostics.AmbiguousClassification, diags[0].Kind)
}

func TestNormalizeFiatDepositIsInternalTransfer(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "D1", "time": "2023-01-10", "type": "deposit", "asset": "EUR", "amount": "1000"},
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 1)
	assert.Equal(t, txmodel.KindInternalTransfer, txs[0].Kind)
}

func TestNormalizeFutureTimestampClamped(t *testing.T) {
	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	n := New(logging.Discard()).WithClock(fixedClock(now))
	future := now.Add(2 * time.Hour).Format("2006-01-02T15:04:05Z")
	events := []eventsource.RawEvent{
		{"ref_id": "B1", "time": future, "type": "buy", "asset": "BTC", "amount": "1", "price": "20000"},
	}
	txs, diags := n.Normalize(events)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].TS.Equal(now))
	require.Len(t, diags, 1)
	assert.Equal(t, diagnostics.FutureTimestamp, diags[0].Kind)
}

func TestNormalizeDepositKind(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "D1", "time": "2023-01-10", "type": "deposit", "asset": "BTC", "amount": "1"},
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 1)
	assert.Equal(t, txmodel.KindDeposit, txs[0].Kind)
}

func TestNormalizeWithdrawalKind(t *testing.T) {
	n := New(logging.Discard())
	events := []eventsource.RawEvent{
		{"ref_id": "W1", "time": "2023-01-10", "type": "withdrawal", "asset": "BTC", "amount": "-1"},
	}
	txs, _ := n.Normalize(events)
	require.Len(t, txs, 1)
	assert.Equal(t, txmodel.KindWithdrawal, txs[0].Kind)
}

func TestNormalizeFeeAssetDefaults(t *testing.T) {
	tests := []struct {
		name  string
		event eventsource.RawEvent
		want  string
	}{
		{
			"explicit fee_asset wins",
			eventsource.RawEvent{"ref_id": "F1", "time": "2023-01-10", "type": "sell", "asset": "BTC", "amount": "-1", "price": "20000", "fee": "10", "fee_asset": "USD"},
			"USD",
		},
		{
			"quote currency when a pair is present",
			eventsource.RawEvent{"ref_id": "F2", "time": "2023-01-10", "type": "sell", "pair": "BTC/EUR", "amount": "-1", "price": "20000", "fee": "10"},
			"EUR",
		},
		{
			"EUR for a priced trade without a pair",
			eventsource.RawEvent{"ref_id": "F3", "time": "2023-01-10", "type": "sell", "asset": "BTC", "amount": "-1", "price": "20000", "fee": "10"},
			"EUR",
		},
		{
			"the row's own asset for a bare ledger row",
			eventsource.RawEvent{"ref_id": "F4", "time": "2023-01-10", "type": "withdrawal", "asset": "BTC", "amount": "-1", "fee": "0.0001"},
			"BTC",
		},
	}
	for _, tt := range tests {
		n := New(logging.Discard())
		txs, _ := n.Normalize([]eventsource.RawEvent{tt.event})
		require.Len(t, txs, 1, tt.name)
		assert.Equal(t, tt.want, string(txs[0].FeeAsset), tt.name)
	}
}
