package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hodler/internal/oracle"
	"hodler/internal/state"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixture(t *testing.T) state.Snapshot {
	t.Helper()
	reg := oracle.NewRegistry()
	reg.Set("binance", d("100"), d("100"), time.Time{})
	reg.Set("bitkub", d("1000"), d("1000"), time.Time{})
	agg := oracle.NewAggregator(reg)

	for _, tk := range []oracle.MarketTick{
		{Exchange: "binance", Symbol: "ethusdt", SymbolKey: "eth", Ask: d("2"), Bid: d("1.9"), Volume: d("10"), PercentChange: d("2")},
		{Exchange: "bitkub", Symbol: "market.ticker.thb_eth", SymbolKey: "eth", Ask: d("23"), Bid: d("22"), Volume: d("5"), PercentChange: d("4")},
		{Exchange: "binance", Symbol: "dotusdt", SymbolKey: "dot", Ask: d("1"), Bid: d("1"), Volume: d("100"), PercentChange: d("-1")},
	} {
		_, err := agg.Update(tk)
		require.NoError(t, err)
	}
	return state.Snapshot{Bases: reg.All(), Entries: agg.Snapshot()}
}

func opts() Options {
	return Options{
		BaseSymbol: "btc",
		SortBy:     SortVolume,
		Quotes:     map[string]Quote{"bitkub": {Code: "THB", Symbol: "฿"}},
		Icons:      map[string]string{"eth": "1027"},
	}
}

func TestBasesNeverNull(t *testing.T) {
	b, err := json.Marshal(Bases(state.Snapshot{}))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestCurrencies(t *testing.T) {
	cs := Currencies(fixture(t), opts())
	require.Len(t, cs, 3)
	assert.Equal(t, "hodler", cs[0].Exchange)
	assert.Equal(t, "BTC", cs[0].Code)
	assert.Equal(t, 8, cs[0].FractionDigits)
	assert.Equal(t, "binance", cs[1].Exchange)
	assert.Equal(t, "USD", cs[1].Code)
	assert.Equal(t, "THB", cs[2].Code)
	assert.True(t, cs[2].AskPrice.Equal(d("1000")))
}

func TestCryptocurrenciesAndOracles(t *testing.T) {
	snap := fixture(t)
	cc := Cryptocurrencies(snap)
	require.Len(t, cc["eth"], 2)
	assert.Equal(t, "binance", cc["eth"][0].Exchange)
	assert.Equal(t, "bitkub", cc["eth"][1].Exchange)

	ors := Oracles(snap, opts())
	require.Len(t, ors, 2)
	assert.Equal(t, "dot", ors[0].SymbolKey)
	assert.Equal(t, "1027", ors[1].Icon)

	b, err := json.Marshal(ors[1])
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "eth", doc["symbol"])
	assert.Len(t, doc["prices"], 2)
}

func TestOverviewSummary(t *testing.T) {
	ov := Overviews(fixture(t), opts())
	require.Len(t, ov, 2)

	// dot volume 100*0.01 = 1 beats eth 15*0.0215
	assert.Equal(t, "dot", ov[0].Symbol)
	eth := ov[1]
	assert.Equal(t, "eth", eth.Symbol)
	assert.True(t, eth.Volume.Equal(d("0.3225")), eth.Volume.String())
	assert.True(t, eth.PercentChange.Equal(d("3")))
	assert.True(t, eth.AverageAskPrice.Equal(d("0.0215")))
	assert.Equal(t, "binance", eth.BestAskExchange)
	assert.Equal(t, "ethusdt", eth.BestAskTickerName)
	assert.Equal(t, "bitkub", eth.BestBidExchange)
	assert.Equal(t, "market.ticker.thb_eth", eth.BestBidTickerName)
	assert.True(t, eth.BestArbitrage.Equal(d("10")), eth.BestArbitrage.String())
	// runner-up venues: bitkub ask 0.023/0.02, binance bid 0.019/0.022
	assert.True(t, eth.BestAskPremium.Equal(d("15")), eth.BestAskPremium.String())
	assert.InDelta(t, -13.6364, eth.BestBidPremium.InexactFloat64(), 1e-4)

	dot := ov[0]
	assert.True(t, dot.BestAskPremium.IsZero())
	assert.True(t, dot.BestBidPremium.IsZero())
}

func TestOverviewSortByArbitrage(t *testing.T) {
	o := opts()
	o.SortBy = SortArbitrage
	ov := Overviews(fixture(t), o)
	require.Len(t, ov, 2)
	assert.Equal(t, "eth", ov[0].Symbol)
	assert.Equal(t, "dot", ov[1].Symbol)
}

func TestInsight(t *testing.T) {
	snap := fixture(t)
	_, ok := InsightFor(snap, "xrp", opts())
	assert.False(t, ok)

	in, ok := InsightFor(snap, " ETH ", opts())
	require.True(t, ok)
	require.Len(t, in.Arbitrages, 2)
	assert.Equal(t, "binance", in.Arbitrages[0].Exchange)
	assert.Equal(t, "bitkub", in.Arbitrages[0].BestRoutes)
	assert.True(t, in.Arbitrages[0].Rate.Equal(d("10")))

	require.Len(t, in.Premiums, 2)
	assert.True(t, in.Premiums[1].AskPremium.Equal(d("15")), in.Premiums[1].AskPremium.String())
	assert.True(t, in.Premiums[1].BidPremium.IsZero())
	assert.Equal(t, "1027", in.Summary.Icon)
}
