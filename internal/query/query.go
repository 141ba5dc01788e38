// Package query renders read-only JSON views over a state snapshot.
package query

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hodler/internal/oracle"
	"hodler/internal/state"
)

var hundred = decimal.NewFromInt(100)

type SortBy string

const (
	SortVolume    SortBy = "volume"
	SortArbitrage SortBy = "arbitrage"
)

// Quote describes the native quote currency of an exchange.
type Quote struct {
	Code   string
	Symbol string
}

type Options struct {
	BaseSymbol string
	SortBy     SortBy
	Quotes     map[string]Quote  // exchange -> quote currency
	Icons      map[string]string // symbol key -> icon id
}

type Currency struct {
	Exchange       string          `json:"exchange"`
	AskPrice       decimal.Decimal `json:"ask_price"`
	BidPrice       decimal.Decimal `json:"bid_price"`
	Code           string          `json:"code"`
	Symbol         string          `json:"symbol"`
	FractionDigits int             `json:"fraction_digits"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Oracle struct {
	oracle.Entry
	Prices []oracle.ConvertedPrice `json:"prices"`
	Icon   string                  `json:"icon"`
}

// Summary is the per-symbol overview. Premiums and arbitrage are percents.
// BestAskPremium and BestBidPremium belong to the runner-up venue on each
// side, so they show how far the next quote trails the best one; zero with a
// single exchange.
type Summary struct {
	Symbol            string          `json:"symbol"`
	Volume            decimal.Decimal `json:"volume"`
	PercentChange     decimal.Decimal `json:"percent_change"`
	AverageAskPrice   decimal.Decimal `json:"average_ask_price"`
	AverageBidPrice   decimal.Decimal `json:"average_bid_price"`
	BestAskExchange   string          `json:"best_ask_exchange"`
	BestAskPrice      decimal.Decimal `json:"best_ask_price"`
	BestAskTickerName string          `json:"best_ask_ticker_name"`
	BestBidExchange   string          `json:"best_bid_exchange"`
	BestBidPrice      decimal.Decimal `json:"best_bid_price"`
	BestBidTickerName string          `json:"best_bid_ticker_name"`
	BestArbitrage     decimal.Decimal `json:"best_arbitrage"`
	BestAskPremium    decimal.Decimal `json:"best_ask_premium"`
	BestBidPremium    decimal.Decimal `json:"best_bid_premium"`
	Icon              string          `json:"icon"`
}

type Arbitrage struct {
	Exchange   string          `json:"exchange"`
	BestRoutes string          `json:"best_routes"`
	Rate       decimal.Decimal `json:"rate"`
}

type Premium struct {
	Exchange   string          `json:"exchange"`
	AskPremium decimal.Decimal `json:"ask_premium"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	BidPremium decimal.Decimal `json:"bid_premium"`
	BidPrice   decimal.Decimal `json:"bid_price"`
}

type Insight struct {
	Arbitrages []Arbitrage `json:"arbitrages"`
	Premiums   []Premium   `json:"premiums"`
	Summary    Summary     `json:"summary"`
}

func Bases(snap state.Snapshot) []oracle.BasePrice {
	if snap.Bases == nil {
		return []oracle.BasePrice{}
	}
	return snap.Bases
}

// Currencies lists every exchange's base price in its quote currency,
// preceded by the base currency itself at 1:1.
func Currencies(snap state.Snapshot, opts Options) []Currency {
	out := []Currency{{
		Exchange:       "hodler",
		AskPrice:       decimal.NewFromInt(1),
		BidPrice:       decimal.NewFromInt(1),
		Code:           strings.ToUpper(opts.BaseSymbol),
		Symbol:         "currency_bitcoin",
		FractionDigits: 8,
	}}
	for _, b := range snap.Bases {
		q, ok := opts.Quotes[b.Exchange]
		if !ok {
			q = Quote{Code: "USD", Symbol: "$"}
		}
		out = append(out, Currency{
			Exchange:       b.Exchange,
			AskPrice:       b.Ask,
			BidPrice:       b.Bid,
			Code:           q.Code,
			Symbol:         q.Symbol,
			FractionDigits: 2,
			UpdatedAt:      b.Timestamp,
		})
	}
	return out
}

func Cryptocurrencies(snap state.Snapshot) map[string][]oracle.ConvertedPrice {
	out := make(map[string][]oracle.ConvertedPrice, len(snap.Entries))
	for _, e := range snap.Entries {
		out[e.SymbolKey] = e.SortedPrices()
	}
	return out
}

func Oracles(snap state.Snapshot, opts Options) []Oracle {
	out := make([]Oracle, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		out = append(out, Oracle{Entry: e, Prices: e.SortedPrices(), Icon: opts.Icons[e.SymbolKey]})
	}
	return out
}

func Overviews(snap state.Snapshot, opts Options) []Summary {
	out := make([]Summary, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		out = append(out, summarize(e, opts))
	}
	sortSummaries(out, opts.SortBy)
	return out
}

// InsightFor breaks one symbol down per exchange. ok is false for unknown keys.
func InsightFor(snap state.Snapshot, key string, opts Options) (Insight, bool) {
	e, ok := snap.Entry(strings.ToLower(strings.TrimSpace(key)))
	if !ok {
		return Insight{}, false
	}
	in := Insight{Summary: summarize(e, opts)}
	for _, p := range e.SortedPrices() {
		in.Arbitrages = append(in.Arbitrages, Arbitrage{
			Exchange:   p.Exchange,
			BestRoutes: e.BestBidExchange,
			Rate:       p.Arbitrage.Mul(hundred),
		})
		in.Premiums = append(in.Premiums, Premium{
			Exchange:   p.Exchange,
			AskPremium: p.AskPremium.Mul(hundred),
			AskPrice:   p.Ask,
			BidPremium: p.BidPremium.Mul(hundred),
			BidPrice:   p.Bid,
		})
	}
	return in, true
}

func summarize(e oracle.Entry, opts Options) Summary {
	prices := e.SortedPrices()
	s := Summary{
		Symbol:            e.SymbolKey,
		AverageAskPrice:   e.AvgAskPrice,
		AverageBidPrice:   e.AvgBidPrice,
		BestAskExchange:   e.BestAskExchange,
		BestAskPrice:      e.BestAskPrice,
		BestAskTickerName: e.BestAskSymbol,
		BestBidExchange:   e.BestBidExchange,
		BestBidPrice:      e.BestBidPrice,
		BestBidTickerName: e.BestBidSymbol,
		Icon:              opts.Icons[e.SymbolKey],
	}
	if len(prices) == 0 {
		return s
	}

	volume := decimal.Zero
	change := decimal.Zero
	bestArb := prices[0].Arbitrage
	var bestAskPrem, bestBidPrem decimal.Decimal
	seenAsk, seenBid := false, false
	for _, p := range prices {
		volume = volume.Add(p.Volume)
		change = change.Add(p.PercentChange)
		if p.Arbitrage.GreaterThan(bestArb) {
			bestArb = p.Arbitrage
		}
		if p.Exchange != e.BestAskExchange && (!seenAsk || p.AskPremium.LessThan(bestAskPrem)) {
			bestAskPrem, seenAsk = p.AskPremium, true
		}
		if p.Exchange != e.BestBidExchange && (!seenBid || p.BidPremium.GreaterThan(bestBidPrem)) {
			bestBidPrem, seenBid = p.BidPremium, true
		}
	}
	n := decimal.NewFromInt(int64(len(prices)))
	s.Volume = volume.Mul(e.AvgAskPrice)
	s.PercentChange = change.Div(n)
	s.BestArbitrage = bestArb.Mul(hundred)
	s.BestAskPremium = bestAskPrem.Mul(hundred)
	s.BestBidPremium = bestBidPrem.Mul(hundred)
	return s
}

func sortSummaries(s []Summary, by SortBy) {
	slices.SortStableFunc(s, func(a, b Summary) int {
		primary, secondary := b.Volume.Cmp(a.Volume), b.BestArbitrage.Cmp(a.BestArbitrage)
		if by == SortArbitrage {
			primary, secondary = secondary, primary
		}
		if primary != 0 {
			return primary
		}
		if secondary != 0 {
			return secondary
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})
}
