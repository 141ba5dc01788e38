package oracle

import (
	"maps"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Entry is the aggregate record for one symbol key: one converted price per
// exchange plus the derived best and average prices.
type Entry struct {
	SymbolKey       string                    `json:"symbol"`
	BestAskExchange string                    `json:"ask_best_exchange"`
	BestAskSymbol   string                    `json:"ask_best_symbol"`
	BestAskPrice    decimal.Decimal           `json:"ask_best_price"`
	AvgAskPrice     decimal.Decimal           `json:"ask_avg_price"`
	BestBidExchange string                    `json:"bid_best_exchange"`
	BestBidSymbol   string                    `json:"bid_best_symbol"`
	BestBidPrice    decimal.Decimal           `json:"bid_best_price"`
	BestBidOriginal decimal.Decimal           `json:"bid_best_original"`
	AvgBidPrice     decimal.Decimal           `json:"bid_avg_price"`
	Prices          map[string]ConvertedPrice `json:"-"`
}

func newEntry(key string, p ConvertedPrice) *Entry {
	e := &Entry{
		SymbolKey: key,
		Prices:    map[string]ConvertedPrice{p.Exchange: p},
	}
	e.takeBestAsk(p)
	e.takeBestBid(p)
	e.recompute()
	return e
}

// Clone returns a deep copy; the prices map is not shared.
func (e *Entry) Clone() Entry {
	c := *e
	c.Prices = maps.Clone(e.Prices)
	return c
}

// SortedPrices returns the per-exchange prices ordered by exchange name.
func (e *Entry) SortedPrices() []ConvertedPrice {
	out := make([]ConvertedPrice, 0, len(e.Prices))
	for _, ex := range e.exchanges() {
		out = append(out, e.Prices[ex])
	}
	return out
}

func (e *Entry) exchanges() []string {
	return slices.Sorted(maps.Keys(e.Prices))
}

func (e *Entry) takeBestAsk(p ConvertedPrice) {
	e.BestAskExchange = p.Exchange
	e.BestAskSymbol = p.Symbol
	e.BestAskPrice = p.Ask
}

func (e *Entry) takeBestBid(p ConvertedPrice) {
	e.BestBidExchange = p.Exchange
	e.BestBidSymbol = p.Symbol
	e.BestBidPrice = p.Bid
	e.BestBidOriginal = p.BidOriginal
}

// apply upserts p and restores every derived field. Only a titleholder whose
// price changed forces a rescan; a strictly better price from another
// exchange is adopted as is.
func (e *Entry) apply(p ConvertedPrice) ConvertedPrice {
	e.Prices[p.Exchange] = p

	switch {
	case p.Exchange == e.BestAskExchange:
		e.rescanAsk()
	case p.Ask.LessThan(e.BestAskPrice):
		e.takeBestAsk(p)
	}

	switch {
	case p.Exchange == e.BestBidExchange:
		e.rescanBid()
	case p.Bid.GreaterThan(e.BestBidPrice):
		e.takeBestBid(p)
	}

	e.recompute()
	return e.Prices[p.Exchange]
}

// Ties go to the first exchange in name order.
func (e *Entry) rescanAsk() {
	first := true
	for _, ex := range e.exchanges() {
		p := e.Prices[ex]
		if first || p.Ask.LessThan(e.BestAskPrice) {
			e.takeBestAsk(p)
			first = false
		}
	}
}

func (e *Entry) rescanBid() {
	first := true
	for _, ex := range e.exchanges() {
		p := e.Prices[ex]
		if first || p.Bid.GreaterThan(e.BestBidPrice) {
			e.takeBestBid(p)
			first = false
		}
	}
}

// recompute refreshes the averages and every entry's premiums and arbitrage
// against the current best prices.
func (e *Entry) recompute() {
	sumAsk, sumBid := decimal.Zero, decimal.Zero
	for ex, p := range e.Prices {
		sumAsk = sumAsk.Add(p.Ask)
		sumBid = sumBid.Add(p.Bid)
		p.AskPremium = ratio(p.Ask, e.BestAskPrice).Sub(one)
		p.BidPremium = ratio(p.Bid, e.BestBidPrice).Sub(one)
		p.Arbitrage = ratio(e.BestBidPrice, p.Ask).Sub(one)
		e.Prices[ex] = p
	}
	n := decimal.NewFromInt(int64(len(e.Prices)))
	e.AvgAskPrice = ratio(sumAsk, n)
	e.AvgBidPrice = ratio(sumBid, n)
}

// Aggregator maintains one Entry per symbol key. Like Registry it is not safe
// for concurrent use.
type Aggregator struct {
	registry *Registry
	entries  map[string]*Entry
}

func NewAggregator(registry *Registry) *Aggregator {
	return &Aggregator{registry: registry, entries: make(map[string]*Entry)}
}

// Update folds a non-base tick into its symbol's entry. Without a base price
// for the tick's exchange the update is skipped and no state changes.
func (a *Aggregator) Update(t MarketTick) (UpdateResult, error) {
	if err := t.Validate(); err != nil {
		return UpdateResult{}, err
	}
	base, ok := a.registry.Get(t.Exchange)
	if !ok {
		return UpdateResult{Outcome: Skipped}, nil
	}
	p, err := Normalize(t, base)
	if err != nil {
		return UpdateResult{}, err
	}

	e, ok := a.entries[t.SymbolKey]
	if !ok {
		e = newEntry(t.SymbolKey, p)
		a.entries[t.SymbolKey] = e
		return UpdateResult{Outcome: Created, Price: e.Prices[t.Exchange]}, nil
	}
	return UpdateResult{Outcome: Updated, Price: e.apply(p)}, nil
}

// Entry returns the live entry for key. Callers must not retain it past the
// guard's critical section.
func (a *Aggregator) Entry(key string) (*Entry, bool) {
	e, ok := a.entries[key]
	return e, ok
}

// Snapshot deep-copies every entry, ordered by symbol key.
func (a *Aggregator) Snapshot() []Entry {
	keys := slices.SortedFunc(maps.Keys(a.entries), strings.Compare)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, a.entries[k].Clone())
	}
	return out
}
