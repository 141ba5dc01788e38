package oracle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// BasePrice is an exchange's quote for the base currency in its native quote unit.
type BasePrice struct {
	Exchange  string          `json:"exchange"`
	Ask       decimal.Decimal `json:"ask_price"`
	Bid       decimal.Decimal `json:"bid_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketTick is the exchange-agnostic tick produced by a feed adapter.
type MarketTick struct {
	Exchange      string // exchange identifier
	Symbol        string // exchange ticker name, e.g. "ethusdt"
	SymbolKey     string // canonical cross-exchange key, e.g. "eth"
	Ask           decimal.Decimal
	Bid           decimal.Decimal
	Volume        decimal.Decimal // optional; zero when the feed does not report it
	PercentChange decimal.Decimal // optional
	Timestamp     time.Time       // optional; zero means "now" at ingest
}

// ConvertedPrice is one exchange's price for a symbol expressed in the base currency.
type ConvertedPrice struct {
	Exchange      string          `json:"exchange"`
	Symbol        string          `json:"symbol"`
	Ask           decimal.Decimal `json:"ask_price"`
	Bid           decimal.Decimal `json:"bid_price"`
	AskOriginal   decimal.Decimal `json:"ask_original"`
	BidOriginal   decimal.Decimal `json:"bid_original"`
	AskPremium    decimal.Decimal `json:"ask_premium"`
	BidPremium    decimal.Decimal `json:"bid_premium"`
	Arbitrage     decimal.Decimal `json:"arbitrage"`
	Volume        decimal.Decimal `json:"volume"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Timestamp     time.Time       `json:"timestamp"`
}

type Outcome int

const (
	Skipped Outcome = iota // no base price for the exchange yet
	Created                // first price for the symbol
	Updated
	BaseUpdated // tick was a base-currency tick and went to the registry
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case BaseUpdated:
		return "base"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type UpdateResult struct {
	Outcome Outcome
	Price   ConvertedPrice
}

// Signal is an immutable trading signal. It is never stored by the oracle.
type Signal struct {
	ID            string          `json:"id"`
	Side          Side            `json:"side"`
	Exchange      string          `json:"exchange"`
	Symbol        string          `json:"symbol"`
	SymbolKey     string          `json:"symbol_key"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Premium       decimal.Decimal `json:"premium"`
	Time          time.Time       `json:"time"`
}

// Key is the composite publish key "signals:<symbol_key>:<exchange>".
func (s Signal) Key() string {
	return SignalKey(s.SymbolKey, s.Exchange)
}

func SignalKey(symbolKey, exchange string) string {
	return fmt.Sprintf("signals:%s:%s", symbolKey, exchange)
}
