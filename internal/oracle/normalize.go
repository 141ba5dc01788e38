package oracle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places kept by every ratio in the
// oracle. decimal's default of 16 truncates quotes of tiny-cap tokens.
const Precision int32 = 28

func ratio(a, b decimal.Decimal) decimal.Decimal { return a.DivRound(b, Precision) }

var (
	ErrInvalidBasePrice = errors.New("base price must be positive")
	ErrInvalidTick      = errors.New("invalid tick")
)

// Validate reports whether the tick can enter the oracle: it needs an
// exchange, a symbol key and strictly positive prices.
func (t MarketTick) Validate() error {
	switch {
	case t.Exchange == "":
		return fmt.Errorf("%w: missing exchange", ErrInvalidTick)
	case t.SymbolKey == "":
		return fmt.Errorf("%w: missing symbol key", ErrInvalidTick)
	case !t.Ask.IsPositive():
		return fmt.Errorf("%w: ask %s", ErrInvalidTick, t.Ask)
	case !t.Bid.IsPositive():
		return fmt.Errorf("%w: bid %s", ErrInvalidTick, t.Bid)
	}
	return nil
}

// Normalize converts a raw tick into base-currency terms using base. Premiums
// and arbitrage are left zero; the aggregator fills them in.
func Normalize(t MarketTick, base BasePrice) (ConvertedPrice, error) {
	if !base.Ask.IsPositive() || !base.Bid.IsPositive() {
		return ConvertedPrice{}, ErrInvalidBasePrice
	}
	return ConvertedPrice{
		Exchange:      t.Exchange,
		Symbol:        t.Symbol,
		Ask:           ratio(t.Ask, base.Ask),
		Bid:           ratio(t.Bid, base.Bid),
		AskOriginal:   t.Ask,
		BidOriginal:   t.Bid,
		Volume:        t.Volume,
		PercentChange: t.PercentChange,
		Timestamp:     t.Timestamp,
	}, nil
}
