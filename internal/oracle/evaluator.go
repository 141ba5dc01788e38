package oracle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	// ModeArbitrage fires a Buy/Sell pair when best_bid/ask - 1 reaches the threshold.
	ModeArbitrage Mode = "arbitrage"
	// ModePremium fires per side when an exchange's premium exceeds its threshold.
	ModePremium Mode = "premium"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeArbitrage, "":
		return ModeArbitrage, nil
	case ModePremium:
		return ModePremium, nil
	}
	return "", fmt.Errorf("unknown signal mode %q", s)
}

type Thresholds struct {
	Mode      Mode
	Arbitrage decimal.Decimal
	Ask       decimal.Decimal
	Bid       decimal.Decimal
}

// Evaluator turns an aggregator update into zero or more signals. It keeps no
// state between calls.
type Evaluator struct {
	th    Thresholds
	now   func() time.Time
	newID func() string
}

func NewEvaluator(th Thresholds) Evaluator {
	return Evaluator{
		th:    th,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (ev Evaluator) Thresholds() Thresholds { return ev.th }

// Evaluate inspects res, which must come from updating e with t. Only Updated
// results can produce signals.
func (ev Evaluator) Evaluate(t MarketTick, res UpdateResult, e *Entry) []Signal {
	if res.Outcome != Updated || e == nil {
		return nil
	}
	p := res.Price
	now := ev.now()

	if ev.th.Mode == ModePremium {
		var out []Signal
		if p.AskPremium.GreaterThan(ev.th.Ask) {
			out = append(out, ev.signal(Buy, t.SymbolKey, p.Exchange, p.Symbol, p.Ask, p.AskOriginal, p.AskPremium, now))
		}
		if p.BidPremium.GreaterThan(ev.th.Bid) {
			out = append(out, ev.signal(Sell, t.SymbolKey, p.Exchange, p.Symbol, p.Bid, p.BidOriginal, p.BidPremium, now))
		}
		return out
	}

	arb := ratio(e.BestBidPrice, p.Ask).Sub(one)
	if arb.LessThan(ev.th.Arbitrage) {
		return nil
	}
	return []Signal{
		ev.signal(Buy, t.SymbolKey, p.Exchange, p.Symbol, p.Ask, p.AskOriginal, arb, now),
		ev.signal(Sell, t.SymbolKey, e.BestBidExchange, e.BestBidSymbol, e.BestBidPrice, e.BestBidOriginal, arb, now),
	}
}

func (ev Evaluator) signal(side Side, key, exchange, symbol string, price, original, premium decimal.Decimal, now time.Time) Signal {
	return Signal{
		ID:            ev.newID(),
		Side:          side,
		Exchange:      exchange,
		Symbol:        symbol,
		SymbolKey:     key,
		Price:         price,
		OriginalPrice: original,
		Premium:       premium,
		Time:          now,
	}
}
