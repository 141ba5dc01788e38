package oracle

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Registry holds the latest base-currency price per exchange. It is not safe
// for concurrent use; the state guard owns it.
type Registry struct {
	bases map[string]BasePrice
}

func NewRegistry() *Registry {
	return &Registry{bases: make(map[string]BasePrice)}
}

// Set overwrites the base price for exchange unconditionally.
func (r *Registry) Set(exchange string, ask, bid decimal.Decimal, ts time.Time) {
	r.bases[exchange] = BasePrice{Exchange: exchange, Ask: ask, Bid: bid, Timestamp: ts}
}

// Get returns the base price for exchange. A missing entry is normal at startup.
func (r *Registry) Get(exchange string) (BasePrice, bool) {
	b, ok := r.bases[exchange]
	return b, ok
}

// All returns a copy of every base price ordered by exchange name.
func (r *Registry) All() []BasePrice {
	out := make([]BasePrice, 0, len(r.bases))
	for _, b := range r.bases {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b BasePrice) int { return strings.Compare(a.Exchange, b.Exchange) })
	return out
}
