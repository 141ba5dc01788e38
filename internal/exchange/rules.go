package exchange

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatBinance Format = "binance"
	FormatBitkub  Format = "bitkub"
	FormatFTX     Format = "ftx"
)

// Rule describes how to reach one exchange and how to read its frames.
// "{}" in URL is replaced by the joined ticker list, "{}" in Ticker by the
// exchange's own name for a symbol key.
type Rule struct {
	Name           string            `yaml:"name" validate:"required,lowercase"`
	Format         Format            `yaml:"format" validate:"oneof=binance bitkub ftx"`
	URL            string            `yaml:"url" validate:"required"`
	Ticker         string            `yaml:"ticker" validate:"required"`
	Separator      string            `yaml:"separator"`
	Subscribe      bool              `yaml:"subscribe"` // send tickers as frames instead of in the URL
	KeyPrefix      string            `yaml:"key_prefix"`
	KeySuffix      string            `yaml:"key_suffix"`
	Aliases        map[string]string `yaml:"aliases"` // symbol key -> exchange ticker
	QuoteCurrency  string            `yaml:"quote_currency" validate:"required"`
	CurrencySymbol string            `yaml:"currency_symbol"`
}

// DefaultRules returns the built-in rules for binance, bitkub and ftx.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "binance",
			Format:         FormatBinance,
			URL:            "wss://stream.binance.com:9443/stream?streams={}",
			Ticker:         "{}usdt@ticker",
			Separator:      "/",
			KeySuffix:      "usdt",
			QuoteCurrency:  "USD",
			CurrencySymbol: "$",
		},
		{
			Name:           "bitkub",
			Format:         FormatBitkub,
			URL:            "wss://api.bitkub.com/websocket-api/{}",
			Ticker:         "market.ticker.thb_{}",
			Separator:      ",",
			KeyPrefix:      "market.ticker.thb_",
			Aliases:        map[string]string{"powr": "pow"},
			QuoteCurrency:  "THB",
			CurrencySymbol: "฿",
		},
		{
			Name:           "ftx",
			Format:         FormatFTX,
			URL:            "wss://ftx.com/ws/",
			Ticker:         `{"op":"subscribe","channel":"ticker","market":"{}/USD"}`,
			Subscribe:      true,
			KeySuffix:      "/usd",
			QuoteCurrency:  "USD",
			CurrencySymbol: "$",
		},
	}
}

// ExchangeTicker maps a symbol key to the exchange's own name for it.
func (r Rule) ExchangeTicker(key string) string {
	if alias, ok := r.Aliases[key]; ok {
		return alias
	}
	return key
}

// Tickers renders the ticker template for every symbol key.
func (r Rule) Tickers(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.ReplaceAll(r.Ticker, "{}", r.ExchangeTicker(k)))
	}
	return out
}

// StreamURL is the websocket URL to dial for keys. Subscribe rules carry no
// tickers in the URL.
func (r Rule) StreamURL(keys []string) string {
	if r.Subscribe {
		return strings.ReplaceAll(r.URL, "{}", "")
	}
	return strings.ReplaceAll(r.URL, "{}", strings.Join(r.Tickers(keys), r.Separator))
}

// Key recovers the canonical symbol key from a ticker name seen on the wire.
func (r Rule) Key(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.TrimPrefix(k, r.KeyPrefix)
	k = strings.TrimSuffix(k, r.KeySuffix)
	for canon, alias := range r.Aliases {
		if alias == k {
			return canon
		}
	}
	return k
}

func (r Rule) String() string {
	return fmt.Sprintf("%s(%s)", r.Name, r.Format)
}

// ParseSymbols splits a comma separated symbol list into lower-case keys,
// dropping blanks and duplicates.
func ParseSymbols(list string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range strings.Split(list, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
