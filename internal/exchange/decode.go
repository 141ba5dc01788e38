package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hodler/internal/oracle"
)

var (
	// ErrSkip marks frames that are not ticker updates (acks, heartbeats).
	ErrSkip      = errors.New("not a ticker frame")
	ErrMalformed = errors.New("malformed ticker frame")
)

// rawTick is what every wire format decodes to before key mapping.
type rawTick struct {
	name          string
	ask, bid      decimal.Decimal
	volume        decimal.Decimal
	percentChange decimal.Decimal
	ts            time.Time
}

// Decode turns one frame into a MarketTick using the rule's wire format.
func (r Rule) Decode(frame []byte) (oracle.MarketTick, error) {
	var (
		raw rawTick
		err error
	)
	switch r.Format {
	case FormatBinance:
		raw, err = decodeBinance(frame)
	case FormatBitkub:
		raw, err = decodeBitkub(frame)
	case FormatFTX:
		raw, err = decodeFTX(frame)
	default:
		return oracle.MarketTick{}, fmt.Errorf("%s: unknown format %q", r.Name, r.Format)
	}
	if err != nil {
		return oracle.MarketTick{}, err
	}
	return oracle.MarketTick{
		Exchange:      r.Name,
		Symbol:        strings.ToLower(raw.name),
		SymbolKey:     r.Key(raw.name),
		Ask:           raw.ask,
		Bid:           raw.bid,
		Volume:        raw.volume,
		PercentChange: raw.percentChange,
		Timestamp:     raw.ts,
	}, nil
}

// binance combined stream: {"stream":"ethusdt@ticker","data":{...}}
// binanceFrame keeps a field for every single-letter key that differs from
// another only by case: encoding/json folds case when no exact tag matches,
// so "B" would otherwise land on the bid and "e" on the event time.
type binanceFrame struct {
	Data *struct {
		EventType   string          `json:"e"`
		EventTime   int64           `json:"E"`
		Symbol      string          `json:"s"`
		PriceChange decimal.Decimal `json:"p"`
		Change      decimal.Decimal `json:"P"`
		Bid         decimal.Decimal `json:"b"`
		BidQty      decimal.Decimal `json:"B"`
		Ask         decimal.Decimal `json:"a"`
		AskQty      decimal.Decimal `json:"A"`
		Volume      decimal.Decimal `json:"v"`
		QuoteVolume decimal.Decimal `json:"q"`
		LastQty     decimal.Decimal `json:"Q"`
		Close       decimal.Decimal `json:"c"`
		CloseTime   int64           `json:"C"`
		Open        decimal.Decimal `json:"o"`
		OpenTime    int64           `json:"O"`
	} `json:"data"`
}

func decodeBinance(frame []byte) (rawTick, error) {
	var f binanceFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return rawTick{}, fmt.Errorf("binance: %w: %v", ErrMalformed, err)
	}
	if f.Data == nil {
		return rawTick{}, ErrSkip
	}
	if f.Data.Symbol == "" {
		return rawTick{}, fmt.Errorf("binance: %w: missing symbol", ErrMalformed)
	}
	raw := rawTick{
		name:          f.Data.Symbol,
		ask:           f.Data.Ask,
		bid:           f.Data.Bid,
		volume:        f.Data.Volume,
		percentChange: f.Data.Change,
	}
	if f.Data.EventTime > 0 {
		raw.ts = time.UnixMilli(f.Data.EventTime)
	}
	return raw, nil
}

type bitkubFrame struct {
	Stream        string          `json:"stream"`
	LowestAsk     decimal.Decimal `json:"lowestAsk"`
	HighestBid    decimal.Decimal `json:"highestBid"`
	BaseVolume    decimal.Decimal `json:"baseVolume"`
	PercentChange decimal.Decimal `json:"percentChange"`
}

func decodeBitkub(frame []byte) (rawTick, error) {
	var f bitkubFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return rawTick{}, fmt.Errorf("bitkub: %w: %v", ErrMalformed, err)
	}
	if !strings.HasPrefix(f.Stream, "market.ticker.") {
		return rawTick{}, ErrSkip
	}
	// bitkub frames carry no event time
	return rawTick{
		name:          f.Stream,
		ask:           f.LowestAsk,
		bid:           f.HighestBid,
		volume:        f.BaseVolume,
		percentChange: f.PercentChange,
	}, nil
}

type ftxFrame struct {
	Type   string `json:"type"`
	Market string `json:"market"`
	Data   struct {
		Ask  decimal.Decimal `json:"ask"`
		Bid  decimal.Decimal `json:"bid"`
		Time float64         `json:"time"`
	} `json:"data"`
}

func decodeFTX(frame []byte) (rawTick, error) {
	var f ftxFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return rawTick{}, fmt.Errorf("ftx: %w: %v", ErrMalformed, err)
	}
	if f.Type != "update" {
		return rawTick{}, ErrSkip
	}
	if f.Market == "" {
		return rawTick{}, fmt.Errorf("ftx: %w: missing market", ErrMalformed)
	}
	raw := rawTick{name: f.Market, ask: f.Data.Ask, bid: f.Data.Bid}
	if f.Data.Time > 0 {
		sec, frac := math.Modf(f.Data.Time)
		raw.ts = time.Unix(int64(sec), int64(frac*1e9))
	}
	return raw, nil
}
