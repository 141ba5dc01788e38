package state

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hodler/internal/oracle"
)

type capture struct {
	mu   sync.Mutex
	sigs []oracle.Signal
}

func (c *capture) Submit(sig oracle.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sigs = append(c.sigs, sig)
	return nil
}

func (c *capture) all() []oracle.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]oracle.Signal(nil), c.sigs...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mtick(exchange, key, ask, bid string) oracle.MarketTick {
	return oracle.MarketTick{Exchange: exchange, Symbol: key, SymbolKey: key, Ask: dec(ask), Bid: dec(bid)}
}

func premiumState(pub Publisher, cooldown time.Duration) *State {
	ev := oracle.NewEvaluator(oracle.Thresholds{Mode: oracle.ModePremium, Ask: dec("0.01"), Bid: dec("-0.00001")})
	return NewState("BTC", ev, pub, cooldown, discard())
}

func TestBaseSymbolNormalization(t *testing.T) {
	s := NewState(" BTC ", oracle.NewEvaluator(oracle.Thresholds{}), nil, 0, discard())
	if s.BaseSymbol() != "btc" {
		t.Fatalf("base symbol got %q want btc", s.BaseSymbol())
	}
}

func TestGatingUntilBasePrice(t *testing.T) {
	s := premiumState(&capture{}, 0)

	out, err := s.Ingest(mtick("binance", "eth", "2000", "1995"))
	if err != nil {
		t.Fatal(err)
	}
	if out != oracle.Skipped {
		t.Fatalf("outcome got %s want skipped", out)
	}
	if n := len(s.Snapshot().Entries); n != 0 {
		t.Fatalf("entries got %d want 0", n)
	}

	if out, _ := s.Ingest(mtick("binance", "btc", "30000", "29990")); out != oracle.BaseUpdated {
		t.Fatalf("outcome got %s want base", out)
	}
	if out, _ := s.Ingest(mtick("binance", "eth", "2000", "1995")); out != oracle.Created {
		t.Fatalf("outcome got %s want created", out)
	}
	snap := s.Snapshot()
	if len(snap.Bases) != 1 || snap.Bases[0].Exchange != "binance" {
		t.Fatalf("bases got %+v", snap.Bases)
	}
	if _, ok := snap.Entry("eth"); !ok {
		t.Fatal("eth entry missing")
	}
}

func TestIngestRejectsMalformedTick(t *testing.T) {
	s := premiumState(&capture{}, 0)
	_, err := s.Ingest(mtick("binance", "btc", "0", "29990"))
	if !errors.Is(err, oracle.ErrInvalidTick) {
		t.Fatalf("err got %v want ErrInvalidTick", err)
	}
	if len(s.Snapshot().Bases) != 0 {
		t.Fatal("malformed base tick must not reach the registry")
	}
}

func TestScenarioEmitsSingleSell(t *testing.T) {
	pub := &capture{}
	s := premiumState(pub, 0)

	for _, tk := range []oracle.MarketTick{
		mtick("binance", "btc", "30000", "29990"),
		mtick("bitkub", "btc", "900000", "899000"),
		mtick("binance", "eth", "2000", "1995"),
		mtick("bitkub", "eth", "60300", "59800"),
	} {
		if _, err := s.Ingest(tk); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(pub.all()); n != 0 {
		t.Fatalf("signals before raise got %d want 0", n)
	}

	if _, err := s.Ingest(mtick("bitkub", "eth", "60300", "60200")); err != nil {
		t.Fatal(err)
	}
	sigs := pub.all()
	if len(sigs) != 1 {
		t.Fatalf("signals got %d want 1", len(sigs))
	}
	if sigs[0].Side != oracle.Sell || sigs[0].Exchange != "bitkub" {
		t.Fatalf("signal got %s on %s want Sell on bitkub", sigs[0].Side, sigs[0].Exchange)
	}
	e, _ := s.Snapshot().Entry("eth")
	if e.BestBidExchange != "bitkub" || e.BestAskExchange != "binance" {
		t.Fatalf("best bid %s best ask %s", e.BestBidExchange, e.BestAskExchange)
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	pub := &capture{}
	s := premiumState(pub, time.Minute)
	for _, tk := range []oracle.MarketTick{
		mtick("binance", "btc", "30000", "29990"),
		mtick("bitkub", "btc", "900000", "899000"),
		mtick("binance", "eth", "2000", "1995"),
		mtick("bitkub", "eth", "60300", "60200"),
		mtick("bitkub", "eth", "60300", "60200"),
		mtick("bitkub", "eth", "60300", "60200"),
	} {
		if _, err := s.Ingest(tk); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(pub.all()); n != 1 {
		t.Fatalf("signals got %d want 1 within cooldown", n)
	}
}

func TestAllowAlertCooldown(t *testing.T) {
	s := NewState("btc", oracle.NewEvaluator(oracle.Thresholds{}), nil, time.Second, discard())
	now := time.Now()
	if !s.AllowAlert(now, "signals:eth:bitkub:sell") {
		t.Fatal("first should allow")
	}
	if s.AllowAlert(now.Add(500*time.Millisecond), "signals:eth:bitkub:sell") {
		t.Fatal("should block within cooldown")
	}
	if !s.AllowAlert(now, "signals:eth:binance:sell") {
		t.Fatal("other key should allow")
	}
	if !s.AllowAlert(now, "signals:eth:bitkub:buy") {
		t.Fatal("other side should allow")
	}
	if !s.AllowAlert(now.Add(1100*time.Millisecond), "signals:eth:bitkub:sell") {
		t.Fatal("should allow after cooldown")
	}
}

func TestAllowAlertIsAllOrNone(t *testing.T) {
	s := NewState("btc", oracle.NewEvaluator(oracle.Thresholds{}), nil, time.Minute, discard())
	now := time.Now()
	if !s.AllowAlert(now, "signals:eth:b:sell") {
		t.Fatal("first should allow")
	}
	if s.AllowAlert(now.Add(time.Second), "signals:eth:c:buy", "signals:eth:b:sell") {
		t.Fatal("pair with a cooled key should block")
	}
	if !s.AllowAlert(now.Add(time.Second), "signals:eth:c:buy") {
		t.Fatal("blocked pair must not stamp its other key")
	}
}

func TestArbitragePairSharesCooldown(t *testing.T) {
	pub := &capture{}
	ev := oracle.NewEvaluator(oracle.Thresholds{Mode: oracle.ModeArbitrage, Arbitrage: dec("0.025")})
	s := NewState("btc", ev, pub, time.Minute, discard())
	for _, tk := range []oracle.MarketTick{
		mtick("a", "btc", "1", "1"),
		mtick("b", "btc", "1", "1"),
		mtick("c", "btc", "1", "1"),
		mtick("a", "eth", "100", "99"),
		mtick("b", "eth", "110", "105"),
		mtick("a", "eth", "100", "99"), // Buy a, Sell b
		mtick("c", "eth", "100", "98"), // Buy c, Sell b: b still cooling
	} {
		if _, err := s.Ingest(tk); err != nil {
			t.Fatal(err)
		}
	}
	sigs := pub.all()
	if len(sigs) != 2 {
		t.Fatalf("signals got %d want one pair: %+v", len(sigs), sigs)
	}
	if sigs[0].Side != oracle.Buy || sigs[0].Exchange != "a" || sigs[1].Side != oracle.Sell || sigs[1].Exchange != "b" {
		t.Fatalf("pair got %s %s / %s %s", sigs[0].Side, sigs[0].Exchange, sigs[1].Side, sigs[1].Exchange)
	}
}

func TestSellCooldownDoesNotBlockBuy(t *testing.T) {
	pub := &capture{}
	s := premiumState(pub, time.Minute)
	for _, tk := range []oracle.MarketTick{
		mtick("binance", "btc", "30000", "29990"),
		mtick("bitkub", "btc", "900000", "899000"),
		mtick("binance", "eth", "2000", "1995"),
		mtick("bitkub", "eth", "60300", "60200"), // Sell bitkub
		mtick("bitkub", "eth", "61000", "60200"), // Buy bitkub, Sell still cooling
	} {
		if _, err := s.Ingest(tk); err != nil {
			t.Fatal(err)
		}
	}
	sigs := pub.all()
	if len(sigs) != 2 || sigs[0].Side != oracle.Sell || sigs[1].Side != oracle.Buy {
		t.Fatalf("signals got %+v want Sell then Buy", sigs)
	}
	if sigs[1].Exchange != "bitkub" {
		t.Fatalf("buy exchange got %q", sigs[1].Exchange)
	}
}

type flakyPublisher struct {
	capture
	fail int
}

func (f *flakyPublisher) Submit(sig oracle.Signal) error {
	f.mu.Lock()
	if f.fail > 0 {
		f.fail--
		f.mu.Unlock()
		return errors.New("queue full")
	}
	f.mu.Unlock()
	return f.capture.Submit(sig)
}

func TestDroppedSignalDoesNotHoldCooldown(t *testing.T) {
	pub := &flakyPublisher{fail: 1}
	s := premiumState(pub, time.Minute)
	for _, tk := range []oracle.MarketTick{
		mtick("binance", "btc", "30000", "29990"),
		mtick("bitkub", "btc", "900000", "899000"),
		mtick("binance", "eth", "2000", "1995"),
		mtick("bitkub", "eth", "60300", "60200"), // dropped
		mtick("bitkub", "eth", "60300", "60200"),
	} {
		if _, err := s.Ingest(tk); err != nil {
			t.Fatal(err)
		}
	}
	sigs := pub.all()
	if len(sigs) != 1 || sigs[0].Side != oracle.Sell {
		t.Fatalf("signals got %+v want one Sell after the drop", sigs)
	}
}

type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPublisher) Submit(oracle.Signal) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestPublishHappensOutsideLock(t *testing.T) {
	pub := &blockingPublisher{entered: make(chan struct{}, 4), release: make(chan struct{})}
	s := premiumState(pub, 0)
	for _, tk := range []oracle.MarketTick{
		mtick("binance", "btc", "30000", "29990"),
		mtick("bitkub", "btc", "900000", "899000"),
		mtick("binance", "eth", "2000", "1995"),
		mtick("bitkub", "eth", "60300", "59800"),
	} {
		if _, err := s.Ingest(tk); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan struct{})
	go func() {
		_, _ = s.Ingest(mtick("bitkub", "eth", "60300", "60200"))
		close(done)
	}()

	select {
	case <-pub.entered:
	case <-time.After(time.Second):
		t.Fatal("publisher never called")
	}

	snapped := make(chan struct{})
	go func() {
		s.Snapshot()
		_, _ = s.Ingest(mtick("binance", "eth", "2001", "1995"))
		close(snapped)
	}()
	select {
	case <-snapped:
	case <-time.After(time.Second):
		t.Fatal("state locked while publishing")
	}

	close(pub.release)
	<-done
}

func TestConcurrentIngestAndSnapshot(t *testing.T) {
	s := premiumState(&capture{}, 0)
	exchanges := []string{"binance", "bitkub", "ftx"}
	for _, ex := range exchanges {
		if _, err := s.Ingest(mtick(ex, "btc", "100", "100")); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i, ex := range exchanges {
		wg.Add(1)
		go func(i int, ex string) {
			defer wg.Done()
			for n := 1; n <= 200; n++ {
				ask := decimal.NewFromInt(int64(100 + (n*(i+3))%50))
				bid := ask.Sub(decimal.NewFromInt(int64(n % 7)))
				_, _ = s.Ingest(oracle.MarketTick{Exchange: ex, Symbol: "eth", SymbolKey: "eth", Ask: ask, Bid: bid})
			}
		}(i, ex)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 200; n++ {
			snap := s.Snapshot()
			for _, e := range snap.Entries {
				if !e.Prices[e.BestAskExchange].Ask.Equal(e.BestAskPrice) {
					t.Errorf("torn snapshot: best ask %s not held by %s", e.BestAskPrice, e.BestAskExchange)
					return
				}
			}
		}
	}()
	wg.Wait()

	e, ok := s.Snapshot().Entry("eth")
	if !ok || len(e.Prices) != len(exchanges) {
		t.Fatalf("entry got %+v", e)
	}
	for ex, p := range e.Prices {
		if p.Ask.LessThan(e.BestAskPrice) {
			t.Fatalf("%s ask %s below best %s", ex, p.Ask, e.BestAskPrice)
		}
		if p.Bid.GreaterThan(e.BestBidPrice) {
			t.Fatalf("%s bid %s above best %s", ex, p.Bid, e.BestBidPrice)
		}
	}
}

func TestConnectionStatus(t *testing.T) {
	s := NewState("btc", oracle.NewEvaluator(oracle.Thresholds{}), nil, 0, discard())
	s.SetConnected("binance", true)
	s.SetConnected("bitkub", false)
	if !s.Connected("binance") || s.Connected("bitkub") || s.Connected("ftx") {
		t.Fatal("unexpected connection state")
	}
	st := s.Status()
	st["binance"] = false
	if !s.Connected("binance") {
		t.Fatal("Status must return a copy")
	}
}
