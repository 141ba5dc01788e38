package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hodler/internal/oracle"
)

// Ingester is where decoded ticks go; *state.State satisfies it.
type Ingester interface {
	Ingest(t oracle.MarketTick) (oracle.Outcome, error)
}

// Source is a running market data connection.
type Source interface {
	Name() string
	Run(ctx context.Context, onStatus func(exchange string, connected bool))
	Connected() bool
}

type FeedOptions struct {
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	PingEvery   time.Duration
	ReadTimeout time.Duration
}

func (o FeedOptions) withDefaults() FeedOptions {
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.PingEvery <= 0 {
		o.PingEvery = 25 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	return o
}

// Feed streams tickers for one exchange over a websocket, reconnecting with
// capped exponential backoff. Reconnection never reaches the ingester.
type Feed struct {
	rule    Rule
	symbols []string
	in      Ingester
	log     *slog.Logger
	opts    FeedOptions
	dialer  websocket.Dialer

	mu        sync.RWMutex
	connected bool
}

func NewFeed(rule Rule, symbols []string, in Ingester, opts FeedOptions, logger *slog.Logger) *Feed {
	return &Feed{
		rule:    rule,
		symbols: symbols,
		in:      in,
		log:     logger.With(slog.String("exchange", rule.Name)),
		opts:    opts.withDefaults(),
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (f *Feed) Name() string { return f.rule.Name }

func (f *Feed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *Feed) setConnected(v bool, onStatus func(string, bool)) {
	f.mu.Lock()
	changed := f.connected != v
	f.connected = v
	f.mu.Unlock()
	if changed && onStatus != nil {
		onStatus(f.rule.Name, v)
	}
}

// Run blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, onStatus func(exchange string, connected bool)) {
	backoff := f.opts.MinBackoff
	for {
		if ctx.Err() != nil {
			f.setConnected(false, onStatus)
			return
		}

		ws, err := f.open(ctx)
		if err != nil {
			f.setConnected(false, onStatus)
			f.log.Warn("feed connect failed", slog.String("err", err.Error()), slog.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, f.opts.MaxBackoff)
			continue
		}
		f.setConnected(true, onStatus)
		f.log.Info("feed connected", slog.Int("symbols", len(f.symbols)))
		backoff = f.opts.MinBackoff

		err = f.readLoop(ctx, ws)
		f.setConnected(false, onStatus)
		if ctx.Err() != nil {
			return
		}
		f.log.Warn("feed disconnected", slog.String("err", err.Error()), slog.Duration("retry_in", backoff))
		if !sleep(ctx, backoff) {
			return
		}
	}
}

func (f *Feed) open(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := f.dialer.DialContext(ctx, f.rule.StreamURL(f.symbols), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if f.rule.Subscribe {
		for _, sub := range f.rule.Tickers(f.symbols) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
				_ = ws.Close()
				return nil, fmt.Errorf("subscribe: %w", err)
			}
		}
	}
	return ws, nil
}

func (f *Feed) readLoop(ctx context.Context, ws *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	defer ws.Close()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))
	})

	// keepalive and cancellation; ReadMessage below blocks
	go func() {
		ticker := time.NewTicker(f.opts.PingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
					time.Now().Add(time.Second))
				_ = ws.Close()
				return
			case <-ticker.C:
				_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))
		f.handle(data)
	}
}

func (f *Feed) handle(frame []byte) {
	tick, err := f.rule.Decode(frame)
	if errors.Is(err, ErrSkip) {
		return
	}
	if err != nil {
		f.log.Warn("frame dropped", slog.String("err", err.Error()))
		return
	}
	out, err := f.in.Ingest(tick)
	if err != nil {
		f.log.Warn("tick rejected", slog.String("symbol", tick.Symbol), slog.String("err", err.Error()))
		return
	}
	f.log.Debug("tick", slog.String("symbol_key", tick.SymbolKey), slog.String("outcome", out.String()))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// MockFeed replays canned ticks into an ingester, for demos and tests.
type MockFeed struct {
	name  string
	ticks []oracle.MarketTick
	in    Ingester

	mu        sync.RWMutex
	connected bool
}

func NewMockFeed(name string, in Ingester, ticks ...oracle.MarketTick) *MockFeed {
	return &MockFeed{name: name, in: in, ticks: ticks}
}

func (m *MockFeed) Name() string { return m.name }

func (m *MockFeed) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockFeed) Run(ctx context.Context, onStatus func(exchange string, connected bool)) {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	if onStatus != nil {
		onStatus(m.name, true)
	}
	for _, t := range m.ticks {
		if t.Exchange == "" {
			t.Exchange = m.name
		}
		_, _ = m.in.Ingest(t)
	}
	<-ctx.Done()
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	if onStatus != nil {
		onStatus(m.name, false)
	}
}
