package state

import (
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"hodler/internal/oracle"
)

// Publisher receives signals after the state lock has been released. Submit
// must not block; an error means the signal was dropped.
type Publisher interface {
	Submit(sig oracle.Signal) error
}

// Snapshot is a point-in-time deep copy of the oracle.
type Snapshot struct {
	Bases   []oracle.BasePrice
	Entries []oracle.Entry
	Taken   time.Time
}

// Entry returns the snapshot entry for key.
func (s Snapshot) Entry(key string) (oracle.Entry, bool) {
	for _, e := range s.Entries {
		if e.SymbolKey == key {
			return e, true
		}
	}
	return oracle.Entry{}, false
}

// State owns the registry and every oracle entry behind one lock. It is the
// only place market state is mutated.
type State struct {
	mu         sync.RWMutex
	baseSymbol string
	registry   *oracle.Registry
	aggregator *oracle.Aggregator
	evaluator  oracle.Evaluator

	pub Publisher
	log *slog.Logger

	statusMu  sync.RWMutex
	connected map[string]bool

	alertMu   sync.Mutex
	lastAlert map[string]time.Time // key: signals:<symbol_key>:<exchange>:<side>
	cooldown  time.Duration
}

func NewState(baseSymbol string, ev oracle.Evaluator, pub Publisher, cooldown time.Duration, logger *slog.Logger) *State {
	reg := oracle.NewRegistry()
	return &State{
		baseSymbol: strings.ToLower(strings.TrimSpace(baseSymbol)),
		registry:   reg,
		aggregator: oracle.NewAggregator(reg),
		evaluator:  ev,
		pub:        pub,
		log:        logger,
		connected:  make(map[string]bool),
		lastAlert:  make(map[string]time.Time),
		cooldown:   cooldown,
	}
}

func (s *State) BaseSymbol() string { return s.baseSymbol }

// Ingest applies one tick and hands any resulting signals to the publisher
// once the lock is released. Invalid ticks are rejected before any state is
// touched.
func (s *State) Ingest(t oracle.MarketTick) (oracle.Outcome, error) {
	if err := t.Validate(); err != nil {
		return oracle.Skipped, err
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	outcome, signals, err := s.apply(t)
	if err != nil {
		return outcome, err
	}
	if len(signals) == 0 || s.pub == nil {
		return outcome, nil
	}
	// an arbitrage pair passes the cooldown together or not at all
	if s.evaluator.Thresholds().Mode == oracle.ModeArbitrage {
		keys := make([]string, len(signals))
		for i, sig := range signals {
			keys[i] = cooldownKey(sig)
		}
		if !s.AllowAlert(signals[0].Time, keys...) {
			s.log.Debug("signal suppressed", slog.String("key", signals[0].Key()))
			return outcome, nil
		}
	} else {
		allowed := signals[:0]
		for _, sig := range signals {
			if s.AllowAlert(sig.Time, cooldownKey(sig)) {
				allowed = append(allowed, sig)
			}
		}
		signals = allowed
	}
	for _, sig := range signals {
		if err := s.pub.Submit(sig); err != nil {
			s.forgetAlert(sig.Time, cooldownKey(sig))
			s.log.Warn("signal dropped",
				slog.String("key", sig.Key()),
				slog.String("side", string(sig.Side)),
				slog.String("err", err.Error()),
			)
		}
	}
	return outcome, nil
}

func (s *State) apply(t oracle.MarketTick) (oracle.Outcome, []oracle.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.SymbolKey == s.baseSymbol {
		s.registry.Set(t.Exchange, t.Ask, t.Bid, t.Timestamp)
		return oracle.BaseUpdated, nil, nil
	}

	res, err := s.aggregator.Update(t)
	if err != nil {
		return oracle.Skipped, nil, err
	}
	if res.Outcome != oracle.Updated {
		return res.Outcome, nil, nil
	}
	e, _ := s.aggregator.Entry(t.SymbolKey)
	return res.Outcome, s.evaluator.Evaluate(t, res, e), nil
}

// Snapshot copies the whole oracle under the read lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Bases:   s.registry.All(),
		Entries: s.aggregator.Snapshot(),
		Taken:   time.Now(),
	}
}

func (s *State) SetConnected(exchange string, v bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.connected[exchange] = v
}

func (s *State) Connected(exchange string) bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.connected[exchange]
}

// Status reports the connection state of every exchange seen so far.
func (s *State) Status() map[string]bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return maps.Clone(s.connected)
}

func cooldownKey(sig oracle.Signal) string {
	return sig.Key() + ":" + strings.ToLower(string(sig.Side))
}

// AllowAlert reports whether none of keys fired within the cooldown and, if
// so, stamps all of them with now. A zero cooldown allows everything.
func (s *State) AllowAlert(now time.Time, keys ...string) bool {
	if s.cooldown <= 0 {
		return true
	}
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	for _, k := range keys {
		if last, ok := s.lastAlert[k]; ok && now.Sub(last) < s.cooldown {
			return false
		}
	}
	for _, k := range keys {
		s.lastAlert[k] = now
	}
	return true
}

// forgetAlert undoes stamps made at now, so a dropped signal does not
// hold the cooldown.
func (s *State) forgetAlert(now time.Time, keys ...string) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	for _, k := range keys {
		if last, ok := s.lastAlert[k]; ok && last.Equal(now) {
			delete(s.lastAlert, k)
		}
	}
}
