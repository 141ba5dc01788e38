package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hodler/internal/exchange"
	"hodler/internal/oracle"
	"hodler/internal/query"
)

type Config struct {
	Port       int             `yaml:"port" validate:"min=1,max=65535"`
	LogLevel   string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	BaseSymbol string          `yaml:"base_symbol" validate:"required"`
	Symbols    string          `yaml:"symbols" validate:"required"`
	Exchanges  []exchange.Rule `yaml:"exchanges" validate:"min=1,dive"`
	Signal     Signal          `yaml:"signal"`
	Query      Query           `yaml:"query"`
}

type Signal struct {
	Mode               string        `yaml:"mode" validate:"oneof=arbitrage premium"`
	ArbitrageThreshold float64       `yaml:"arbitrage_threshold"`
	AskThreshold       float64       `yaml:"ask_threshold"`
	BidThreshold       float64       `yaml:"bid_threshold"`
	Cooldown           time.Duration `yaml:"cooldown" validate:"min=0"`
	QueueSize          int           `yaml:"queue_size" validate:"min=1"`
	PublishTimeout     time.Duration `yaml:"publish_timeout" validate:"gt=0"`
	MaxPerSecond       float64       `yaml:"max_per_second" validate:"min=0"`
	Sinks              []string      `yaml:"sinks" validate:"dive,oneof=log redis kafka ws"`
	Redis              Redis         `yaml:"redis"`
	Kafka              Kafka         `yaml:"kafka"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"min=0"`
	Channel  string        `yaml:"channel"`
	TTL      time.Duration `yaml:"ttl" validate:"min=0"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Query struct {
	SortBy string            `yaml:"sort_by" validate:"oneof=volume arbitrage"`
	Icons  map[string]string `yaml:"icons"`
}

func defaults() Config {
	return Config{
		Port:       8080,
		LogLevel:   "info",
		BaseSymbol: "btc",
		Symbols:    "btc,eth,dot,powr,ltc,mana,near,zil,doge,bnb,iost,sand,gala,sol,avax",
		Exchanges:  exchange.DefaultRules(),
		Signal: Signal{
			Mode:               "arbitrage",
			ArbitrageThreshold: 0.025,
			QueueSize:          256,
			PublishTimeout:     10 * time.Millisecond,
			Sinks:              []string{"log", "ws"},
			Redis: Redis{
				Addr:    "127.0.0.1:6379",
				Channel: "signals",
				TTL:     time.Minute,
			},
			Kafka: Kafka{
				Brokers: []string{"127.0.0.1:9092"},
				Topic:   "hodler.signals",
			},
		},
		Query: Query{
			SortBy: "volume",
			Icons: map[string]string{
				"btc": "1", "eth": "1027", "dot": "6636", "powr": "2132", "ltc": "2",
				"mana": "1966", "near": "6535", "zil": "2469", "doge": "74", "bnb": "1839",
				"iost": "2405", "sand": "6210", "gala": "7080", "sol": "5426", "avax": "5805",
			},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnv(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HODLER_REDIS_PASSWORD"); v != "" {
		cfg.Signal.Redis.Password = v
	}
	if v := os.Getenv("HODLER_KAFKA_BROKERS"); v != "" {
		cfg.Signal.Kafka.Brokers = splitList(v)
	}
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.BaseSymbol = strings.ToLower(strings.TrimSpace(cfg.BaseSymbol))
	cfg.Signal.Mode = strings.ToLower(strings.TrimSpace(cfg.Signal.Mode))
	cfg.Query.SortBy = strings.ToLower(strings.TrimSpace(cfg.Query.SortBy))
	for i := range cfg.Signal.Sinks {
		cfg.Signal.Sinks[i] = strings.ToLower(strings.TrimSpace(cfg.Signal.Sinks[i]))
	}
	for i := range cfg.Exchanges {
		cfg.Exchanges[i].Name = strings.ToLower(strings.TrimSpace(cfg.Exchanges[i].Name))
	}
}

func validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := map[string]bool{}
	for _, r := range cfg.Exchanges {
		if seen[r.Name] {
			return fmt.Errorf("duplicate exchange %q", r.Name)
		}
		seen[r.Name] = true
	}
	if cfg.HasSink("redis") && cfg.Signal.Redis.Addr == "" {
		return errors.New("signal.redis.addr required for redis sink")
	}
	if cfg.HasSink("kafka") && (len(cfg.Signal.Kafka.Brokers) == 0 || cfg.Signal.Kafka.Topic == "") {
		return errors.New("signal.kafka.brokers and topic required for kafka sink")
	}
	return nil
}

// SymbolKeys is the parsed symbol list; it always contains the base symbol.
func (c Config) SymbolKeys() []string {
	return exchange.ParseSymbols(c.BaseSymbol + "," + c.Symbols)
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.Signal.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) Thresholds() oracle.Thresholds {
	mode, _ := oracle.ParseMode(c.Signal.Mode)
	return oracle.Thresholds{
		Mode:      mode,
		Arbitrage: decimalOf(c.Signal.ArbitrageThreshold),
		Ask:       decimalOf(c.Signal.AskThreshold),
		Bid:       decimalOf(c.Signal.BidThreshold),
	}
}

func (c Config) QueryOptions() query.Options {
	quotes := make(map[string]query.Quote, len(c.Exchanges))
	for _, r := range c.Exchanges {
		quotes[r.Name] = query.Quote{Code: r.QuoteCurrency, Symbol: r.CurrencySymbol}
	}
	return query.Options{
		BaseSymbol: c.BaseSymbol,
		SortBy:     query.SortBy(c.Query.SortBy),
		Quotes:     quotes,
		Icons:      c.Query.Icons,
	}
}

func decimalOf(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
