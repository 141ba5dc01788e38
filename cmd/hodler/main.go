package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"hodler/internal/config"
	"hodler/internal/exchange"
	"hodler/internal/oracle"
	"hodler/internal/server"
	signals "hodler/internal/signal"
	"hodler/internal/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	mock := flag.Bool("mock", false, "replay canned ticks instead of dialing exchanges")
	flag.Parse()

	_ = godotenv.Load() // best-effort: .env is optional

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("hodler starting",
		slog.Int("port", cfg.Port),
		slog.String("base_symbol", cfg.BaseSymbol),
		slog.String("signal_mode", cfg.Signal.Mode),
		slog.Any("sinks", cfg.Signal.Sinks),
	)

	// Bind first: failing to get the port is the only fatal runtime error.
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		logger.Error("listen failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Sinks; the ws hub joins once the server exists.
	sinks, closers := buildSinks(cfg, logger)
	dispatcher := signals.NewDispatcher(&sinks, signals.Options{
		QueueSize:    cfg.Signal.QueueSize,
		Timeout:      cfg.Signal.PublishTimeout,
		MaxPerSecond: cfg.Signal.MaxPerSecond,
	}, logger)

	st := state.NewState(cfg.BaseSymbol, oracle.NewEvaluator(cfg.Thresholds()), dispatcher, cfg.Signal.Cooldown, logger)

	srv := server.NewHTTPServer(st, cfg.QueryOptions(), logger)
	if cfg.HasSink("ws") {
		sinks = append(sinks, srv.Hub())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx)

	var sources []exchange.Source
	if *mock {
		sources = mockSources(st)
	} else {
		for _, r := range cfg.Exchanges {
			sources = append(sources, exchange.NewFeed(r, cfg.SymbolKeys(), st, exchange.FeedOptions{}, logger))
		}
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		st.SetConnected(src.Name(), false)
		wg.Add(1)
		go func(src exchange.Source) {
			defer wg.Done()
			src.Run(ctx, func(name string, connected bool) {
				st.SetConnected(name, connected)
				srv.Hub().BroadcastStatus(name, connected)
				logger.Info("feed status", slog.String("exchange", name), slog.Bool("connected", connected))
			})
		}(src)
	}

	httpSrv := &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	// Graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	_ = httpSrv.Shutdown(shCtx)
	cancel()
	wg.Wait()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("sink close", slog.String("err", err.Error()))
		}
	}
	<-done
	logger.Info("bye")
}

func buildSinks(cfg config.Config, logger *slog.Logger) (signals.MultiSink, []io.Closer) {
	var (
		sinks   signals.MultiSink
		closers []io.Closer
	)
	if cfg.HasSink("log") {
		sinks = append(sinks, signals.NewLogSink(logger))
	}
	if cfg.HasSink("redis") {
		rs := signals.NewRedisSink(signals.RedisOptions{
			Addr:     cfg.Signal.Redis.Addr,
			Password: cfg.Signal.Redis.Password,
			DB:       cfg.Signal.Redis.DB,
			Channel:  cfg.Signal.Redis.Channel,
			TTL:      cfg.Signal.Redis.TTL,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, signals will be dropped until it is back",
				slog.String("addr", cfg.Signal.Redis.Addr),
				slog.String("err", err.Error()),
			)
		}
		cancel()
		sinks = append(sinks, rs)
		closers = append(closers, rs)
	}
	if cfg.HasSink("kafka") {
		ks := signals.NewKafkaSink(cfg.Signal.Kafka.Brokers, cfg.Signal.Kafka.Topic)
		sinks = append(sinks, ks)
		closers = append(closers, ks)
	}
	return sinks, closers
}

// mockSources replays a binance/bitkub ETH session where bitkub's bid jumps
// past binance's.
func mockSources(in exchange.Ingester) []exchange.Source {
	d := decimal.RequireFromString
	tick := func(key, ask, bid string) oracle.MarketTick {
		return oracle.MarketTick{Symbol: key, SymbolKey: key, Ask: d(ask), Bid: d(bid)}
	}
	return []exchange.Source{
		exchange.NewMockFeed("binance", in,
			tick("btc", "30000", "29990"),
			tick("eth", "2000", "1995"),
		),
		exchange.NewMockFeed("bitkub", in,
			tick("btc", "900000", "899000"),
			tick("eth", "60300", "59800"),
			tick("eth", "60300", "60200"),
		),
	}
}
