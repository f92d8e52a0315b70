// Package main is the entry point for the momentum trading bot: a single
// long-running process that streams pump.fun-style launch/trade/bonding/
// migration events, scores every live token every 15 seconds and routes
// entries and exits through the executor (spec.md section 6).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/trading-backend/internal/backtest"
	"github.com/atlas-desktop/trading-backend/internal/chain"
	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/dashboard"
	"github.com/atlas-desktop/trading-backend/internal/eventsource"
	"github.com/atlas-desktop/trading-backend/internal/orchestrator"
	"github.com/atlas-desktop/trading-backend/internal/quote"
	"github.com/atlas-desktop/trading-backend/internal/report"
	"github.com/atlas-desktop/trading-backend/internal/store"
	"github.com/atlas-desktop/trading-backend/pkg/types"

	"github.com/go-redis/redis/v8"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars always win)")
	logLevel := flag.String("log-level", "", "override BOT_LOG_LEVEL")
	backtestFixture := flag.String("backtest", "", "path to a YAML token-timeline fixture; if set, replays it offline and writes reports instead of running live")
	flag.Parse()

	appCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		appCfg.LogLevel = *logLevel
	}

	logger := setupLogger(appCfg.LogLevel)
	defer logger.Sync()

	if *backtestFixture != "" {
		if err := runBacktest(logger, appCfg, *backtestFixture); err != nil {
			logger.Fatal("backtest run failed", zap.Error(err))
		}
		return
	}

	logger.Info("starting momentum trading bot",
		zap.Bool("paper_trading", appCfg.PaperTrading),
		zap.String("event_source", appCfg.EventSourceURL),
		zap.String("database", appCfg.DatabaseDSN),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewWall()
	solToken := types.TokenId{} // zero id stands in for native SOL throughout quoting

	wallets := parseWallets(logger, appCfg.WalletKeys)

	st := newStore(appCfg)
	eventSrc := eventsource.NewWebSocketSource(appCfg.EventSourceURL, logger)

	var orch *orchestrator.Orchestrator
	priceLookup := func(token types.TokenId) (float64, bool) {
		if orch == nil {
			return 0, false
		}
		return orch.PriceLookup(token)
	}

	var quotes quote.Provider = quote.NewPaper(clk, priceLookup)
	quotes = quote.NewCache(quotes, appCfg.QuoteTTL, clk)
	if appCfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: appCfg.RedisAddr})
		quotes = quote.NewRedisCache(quotes, client, appCfg.QuoteTTL)
	}

	orch = orchestrator.NewFromConfig(logger, appCfg, clk, eventSrc, quotes, st, wallets, solToken)

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}
	logger.Info("bot running")

	dashCfg := dashboard.DefaultConfig()
	if appCfg.Host != "" {
		dashCfg.Host = appCfg.Host
	}
	if appCfg.Port != 0 {
		dashCfg.Port = appCfg.Port
	}
	dash := dashboard.New(dashCfg, orch, logger)
	go func() {
		if err := dash.Start(ctx); err != nil {
			logger.Warn("dashboard server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), orchestrator.DefaultConfig().ShutdownGrace)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		logger.Error("error stopping orchestrator", zap.Error(err))
		os.Exit(1)
	}
}

// runBacktest replays a YAML token-timeline fixture through the backtest
// engine and writes a text summary plus trades/equity-curve/daily-P&L CSVs
// to appCfg.ReportDir, giving the offline replay path (spec.md section 6,
// "Reports (exposed)") a CLI entry point instead of only test coverage.
func runBacktest(logger *zap.Logger, appCfg *config.Config, fixturePath string) error {
	f, err := os.Open(fixturePath)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	timelines, err := backtest.LoadTimelinesYAML(f)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}
	events := backtest.MergeTimelines(timelines)
	logger.Info("replaying backtest fixture",
		zap.String("fixture", fixturePath),
		zap.Int("tokens", len(timelines)),
		zap.Int("events", len(events)),
	)

	cfg := backtest.DefaultConfig()
	cfg.StartingCapital = appCfg.StartingCapital()

	engine := backtest.NewEngine(cfg, logger)
	result, err := engine.Run(context.Background(), events)
	if err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}

	if err := os.MkdirAll(appCfg.ReportDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	run := report.NewRun(result)
	if err := writeReportFile(appCfg.ReportDir, run.ID+"-summary.txt", run.WriteSummary); err != nil {
		return err
	}
	if err := writeReportFile(appCfg.ReportDir, run.ID+"-trades.csv", run.WriteTradesCSV); err != nil {
		return err
	}
	if err := writeReportFile(appCfg.ReportDir, run.ID+"-equity.csv", run.WriteEquityCurveCSV); err != nil {
		return err
	}
	if err := writeReportFile(appCfg.ReportDir, run.ID+"-daily-pnl.csv", func(w io.Writer) error {
		return report.WriteDailyPnLCSV(w, result.DailyPnL)
	}); err != nil {
		return err
	}

	logger.Info("backtest report written", zap.String("report_id", run.ID), zap.String("dir", appCfg.ReportDir))
	return nil
}

func writeReportFile(dir, name string, write func(io.Writer) error) error {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return write(f)
}

// newStore picks SQLite for a file-shaped DSN (the offline/backtest default)
// and MySQL for anything that looks like a DSN with host/credentials.
func newStore(appCfg *config.Config) store.Store {
	if looksLikeMySQLDSN(appCfg.DatabaseDSN) {
		return store.NewGormStore(appCfg.DatabaseDSN)
	}
	return store.NewSQLiteStore(appCfg.DatabaseDSN)
}

func looksLikeMySQLDSN(dsn string) bool {
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == '@' {
			return true
		}
	}
	return false
}

func parseWallets(logger *zap.Logger, keys []string) []chain.PublicKey {
	wallets := make([]chain.PublicKey, 0, len(keys))
	for _, k := range keys {
		pk, err := chain.ParsePublicKey(k)
		if err != nil {
			logger.Warn("skipping unparseable wallet key", zap.Error(err))
			continue
		}
		wallets = append(wallets, pk)
	}
	return wallets
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
