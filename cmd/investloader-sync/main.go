// investloader-sync runs one sync job from the command line and prints the
// outcome as JSON. Useful for backfills and cron-driven environments that
// don't run the long-lived server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"investloader/internal/cache"
	"investloader/internal/calendar"
	"investloader/internal/config"
	"investloader/internal/domain"
	"investloader/internal/engine"
	"investloader/internal/provider"
	"investloader/internal/store"
	"investloader/internal/util"
)

const defaultEndpoint = "invest-public-api.tinkoff.ru:443"

func main() {
	var (
		cfgPath  = flag.String("config", "config/investloader.yaml", "path to the YAML config")
		job      = flag.String("job", "", "job to run: close-prices, evening, morning, candles, instruments")
		dateStr  = flag.String("date", "", "trading date YYYY-MM-DD (default: yesterday)")
		toStr    = flag.String("to", "", "inclusive range end YYYY-MM-DD for candles")
		interval = flag.String("interval", "1min", "candle interval: 1min, hour, day")
		figis    = flag.String("figi", "", "comma-separated FIGI list (default: all RUB shares and futures)")
		typesStr = flag.String("types", "", "comma-separated instrument types")
	)
	flag.Parse()

	_ = godotenv.Load()

	if p := os.Getenv("INVESTLOADER_CONFIG"); p != "" && !isFlagSet("config") {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	date := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	if *dateStr != "" {
		if date, err = time.Parse("2006-01-02", *dateStr); err != nil {
			log.Fatalf("parsing -date: %v", err)
		}
	}
	var to time.Time
	if *toStr != "" {
		if to, err = time.Parse("2006-01-02", *toStr); err != nil {
			log.Fatalf("parsing -to: %v", err)
		}
	}

	types, err := parseTypes(*typesStr)
	if err != nil {
		log.Fatal(err)
	}
	instruments := splitList(*figis)

	sqlStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer sqlStore.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	endpoint := cfg.TInvest.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	tinvest, err := provider.NewTInvestProvider(ctx, endpoint, cfg.TInvest.Token, cfg.TInvest.AppName, cfg.Location(), logger)
	if err != nil {
		log.Fatalf("connecting to t-invest api: %v", err)
	}
	defer tinvest.Stop()

	eng := engine.New(engine.Options{
		Cache:         cache.NewInstrumentCache(sqlStore, cfg.Sync.InstrumentCacheTTL, logger),
		MarketData:    tinvest,
		Instruments:   tinvest,
		MetadataStore: sqlStore,
		FactStore:     sqlStore,
		CandleArchive: store.NewParquetArchive(cfg.Storage.DataDir),
		Calendar:      calendar.New(),
		Limiters:      util.NewLimiterSet(cfg.Sync.RateLimitPerMin, cfg.Sync.RateBurst),
		Pipeline: engine.PipelineConfig{
			APIWorkers:        cfg.Sync.APIWorkers,
			BatchWorkers:      cfg.Sync.BatchWorkers,
			ProcessingWorkers: cfg.Sync.ProcessingWorkers,
			BatchSize:         cfg.Sync.BatchSize,
			UnitTimeout:       cfg.Sync.UnitTimeout,
		},
		Location: cfg.Location(),
		Logger:   logger,
	})

	var outcome domain.SyncOutcome
	switch *job {
	case "close-prices":
		outcome, err = eng.SyncClosePrices(ctx, engine.ClosePriceRequest{Instruments: instruments, Types: types})
	case "evening":
		outcome, err = eng.SyncSessionPrices(ctx, date, domain.SessionEvening)
	case "morning":
		outcome, err = eng.SyncSessionPrices(ctx, date, domain.SessionMorning)
	case "candles":
		outcome, err = eng.SyncCandles(ctx, engine.CandleRequest{
			From:        date,
			To:          to,
			Interval:    provider.CandleInterval(*interval),
			Types:       types,
			Instruments: instruments,
		})
	case "instruments":
		outcome, err = eng.SyncInstruments(ctx, types)
	default:
		flag.Usage()
		log.Fatalf("unknown -job %q", *job)
	}
	if err != nil {
		log.Fatalf("job %s failed: %v", *job, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		log.Fatalf("encoding outcome: %v", err)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTypes(s string) ([]domain.InstrumentType, error) {
	var out []domain.InstrumentType
	for _, raw := range splitList(s) {
		t, ok := domain.ParseInstrumentType(raw)
		if !ok {
			return nil, fmt.Errorf("unknown instrument type %q", raw)
		}
		out = append(out, t)
	}
	return out, nil
}
