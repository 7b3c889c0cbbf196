package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"investloader/internal/api"
	"investloader/internal/cache"
	"investloader/internal/calendar"
	"investloader/internal/config"
	"investloader/internal/domain"
	"investloader/internal/engine"
	"investloader/internal/provider"
	"investloader/internal/sched"
	"investloader/internal/store"
	"investloader/internal/util"
)

const defaultEndpoint = "invest-public-api.tinkoff.ru:443"

func main() {
	_ = godotenv.Load()

	cfgPath := "config/investloader.yaml"
	if p := os.Getenv("INVESTLOADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	sqlStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer sqlStore.Close()

	archive := store.NewParquetArchive(cfg.Storage.DataDir)
	loc := cfg.Location()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	endpoint := cfg.TInvest.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	tinvest, err := provider.NewTInvestProvider(ctx, endpoint, cfg.TInvest.Token, cfg.TInvest.AppName, loc, logger)
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
		CandleArchive: archive,
		Calendar:      calendar.New(),
		Limiters:      util.NewLimiterSet(cfg.Sync.RateLimitPerMin, cfg.Sync.RateBurst),
		Pipeline: engine.PipelineConfig{
			APIWorkers:        cfg.Sync.APIWorkers,
			BatchWorkers:      cfg.Sync.BatchWorkers,
			ProcessingWorkers: cfg.Sync.ProcessingWorkers,
			BatchSize:         cfg.Sync.BatchSize,
			UnitTimeout:       cfg.Sync.UnitTimeout,
		},
		Location: loc,
		Logger:   logger,
	})

	if cfg.Schedule.Enabled {
		scheduler, err := buildScheduler(cfg, eng, logger)
		if err != nil {
			log.Fatalf("building scheduler: %v", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(eng, addr, logger)
	if err := server.ListenAndServe(ctx); err != nil {
		log.Fatalf("http server: %v", err)
	}
}

// buildScheduler wires the nightly jobs: the evening run fetches yesterday's
// candles and derives evening-session prices, the morning run derives the
// same day's morning open shortly after the auction.
func buildScheduler(cfg *config.Config, eng *engine.Engine, logger *slog.Logger) (*sched.Scheduler, error) {
	eveningAt, err := sched.ParseClockTime(cfg.Schedule.EveningAt)
	if err != nil {
		return nil, err
	}
	morningAt, err := sched.ParseClockTime(cfg.Schedule.MorningAt)
	if err != nil {
		return nil, err
	}

	scheduler := sched.New(cfg.Location(), logger)

	scheduler.Add(sched.Job{
		Name:      "evening-session",
		At:        eveningAt,
		DayOffset: -1,
		Run: func(ctx context.Context, date time.Time) (domain.SyncOutcome, error) {
			if out, err := eng.SyncCandles(ctx, engine.CandleRequest{From: date}); err != nil {
				return out, err
			}
			return eng.SyncSessionPrices(ctx, date, domain.SessionEvening)
		},
	})
	scheduler.Add(sched.Job{
		Name:      "morning-session",
		At:        morningAt,
		DayOffset: 0,
		Run: func(ctx context.Context, date time.Time) (domain.SyncOutcome, error) {
			if out, err := eng.SyncCandles(ctx, engine.CandleRequest{From: date}); err != nil {
				return out, err
			}
			return eng.SyncSessionPrices(ctx, date, domain.SessionMorning)
		},
	})
	if cfg.Schedule.ClosePrices != "" {
		closeAt, err := sched.ParseClockTime(cfg.Schedule.ClosePrices)
		if err != nil {
			return nil, err
		}
		scheduler.Add(sched.Job{
			Name: "close-prices",
			At:   closeAt,
			Run: func(ctx context.Context, _ time.Time) (domain.SyncOutcome, error) {
				return eng.SyncClosePrices(ctx, engine.ClosePriceRequest{})
			},
		})
	}
	return scheduler, nil
}
