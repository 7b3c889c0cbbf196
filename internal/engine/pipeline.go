package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"investloader/internal/domain"
	"investloader/internal/provider"
	"investloader/internal/util"
)

// FetchUnit is one (instrument, date, interval) request against the upstream
// candle endpoint.
type FetchUnit struct {
	Instrument domain.Instrument
	Date       time.Time
	Interval   provider.CandleInterval
}

// UnitResult carries the candles (or the isolated failure) for one unit.
// A unit error never aborts sibling units; the processing stage reclassifies
// it as missing-from-API.
type UnitResult struct {
	Unit    FetchUnit
	Candles []domain.Candle
	Err     error
}

// BatchProcessor consumes one grouped batch of unit results. Invoked from
// the processing-stage pool, so implementations must be concurrency-safe.
type BatchProcessor func(ctx context.Context, batch []UnitResult)

// PoolStats is a snapshot of one stage's worker pool, mirroring the
// performance diagnostic surface.
type PoolStats struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	Active     int64  `json:"active"`
	QueueDepth int    `json:"queueDepth"`
	Processed  int64  `json:"processed"`
}

// Pipeline is the three-stage concurrent fetch pipeline: an API stage bounded
// by the upstream concurrency ceiling, a batch stage that groups results to
// amortise downstream I/O, and a processing stage that reconciles and
// persists. Each stage has its own pool so a burst in one cannot starve
// another.
type Pipeline struct {
	md          provider.MarketDataProvider
	limiter     *util.RateLimiter
	apiWorkers  int
	batchWorks  int
	procWorkers int
	batchSize   int
	unitTimeout time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	unitCh  chan FetchUnit
	batchCh chan []UnitResult

	apiActive     atomic.Int64
	batchActive   atomic.Int64
	procActive    atomic.Int64
	apiProcessed  atomic.Int64
	procProcessed atomic.Int64
}

// PipelineConfig sizes the three pools.
type PipelineConfig struct {
	APIWorkers        int
	BatchWorkers      int
	ProcessingWorkers int
	BatchSize         int
	UnitTimeout       time.Duration
}

// NewPipeline creates a Pipeline over the given market-data provider and
// rate limiter.
func NewPipeline(md provider.MarketDataProvider, limiter *util.RateLimiter, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.APIWorkers <= 0 {
		cfg.APIWorkers = 10
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 2
	}
	if cfg.ProcessingWorkers <= 0 {
		cfg.ProcessingWorkers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = 30 * time.Second
	}
	return &Pipeline{
		md:          md,
		limiter:     limiter,
		apiWorkers:  cfg.APIWorkers,
		batchWorks:  cfg.BatchWorkers,
		procWorkers: cfg.ProcessingWorkers,
		batchSize:   cfg.BatchSize,
		unitTimeout: cfg.UnitTimeout,
		log:         log.With("component", "pipeline"),
	}
}

// Run pushes every unit through the three stages and blocks until the
// processing stage has consumed the last batch. Every submitted unit yields
// exactly one UnitResult, cancelled or not, so callers can account each
// (instrument, date) pair. Caller cancellation stops new upstream calls but
// lets in-flight units drain through processing.
func (p *Pipeline) Run(ctx context.Context, units []FetchUnit, process BatchProcessor) {
	unitCh := make(chan FetchUnit, len(units))
	resultCh := make(chan UnitResult, len(units))
	batchCh := make(chan []UnitResult, p.batchWorks*2)

	p.mu.Lock()
	p.unitCh = unitCh
	p.batchCh = batchCh
	p.mu.Unlock()

	for _, u := range units {
		unitCh <- u
	}
	close(unitCh)

	// API stage.
	var apiWG sync.WaitGroup
	for w := 0; w < p.apiWorkers; w++ {
		apiWG.Add(1)
		go func() {
			defer apiWG.Done()
			p.apiWorker(ctx, unitCh, resultCh)
		}()
	}

	// Batch stage: each worker accumulates its own batch and flushes at
	// batchSize or when the result stream ends.
	var batchWG sync.WaitGroup
	for w := 0; w < p.batchWorks; w++ {
		batchWG.Add(1)
		go func() {
			defer batchWG.Done()
			p.batchWorker(resultCh, batchCh)
		}()
	}

	// Processing stage.
	var procWG sync.WaitGroup
	for w := 0; w < p.procWorkers; w++ {
		procWG.Add(1)
		go func() {
			defer procWG.Done()
			for batch := range batchCh {
				p.procActive.Add(1)
				process(ctx, batch)
				p.procActive.Add(-1)
				p.procProcessed.Add(int64(len(batch)))
			}
		}()
	}

	apiWG.Wait()
	close(resultCh)
	batchWG.Wait()
	close(batchCh)
	procWG.Wait()
}

func (p *Pipeline) apiWorker(ctx context.Context, units <-chan FetchUnit, results chan<- UnitResult) {
	for u := range units {
		// On caller cancellation stop issuing upstream calls, but still
		// emit a result so accounting stays complete.
		if err := ctx.Err(); err != nil {
			results <- UnitResult{Unit: u, Err: err}
			continue
		}

		p.apiActive.Add(1)
		results <- p.fetchUnit(ctx, u)
		p.apiActive.Add(-1)
		p.apiProcessed.Add(1)
	}
}

func (p *Pipeline) fetchUnit(ctx context.Context, u FetchUnit) UnitResult {
	uctx, cancel := context.WithTimeout(ctx, p.unitTimeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(uctx); err != nil {
			return UnitResult{Unit: u, Err: err}
		}
	}

	candles, err := p.md.GetCandles(uctx, u.Instrument.FIGI, u.Date, u.Interval)
	if err != nil {
		p.log.Warn("unit fetch failed",
			"figi", u.Instrument.FIGI,
			"date", u.Date.Format("2006-01-02"),
			"err", err,
		)
		return UnitResult{Unit: u, Err: err}
	}
	return UnitResult{Unit: u, Candles: candles}
}

func (p *Pipeline) batchWorker(results <-chan UnitResult, batches chan<- []UnitResult) {
	batch := make([]UnitResult, 0, p.batchSize)
	for r := range results {
		p.batchActive.Add(1)
		batch = append(batch, r)
		if len(batch) >= p.batchSize {
			batches <- batch
			batch = make([]UnitResult, 0, p.batchSize)
		}
		p.batchActive.Add(-1)
	}
	if len(batch) > 0 {
		batches <- batch
	}
}

// Stats returns a snapshot of the three stage pools.
func (p *Pipeline) Stats() []PoolStats {
	p.mu.Lock()
	unitDepth, batchDepth := 0, 0
	if p.unitCh != nil {
		unitDepth = len(p.unitCh)
	}
	if p.batchCh != nil {
		batchDepth = len(p.batchCh)
	}
	p.mu.Unlock()

	return []PoolStats{
		{
			Name:       "api",
			Workers:    p.apiWorkers,
			Active:     p.apiActive.Load(),
			QueueDepth: unitDepth,
			Processed:  p.apiProcessed.Load(),
		},
		{
			Name:    "batch",
			Workers: p.batchWorks,
			Active:  p.batchActive.Load(),
		},
		{
			Name:       "processing",
			Workers:    p.procWorkers,
			Active:     p.procActive.Load(),
			QueueDepth: batchDepth,
			Processed:  p.procProcessed.Load(),
		},
	}
}
