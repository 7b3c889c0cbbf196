// Package engine implements the synchronization & reconciliation core: the
// concurrent fetch pipeline, session-price derivation, and per-item
// deduplication accounting over the persistence gateway.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"investloader/internal/cache"
	"investloader/internal/calendar"
	"investloader/internal/domain"
	"investloader/internal/provider"
	"investloader/internal/store"
	"investloader/internal/util"
)

const closePriceBatchSize = 100

// Engine orchestrates sync runs: instrument resolution through the cache,
// calendar gating, rate-limited fetching, derivation, reconciliation, and
// persistence. All collaborators are injected.
type Engine struct {
	cache     *cache.InstrumentCache
	md        provider.MarketDataProvider
	instrProv provider.InstrumentProvider
	meta      store.InstrumentStore
	facts     store.FactStore
	archive   store.CandleArchive
	cal       *calendar.Calendar
	limiters  *util.LimiterSet
	pipeCfg   PipelineConfig
	loc       *time.Location
	log       *slog.Logger

	lastPipeline atomic.Pointer[Pipeline]
}

// Options bundles the Engine dependencies.
type Options struct {
	Cache         *cache.InstrumentCache
	MarketData    provider.MarketDataProvider
	Instruments   provider.InstrumentProvider
	MetadataStore store.InstrumentStore
	FactStore     store.FactStore
	CandleArchive store.CandleArchive
	Calendar      *calendar.Calendar
	Limiters      *util.LimiterSet
	Pipeline      PipelineConfig
	Location      *time.Location
	Logger        *slog.Logger
}

// New creates an Engine from the given options.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	cal := opts.Calendar
	if cal == nil {
		cal = calendar.New()
	}
	return &Engine{
		cache:     opts.Cache,
		md:        opts.MarketData,
		instrProv: opts.Instruments,
		meta:      opts.MetadataStore,
		facts:     opts.FactStore,
		archive:   opts.CandleArchive,
		cal:       cal,
		limiters:  opts.Limiters,
		pipeCfg:   opts.Pipeline,
		loc:       loc,
		log:       log.With("component", "engine"),
	}
}

// ---------------------------------------------------------------------------
// Instrument preload
// ---------------------------------------------------------------------------

// SyncInstruments refreshes the metadata store from the upstream instrument
// catalog for the given types (all types when empty) and invalidates the
// cache entries it touched.
func (e *Engine) SyncInstruments(ctx context.Context, types []domain.InstrumentType) (domain.SyncOutcome, error) {
	taskID := util.NewTaskID("instruments")
	if len(types) == 0 {
		types = domain.AllInstrumentTypes
	}

	var total int64
	for _, t := range types {
		instruments, err := e.instrProv.ListInstruments(ctx, t)
		if err != nil {
			return domain.SyncOutcome{
				TaskID:  taskID,
				Message: fmt.Sprintf("instrument catalog fetch failed for %s: %v", t, err),
			}, fmt.Errorf("listing %s instruments: %w", t, err)
		}
		if err := e.meta.UpsertInstruments(ctx, instruments); err != nil {
			return domain.SyncOutcome{
				TaskID:  taskID,
				Message: fmt.Sprintf("instrument store update failed for %s: %v", t, err),
			}, fmt.Errorf("upserting %s instruments: %w", t, err)
		}
		e.cache.Invalidate(t)
		total += int64(len(instruments))
		e.log.Info("instruments refreshed", "taskId", taskID, "type", string(t), "count", len(instruments))
	}

	return domain.SyncOutcome{
		Success:        true,
		TaskID:         taskID,
		Message:        fmt.Sprintf("refreshed %d instruments across %d types", total, len(types)),
		TotalRequested: total,
		NewItemsSaved:  total,
	}, nil
}

// ---------------------------------------------------------------------------
// Close prices (upstream batch endpoint)
// ---------------------------------------------------------------------------

// ClosePriceRequest selects the instruments for a close-price sync. When
// Instruments is empty, all RUB-denominated instruments of the given types
// (default shares and futures) are loaded.
type ClosePriceRequest struct {
	Instruments []string
	Types       []domain.InstrumentType
}

// SyncClosePrices fetches session close prices from the upstream batch
// endpoint in batches of 100, filters sentinel-dated quotes, skips already
// persisted natural keys, and saves the rest.
func (e *Engine) SyncClosePrices(ctx context.Context, req ClosePriceRequest) (domain.SyncOutcome, error) {
	taskID := util.NewTaskID("close")

	instruments, err := e.selectInstruments(ctx, req)
	if err != nil {
		return domain.SyncOutcome{TaskID: taskID, Message: err.Error()}, err
	}
	if len(instruments) == 0 {
		return domain.SyncOutcome{
			TaskID:  taskID,
			Message: "no instruments found for close-price sync",
		}, nil
	}

	acct := NewAccountant(e.facts, domain.SessionMain, e.log)
	byFIGI := make(map[string]domain.Instrument, len(instruments))
	figis := make([]string, 0, len(instruments))
	for _, in := range instruments {
		byFIGI[in.FIGI] = in
		figis = append(figis, in.FIGI)
	}

	limiter := e.limiter("GetClosePrices")
	prices := make(map[string]provider.ClosePrice, len(figis))
	for i := 0; i < len(figis); i += closePriceBatchSize {
		end := min(i+closePriceBatchSize, len(figis))
		batch := figis[i:end]

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break // cancelled: remaining instruments fall out as missing
			}
		}
		got, err := e.md.GetClosePrices(ctx, batch)
		if err != nil {
			// The batch degrades to missing for its instruments; siblings
			// are unaffected.
			e.log.Warn("close-price batch failed", "taskId", taskID, "size", len(batch), "err", err)
			continue
		}
		for _, p := range got {
			prices[p.FIGI] = p
		}
	}

	for _, figi := range figis {
		p, ok := prices[figi]
		if !ok {
			acct.RecordMissing(figi)
			continue
		}
		in := byFIGI[figi]
		fact := domain.ClosePriceFact{
			FIGI:                figi,
			TradingDate:         p.TradingDate,
			ClosePrice:          p.Price,
			EveningSessionPrice: p.EveningSessionPrice,
			InstrumentType:      in.Type,
			Currency:            in.Currency,
			Exchange:            in.Exchange,
		}
		if _, err := acct.Reconcile(ctx, fact); err != nil {
			e.log.Error("reconcile failed", "taskId", taskID, "figi", figi, "err", err)
		}
	}

	outcome := acct.Outcome()
	outcome.Success = true
	outcome.TaskID = taskID
	outcome.Message = syncMessage(outcome)
	e.logOutcome(taskID, "close-prices", outcome)
	return outcome, nil
}

// ---------------------------------------------------------------------------
// Session prices (derived from archived candles)
// ---------------------------------------------------------------------------

// SyncSessionPrices derives morning or evening session prices for all shares
// and futures on the given date from archived candle data. Weekends
// short-circuit before any work: no session, no vacuous price.
func (e *Engine) SyncSessionPrices(ctx context.Context, date time.Time, session domain.Session) (domain.SyncOutcome, error) {
	taskID := util.NewTaskID(string(session))

	if !e.cal.IsTradingDay(date, "") {
		e.log.Info("non-trading day, skipping", "taskId", taskID, "date", date.Format("2006-01-02"))
		return domain.SyncOutcome{
			TaskID:  taskID,
			Message: fmt.Sprintf("non-trading day: %s sessions are not held on %s", session, date.Format("2006-01-02")),
		}, nil
	}

	var instruments []domain.Instrument
	for _, t := range []domain.InstrumentType{domain.InstrumentShare, domain.InstrumentFuture} {
		ins, err := e.cache.Resolve(ctx, t, nil)
		if err != nil {
			return domain.SyncOutcome{TaskID: taskID, Message: err.Error()}, err
		}
		instruments = append(instruments, ins...)
	}
	if len(instruments) == 0 {
		return domain.SyncOutcome{
			TaskID:  taskID,
			Message: "no instruments found for session-price sync",
		}, nil
	}

	acct := NewAccountant(e.facts, session, e.log)

	workers := e.pipeCfg.ProcessingWorkers
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, in := range instruments {
		wg.Add(1)
		sem <- struct{}{}
		go func(in domain.Instrument) {
			defer wg.Done()
			defer func() { <-sem }()
			e.deriveAndReconcile(ctx, acct, in, date, session, taskID)
		}(in)
	}
	wg.Wait()

	outcome := acct.Outcome()
	outcome.Success = true
	outcome.TaskID = taskID
	outcome.Message = syncMessage(outcome)
	e.logOutcome(taskID, string(session)+"-session", outcome)
	return outcome, nil
}

func (e *Engine) deriveAndReconcile(ctx context.Context, acct *Accountant, in domain.Instrument, date time.Time, session domain.Session, taskID string) {
	// Natural-key precheck avoids the candle lookup entirely.
	exists, err := e.facts.ExistsFact(ctx, session, in.FIGI, dateOnly(date))
	if err == nil && exists {
		acct.RecordSkipped()
		return
	}

	candles, err := e.archive.ReadCandles(ctx, in.Exchange, in.FIGI, date)
	if err != nil {
		e.log.Warn("candle archive read failed", "taskId", taskID, "figi", in.FIGI, "err", err)
		acct.RecordMissing(in.FIGI)
		return
	}

	price, ok := DeriveSessionPrice(candles, date, e.loc, session)
	if !ok {
		acct.RecordMissing(in.FIGI)
		return
	}

	fact := domain.ClosePriceFact{
		FIGI:           in.FIGI,
		TradingDate:    dateOnly(date),
		ClosePrice:     price,
		InstrumentType: in.Type,
		Currency:       in.Currency,
		Exchange:       sessionExchange(in, session),
	}
	if _, err := acct.Reconcile(ctx, fact); err != nil {
		e.log.Error("reconcile failed", "taskId", taskID, "figi", in.FIGI, "err", err)
	}
}

// sessionExchange returns the exchange code stamped on derived evening
// facts. MOEX reports the extended weekend/evening share session and the
// FORTS evening session under dedicated codes.
func sessionExchange(in domain.Instrument, session domain.Session) string {
	if session != domain.SessionEvening {
		return in.Exchange
	}
	switch in.Type {
	case domain.InstrumentShare:
		return "moex_mrng_evng_e_wknd_dlr"
	case domain.InstrumentFuture:
		return "FORTS_EVENING"
	}
	return in.Exchange
}

// ---------------------------------------------------------------------------
// Candles (three-stage pipeline)
// ---------------------------------------------------------------------------

// CandleRequest selects instruments and dates for a candle sync run.
type CandleRequest struct {
	From        time.Time
	To          time.Time // inclusive; zero means From only
	Interval    provider.CandleInterval
	Types       []domain.InstrumentType
	Instruments []string
}

// SyncCandles fetches candles for every (instrument, trading date) pair
// through the rate-limited pipeline and archives them. Non-trading dates are
// gated out; a single-date weekend request short-circuits without touching
// the pipeline.
func (e *Engine) SyncCandles(ctx context.Context, req CandleRequest) (domain.SyncOutcome, error) {
	taskID := util.NewTaskID("candles")

	to := req.To
	if to.IsZero() {
		to = req.From
	}
	var dates []time.Time
	for d := dateOnly(req.From); !d.After(dateOnly(to)); d = d.AddDate(0, 0, 1) {
		if e.cal.IsTradingDay(d, "") {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return domain.SyncOutcome{
			TaskID:  taskID,
			Message: "non-trading day: no candle sessions in the requested range",
		}, nil
	}

	instruments, err := e.selectInstruments(ctx, ClosePriceRequest{Instruments: req.Instruments, Types: req.Types})
	if err != nil {
		return domain.SyncOutcome{TaskID: taskID, Message: err.Error()}, err
	}
	if len(instruments) == 0 {
		return domain.SyncOutcome{
			TaskID:  taskID,
			Message: "no instruments found for candle sync",
		}, nil
	}

	interval := req.Interval
	if interval == "" {
		interval = provider.IntervalMinute
	}
	units := make([]FetchUnit, 0, len(instruments)*len(dates))
	for _, in := range instruments {
		for _, d := range dates {
			units = append(units, FetchUnit{Instrument: in, Date: d, Interval: interval})
		}
	}

	acct := NewAccountant(e.facts, domain.SessionMain, e.log)
	pipe := NewPipeline(e.md, e.limiter("GetCandles"), e.pipeCfg, e.log)
	e.lastPipeline.Store(pipe)

	pipe.Run(ctx, units, func(ctx context.Context, batch []UnitResult) {
		e.processCandleBatch(ctx, acct, batch, taskID)
	})

	outcome := acct.Outcome()
	outcome.Success = true
	outcome.TaskID = taskID
	outcome.Message = syncMessage(outcome)
	e.logOutcome(taskID, "candles", outcome)
	return outcome, nil
}

// processCandleBatch archives one batch of unit results and accounts every
// unit exactly once.
func (e *Engine) processCandleBatch(ctx context.Context, acct *Accountant, batch []UnitResult, taskID string) {
	for _, r := range batch {
		figi := r.Unit.Instrument.FIGI
		if r.Err != nil || len(r.Candles) == 0 {
			acct.RecordMissing(figi)
			continue
		}

		exchange := r.Unit.Instrument.Exchange
		existing, err := e.archive.ReadCandles(ctx, exchange, figi, r.Unit.Date)
		if err != nil {
			e.log.Warn("archive read failed", "taskId", taskID, "figi", figi, "err", err)
		}
		if !hasNewCandles(existing, r.Candles) {
			acct.RecordSkipped()
			continue
		}

		if err := e.archive.WriteCandles(ctx, exchange, r.Candles); err != nil {
			e.log.Error("archive write failed", "taskId", taskID, "figi", figi, "err", err)
			acct.RecordMissing(figi)
			continue
		}
		acct.RecordSavedUnit()
	}
}

// hasNewCandles reports whether incoming contains a timestamp absent from
// existing.
func hasNewCandles(existing, incoming []domain.Candle) bool {
	if len(existing) == 0 {
		return len(incoming) > 0
	}
	seen := make(map[int64]struct{}, len(existing))
	for _, c := range existing {
		seen[c.Time.UnixMilli()] = struct{}{}
	}
	for _, c := range incoming {
		if _, ok := seen[c.Time.UnixMilli()]; !ok {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// selectInstruments resolves the instrument set for a run: explicit FIGIs
// bypass the currency filter; otherwise all RUB instruments of the requested
// types (default shares and futures).
func (e *Engine) selectInstruments(ctx context.Context, req ClosePriceRequest) ([]domain.Instrument, error) {
	if len(req.Instruments) > 0 {
		want := make(map[string]struct{}, len(req.Instruments))
		for _, f := range req.Instruments {
			want[f] = struct{}{}
		}
		var out []domain.Instrument
		for _, t := range domain.AllInstrumentTypes {
			ins, err := e.cache.Resolve(ctx, t, func(in domain.Instrument) bool {
				_, ok := want[in.FIGI]
				return ok
			})
			if err != nil {
				return nil, fmt.Errorf("resolving instruments: %w", err)
			}
			out = append(out, ins...)
		}
		return out, nil
	}

	types := req.Types
	if len(types) == 0 {
		types = []domain.InstrumentType{domain.InstrumentShare, domain.InstrumentFuture}
	}
	var out []domain.Instrument
	for _, t := range types {
		ins, err := e.cache.Resolve(ctx, t, func(in domain.Instrument) bool {
			return in.Currency == "RUB" || in.Currency == "rub"
		})
		if err != nil {
			return nil, fmt.Errorf("resolving %s instruments: %w", t, err)
		}
		out = append(out, ins...)
	}
	return out, nil
}

func (e *Engine) limiter(endpoint string) *util.RateLimiter {
	if e.limiters == nil {
		return nil
	}
	return e.limiters.Endpoint(endpoint)
}

// PipelineStats returns pool metrics from the most recent candle sync, or
// nil if none ran yet.
func (e *Engine) PipelineStats() []PoolStats {
	pipe := e.lastPipeline.Load()
	if pipe == nil {
		return nil
	}
	return pipe.Stats()
}

// SessionPrices returns the persisted facts for one session and date.
func (e *Engine) SessionPrices(ctx context.Context, session domain.Session, date time.Time) ([]domain.ClosePriceFact, error) {
	return e.facts.ListFacts(ctx, session, dateOnly(date))
}

// Instruments returns the cached instrument universe for one type.
func (e *Engine) Instruments(ctx context.Context, t domain.InstrumentType) ([]domain.Instrument, error) {
	return e.cache.Resolve(ctx, t, nil)
}

// CacheStatus exposes the instrument cache freshness per type.
func (e *Engine) CacheStatus() map[string]cache.EntryStatus {
	out := make(map[string]cache.EntryStatus, len(domain.AllInstrumentTypes))
	for _, t := range domain.AllInstrumentTypes {
		out[string(t)] = e.cache.Status(t)
	}
	return out
}

func (e *Engine) logOutcome(taskID, kind string, o domain.SyncOutcome) {
	e.log.Info("sync run finished",
		"taskId", taskID,
		"kind", kind,
		"totalRequested", o.TotalRequested,
		"newItemsSaved", o.NewItemsSaved,
		"existingItemsSkipped", o.ExistingItemsSkipped,
		"invalidItemsFiltered", o.InvalidItemsFiltered,
		"missingFromApi", o.MissingFromAPI,
	)
}

func syncMessage(o domain.SyncOutcome) string {
	if o.NewItemsSaved == 0 {
		if o.ExistingItemsSkipped > 0 {
			return fmt.Sprintf("no new items: all %d found items already persisted", o.ExistingItemsSkipped)
		}
		return "no new items found"
	}
	return fmt.Sprintf("requested %d items: saved %d new, skipped %d existing, filtered %d invalid, %d missing from api",
		o.TotalRequested, o.NewItemsSaved, o.ExistingItemsSkipped, o.InvalidItemsFiltered, o.MissingFromAPI)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
