package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"investloader/internal/domain"
	"investloader/internal/store"
)

// Outcome classifies one candidate fact during reconciliation.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeDuplicate
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "NEW"
	case OutcomeDuplicate:
		return "DUPLICATE"
	case OutcomeInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Accountant reconciles candidate facts against persisted state and
// accumulates per-run counts. It is safe for concurrent use by the
// processing-stage pool; counters are atomic and the final totals satisfy
//
//	total == saved + skipped + invalid + missing.
type Accountant struct {
	facts   store.FactStore
	session domain.Session
	log     *slog.Logger

	total   atomic.Int64
	saved   atomic.Int64
	skipped atomic.Int64
	invalid atomic.Int64
	missing atomic.Int64

	mu         sync.Mutex
	savedItems []domain.ClosePriceFact
}

// NewAccountant creates an Accountant persisting into the given session's
// fact table.
func NewAccountant(facts store.FactStore, session domain.Session, log *slog.Logger) *Accountant {
	if log == nil {
		log = slog.Default()
	}
	return &Accountant{
		facts:   facts,
		session: session,
		log:     log.With("component", "accountant", "session", string(session)),
	}
}

// Reconcile classifies the candidate and, for NEW facts, persists it. The
// in-process existence check is a fast path; the storage unique constraint
// is the final arbiter, so a constraint-violation race is reported as
// DUPLICATE, not an error.
func (a *Accountant) Reconcile(ctx context.Context, fact domain.ClosePriceFact) (Outcome, error) {
	a.total.Add(1)

	if fact.HasSentinelDate() || fact.ClosePrice.Sign() <= 0 {
		a.invalid.Add(1)
		a.log.Debug("filtered invalid fact",
			"figi", fact.FIGI,
			"tradingDate", fact.TradingDate.Format("2006-01-02"),
		)
		return OutcomeInvalid, nil
	}

	exists, err := a.facts.ExistsFact(ctx, a.session, fact.FIGI, fact.TradingDate)
	if err != nil {
		// Existence check is an optimisation only; fall through to the
		// insert and let the constraint decide.
		a.log.Warn("existence check failed, relying on constraint", "figi", fact.FIGI, "err", err)
	} else if exists {
		a.skipped.Add(1)
		return OutcomeDuplicate, nil
	}

	if err := a.facts.SaveFact(ctx, a.session, fact); err != nil {
		if errors.Is(err, store.ErrDuplicateFact) {
			a.skipped.Add(1)
			return OutcomeDuplicate, nil
		}
		// Storage failure: the item never reached persisted state, so it is
		// accounted like a missing unit and retried on a later run.
		a.missing.Add(1)
		return OutcomeInvalid, fmt.Errorf("saving fact %s: %w", fact.FIGI, err)
	}

	a.saved.Add(1)
	a.mu.Lock()
	a.savedItems = append(a.savedItems, fact)
	a.mu.Unlock()
	return OutcomeNew, nil
}

// RecordMissing accounts one (instrument, date) pair the upstream returned
// no data for.
func (a *Accountant) RecordMissing(figi string) {
	a.total.Add(1)
	a.missing.Add(1)
	a.log.Debug("missing from api", "figi", figi)
}

// RecordSkipped accounts one pair whose natural key was already persisted,
// detected before any fetch happened.
func (a *Accountant) RecordSkipped() {
	a.total.Add(1)
	a.skipped.Add(1)
}

// RecordSavedUnit accounts one unit persisted outside the fact store, such
// as a candle batch written to the archive.
func (a *Accountant) RecordSavedUnit() {
	a.total.Add(1)
	a.saved.Add(1)
}

// Outcome freezes the accumulated counts into a SyncOutcome. Message and
// Success are filled by the caller.
func (a *Accountant) Outcome() domain.SyncOutcome {
	a.mu.Lock()
	items := make([]domain.ClosePriceFact, len(a.savedItems))
	copy(items, a.savedItems)
	a.mu.Unlock()

	return domain.SyncOutcome{
		TotalRequested:       a.total.Load(),
		NewItemsSaved:        a.saved.Load(),
		ExistingItemsSkipped: a.skipped.Load(),
		InvalidItemsFiltered: a.invalid.Load(),
		MissingFromAPI:       a.missing.Load(),
		SavedItems:           items,
	}
}
