// Package store defines storage interfaces for persisting and retrieving
// instruments, candles, and derived session-price facts, plus the SQLite and
// Parquet implementations behind them.
package store

import (
	"context"
	"errors"
	"time"

	"investloader/internal/domain"
)

// ErrDuplicateFact is returned by SaveFact when the natural key
// (figi, trading date) already exists. The storage uniqueness constraint is
// the final arbiter for concurrent runs; callers reclassify this error as a
// skipped duplicate, never as a failure.
var ErrDuplicateFact = errors.New("fact already exists for (figi, trading date)")

// InstrumentStore persists and retrieves instrument identity records. It is
// the metadata store behind the instrument cache.
type InstrumentStore interface {
	// UpsertInstruments inserts or refreshes instrument records.
	UpsertInstruments(ctx context.Context, instruments []domain.Instrument) error

	// ListInstruments returns all instruments of the given type ordered by
	// FIGI.
	ListInstruments(ctx context.Context, t domain.InstrumentType) ([]domain.Instrument, error)
}

// FactStore persists derived session-price facts. Writes are append-only:
// an existing natural key is never overwritten.
type FactStore interface {
	// ExistsFact reports whether a fact for (figi, tradingDate) is already
	// persisted for the given session.
	ExistsFact(ctx context.Context, session domain.Session, figi string, tradingDate time.Time) (bool, error)

	// SaveFact inserts a new fact. It returns ErrDuplicateFact if the
	// natural key already exists.
	SaveFact(ctx context.Context, session domain.Session, fact domain.ClosePriceFact) error

	// ListFacts returns all persisted facts for one session and trading
	// date, ordered by FIGI.
	ListFacts(ctx context.Context, session domain.Session, tradingDate time.Time) ([]domain.ClosePriceFact, error)
}

// CandleArchive persists raw candle data and serves it back for session
// price derivation.
type CandleArchive interface {
	// WriteCandles archives a batch of candles under the given exchange.
	WriteCandles(ctx context.Context, exchange string, candles []domain.Candle) error

	// ReadCandles returns all archived candles for one instrument on one
	// date, in no particular order.
	ReadCandles(ctx context.Context, exchange, figi string, date time.Time) ([]domain.Candle, error)
}
