// Package provider defines the upstream market-data boundary and its
// T-Invest implementation. The engine only sees these interfaces; upstream
// errors are caught per unit and reclassified by the pipeline.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"investloader/internal/domain"
)

// CandleInterval selects the candle granularity for a fetch.
type CandleInterval string

const (
	IntervalMinute CandleInterval = "1min"
	IntervalHour   CandleInterval = "hour"
	IntervalDay    CandleInterval = "day"
)

// ClosePrice is a close-price quote as returned by the upstream batch
// endpoint. TradingDate may carry the upstream's 1970-01-01 placeholder for
// instruments without a session price; the reconciliation layer filters it.
type ClosePrice struct {
	FIGI                string
	TradingDate         time.Time
	Price               decimal.Decimal
	EveningSessionPrice *decimal.Decimal
}

// MarketDataProvider is the rate-limited upstream candle/close-price client.
// Calls block and may fail per invocation; callers bound them with a context
// deadline.
type MarketDataProvider interface {
	// GetCandles returns all candles for one instrument on one date at the
	// given interval.
	GetCandles(ctx context.Context, figi string, date time.Time, interval CandleInterval) ([]domain.Candle, error)

	// GetClosePrices returns session close prices for up to 100 instruments
	// in one upstream call.
	GetClosePrices(ctx context.Context, figis []string) ([]ClosePrice, error)
}

// InstrumentProvider lists the instrument master records of one type from
// the upstream catalog. Used by the preload job to populate the metadata
// store.
type InstrumentProvider interface {
	ListInstruments(ctx context.Context, t domain.InstrumentType) ([]domain.Instrument, error)
}
