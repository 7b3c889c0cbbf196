// Package domain defines the core data types shared across the investloader
// platform: instruments, candles, session price facts, and sync outcomes.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentType classifies an instrument in the universe.
type InstrumentType string

const (
	InstrumentShare      InstrumentType = "SHARE"
	InstrumentFuture     InstrumentType = "FUTURE"
	InstrumentIndicative InstrumentType = "INDICATIVE"
)

// AllInstrumentTypes lists every supported instrument type in a stable order.
var AllInstrumentTypes = []InstrumentType{
	InstrumentShare,
	InstrumentFuture,
	InstrumentIndicative,
}

// ParseInstrumentType normalises a string into an InstrumentType. The bool
// reports whether the input named a known type.
func ParseInstrumentType(s string) (InstrumentType, bool) {
	switch InstrumentType(s) {
	case InstrumentShare, InstrumentFuture, InstrumentIndicative:
		return InstrumentType(s), true
	}
	switch s {
	case "share", "shares":
		return InstrumentShare, true
	case "future", "futures":
		return InstrumentFuture, true
	case "indicative", "indicatives":
		return InstrumentIndicative, true
	}
	return "", false
}

// Instrument is an identity record for a tradable or indicative instrument.
// Instruments are immutable within a sync run; the cache refreshes them on a
// TTL basis.
type Instrument struct {
	FIGI     string
	Ticker   string
	Type     InstrumentType
	Currency string
	Exchange string
}

// Candle is a single OHLCV candle as returned by the upstream provider.
// Prices carry exact decimal precision; candles are read-only to the engine.
type Candle struct {
	FIGI       string
	Time       time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     int64
	IsComplete bool
}

// Session identifies which trading session a derived price belongs to.
type Session string

const (
	SessionMorning Session = "morning"
	SessionMain    Session = "main"
	SessionEvening Session = "evening"
)

// SentinelDate is the reserved trading date the upstream API uses to signal
// "no real date". Facts carrying it are invalid and must never be persisted.
var SentinelDate = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// ClosePriceFact is a derived session price for one instrument on one trading
// date. The natural key is (FIGI, TradingDate); facts are write-once.
type ClosePriceFact struct {
	FIGI                string           `json:"figi"`
	TradingDate         time.Time        `json:"tradingDate"`
	ClosePrice          decimal.Decimal  `json:"closePrice"`
	EveningSessionPrice *decimal.Decimal `json:"eveningSessionPrice,omitempty"`
	InstrumentType      InstrumentType   `json:"instrumentType,omitempty"`
	Currency            string           `json:"currency,omitempty"`
	Exchange            string           `json:"exchange,omitempty"`
}

// HasSentinelDate reports whether the fact carries the reserved 1970-01-01
// marker or a zero trading date.
func (f ClosePriceFact) HasSentinelDate() bool {
	if f.TradingDate.IsZero() {
		return true
	}
	y, m, d := f.TradingDate.Date()
	return y == 1970 && m == time.January && d == 1
}

// SyncOutcome is the accounting result of one sync run. For every run:
//
//	TotalRequested == NewItemsSaved + ExistingItemsSkipped +
//	                  InvalidItemsFiltered + MissingFromAPI
//
// counted per (instrument, date) pair.
type SyncOutcome struct {
	Success              bool             `json:"success"`
	Message              string           `json:"message"`
	TaskID               string           `json:"taskId"`
	TotalRequested       int64            `json:"totalRequested"`
	NewItemsSaved        int64            `json:"newItemsSaved"`
	ExistingItemsSkipped int64            `json:"existingItemsSkipped"`
	InvalidItemsFiltered int64            `json:"invalidItemsFiltered"`
	MissingFromAPI       int64            `json:"missingFromApi"`
	SavedItems           []ClosePriceFact `json:"savedItems"`
}

// Consistent reports whether the outcome counts satisfy the accounting
// identity.
func (o SyncOutcome) Consistent() bool {
	return o.TotalRequested == o.NewItemsSaved+o.ExistingItemsSkipped+
		o.InvalidItemsFiltered+o.MissingFromAPI
}
