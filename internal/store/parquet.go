package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"investloader/internal/domain"
)

// Compile-time interface check.
var _ CandleArchive = (*ParquetArchive)(nil)

// ParquetArchive implements CandleArchive using Parquet files on disk, one
// file per (exchange, figi, date). Prices are stored as decimal strings so
// no precision is lost through binary floats.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates a ParquetArchive rooted at the given data
// directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// CandleRecord is the Parquet schema for archived candle data.
type CandleRecord struct {
	FIGI       string `parquet:"figi"`
	Timestamp  int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       string `parquet:"open"`
	High       string `parquet:"high"`
	Low        string `parquet:"low"`
	Close      string `parquet:"close"`
	Volume     int64  `parquet:"volume"`
	IsComplete bool   `parquet:"is_complete"`
}

// WriteCandles archives candles grouped by figi and date. Existing files are
// merged; candles with the same (figi, timestamp) are replaced by the
// incoming record.
func (a *ParquetArchive) WriteCandles(_ context.Context, exchange string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		figi string
		date string // YYYY-MM-DD
	}
	groups := make(map[key][]CandleRecord)
	for _, c := range candles {
		k := key{figi: c.FIGI, date: c.Time.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], CandleRecord{
			FIGI:       c.FIGI,
			Timestamp:  c.Time.UnixMilli(),
			Open:       c.Open.String(),
			High:       c.High.String(),
			Low:        c.Low.String(),
			Close:      c.Close.String(),
			Volume:     c.Volume,
			IsComplete: c.IsComplete,
		})
	}

	for k, records := range groups {
		path := a.candlePath(exchange, k.figi, k.date)

		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing candles for %s/%s: %w", k.figi, k.date, err)
		}
	}
	return nil
}

// ReadCandles returns the archived candles for one instrument on one date.
func (a *ParquetArchive) ReadCandles(_ context.Context, exchange, figi string, date time.Time) ([]domain.Candle, error) {
	path := a.candlePath(exchange, figi, date.UTC().Format("2006-01-02"))

	records, err := readParquetFile[CandleRecord](path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		// Missing file shows up as a plain open error from parquet as well.
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading candles %s: %w", path, err)
	}

	candles := make([]domain.Candle, 0, len(records))
	for _, r := range records {
		c, err := recordToCandle(r)
		if err != nil {
			return nil, fmt.Errorf("decoding candle record in %s: %w", path, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func recordToCandle(r CandleRecord) (domain.Candle, error) {
	var c domain.Candle
	var err error
	if c.Open, err = decimal.NewFromString(r.Open); err != nil {
		return c, fmt.Errorf("open %q: %w", r.Open, err)
	}
	if c.High, err = decimal.NewFromString(r.High); err != nil {
		return c, fmt.Errorf("high %q: %w", r.High, err)
	}
	if c.Low, err = decimal.NewFromString(r.Low); err != nil {
		return c, fmt.Errorf("low %q: %w", r.Low, err)
	}
	if c.Close, err = decimal.NewFromString(r.Close); err != nil {
		return c, fmt.Errorf("close %q: %w", r.Close, err)
	}
	c.FIGI = r.FIGI
	c.Time = time.UnixMilli(r.Timestamp).UTC()
	c.Volume = r.Volume
	c.IsComplete = r.IsComplete
	return c, nil
}

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/<exchange>/candles/<FIGI>/<YYYY-MM-DD>.parquet
func (a *ParquetArchive) candlePath(exchange, figi, date string) string {
	return filepath.Join(a.DataDir, strings.ToLower(exchange), "candles", figi, date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates candle records by (figi, timestamp),
// preferring incoming records over existing ones. Results are sorted by
// timestamp.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	type key struct {
		figi string
		ts   int64
	}
	seen := make(map[key]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.FIGI, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.FIGI, r.Timestamp}] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
