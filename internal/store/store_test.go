package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"investloader/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInstrumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instruments := []domain.Instrument{
		{FIGI: "BBG004730N88", Ticker: "SBER", Type: domain.InstrumentShare, Currency: "RUB", Exchange: "moex_mrng_evng_e_wknd_dlr"},
		{FIGI: "BBG004730RP0", Ticker: "GAZP", Type: domain.InstrumentShare, Currency: "RUB", Exchange: "moex_mrng_evng_e_wknd_dlr"},
		{FIGI: "FUTSI0624000", Ticker: "SiM4", Type: domain.InstrumentFuture, Currency: "RUB", Exchange: "FORTS_EVENING"},
	}
	if err := s.UpsertInstruments(ctx, instruments); err != nil {
		t.Fatalf("UpsertInstruments: %v", err)
	}

	shares, err := s.ListInstruments(ctx, domain.InstrumentShare)
	if err != nil {
		t.Fatalf("ListInstruments: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("got %d shares, want 2", len(shares))
	}
	// Ordered by FIGI.
	if shares[0].FIGI != "BBG004730N88" || shares[1].FIGI != "BBG004730RP0" {
		t.Errorf("unexpected order: %s, %s", shares[0].FIGI, shares[1].FIGI)
	}

	// Re-upsert with a changed ticker refreshes, not duplicates.
	instruments[0].Ticker = "SBER_NEW"
	if err := s.UpsertInstruments(ctx, instruments[:1]); err != nil {
		t.Fatalf("UpsertInstruments (refresh): %v", err)
	}
	shares, _ = s.ListInstruments(ctx, domain.InstrumentShare)
	if len(shares) != 2 || shares[0].Ticker != "SBER_NEW" {
		t.Errorf("refresh did not update in place: %+v", shares)
	}
}

func TestSaveFactDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fact := domain.ClosePriceFact{
		FIGI:           "BBG004730N88",
		TradingDate:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ClosePrice:     decimal.RequireFromString("251.00"),
		InstrumentType: domain.InstrumentShare,
		Currency:       "RUB",
		Exchange:       "moex_mrng_evng_e_wknd_dlr",
	}

	exists, err := s.ExistsFact(ctx, domain.SessionMain, fact.FIGI, fact.TradingDate)
	if err != nil {
		t.Fatalf("ExistsFact: %v", err)
	}
	if exists {
		t.Fatal("fact should not exist yet")
	}

	if err := s.SaveFact(ctx, domain.SessionMain, fact); err != nil {
		t.Fatalf("SaveFact: %v", err)
	}

	exists, _ = s.ExistsFact(ctx, domain.SessionMain, fact.FIGI, fact.TradingDate)
	if !exists {
		t.Error("fact should exist after save")
	}

	// Second insert with the same natural key hits the unique constraint.
	err = s.SaveFact(ctx, domain.SessionMain, fact)
	if !errors.Is(err, ErrDuplicateFact) {
		t.Errorf("err = %v, want ErrDuplicateFact", err)
	}

	// The same key in a different session table is a distinct fact.
	if err := s.SaveFact(ctx, domain.SessionEvening, fact); err != nil {
		t.Errorf("SaveFact (evening): %v", err)
	}
}

func TestListFactsPreservesPrecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	evening := decimal.RequireFromString("251.730000001")
	fact := domain.ClosePriceFact{
		FIGI:                "BBG004730N88",
		TradingDate:         date,
		ClosePrice:          decimal.RequireFromString("251.70"),
		EveningSessionPrice: &evening,
		InstrumentType:      domain.InstrumentShare,
		Currency:            "RUB",
		Exchange:            "moex_mrng_evng_e_wknd_dlr",
	}
	if err := s.SaveFact(ctx, domain.SessionMain, fact); err != nil {
		t.Fatalf("SaveFact: %v", err)
	}

	facts, err := s.ListFacts(ctx, domain.SessionMain, date)
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	got := facts[0]
	if got.ClosePrice.String() != "251.7" && got.ClosePrice.String() != "251.70" {
		t.Errorf("ClosePrice = %s, want 251.70", got.ClosePrice)
	}
	if !got.ClosePrice.Equal(fact.ClosePrice) {
		t.Errorf("ClosePrice %s != %s", got.ClosePrice, fact.ClosePrice)
	}
	if got.EveningSessionPrice == nil || !got.EveningSessionPrice.Equal(evening) {
		t.Errorf("EveningSessionPrice = %v, want %s", got.EveningSessionPrice, evening)
	}
}

func TestParquetArchiveRoundTrip(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	ctx := context.Background()
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	candles := []domain.Candle{
		{
			FIGI:       "BBG004730N88",
			Time:       date.Add(19*time.Hour + 30*time.Minute),
			Open:       decimal.RequireFromString("250.10"),
			High:       decimal.RequireFromString("251.50"),
			Low:        decimal.RequireFromString("249.90"),
			Close:      decimal.RequireFromString("251.00"),
			Volume:     1000,
			IsComplete: true,
		},
		{
			FIGI:       "BBG004730N88",
			Time:       date.Add(9 * time.Hour),
			Open:       decimal.RequireFromString("248.00"),
			High:       decimal.RequireFromString("250.30"),
			Low:        decimal.RequireFromString("247.80"),
			Close:      decimal.RequireFromString("250.10"),
			Volume:     2000,
			IsComplete: true,
		},
	}
	if err := a.WriteCandles(ctx, "moex_mrng_evng_e_wknd_dlr", candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	got, err := a.ReadCandles(ctx, "moex_mrng_evng_e_wknd_dlr", "BBG004730N88", date)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candles, want 2", len(got))
	}
	// Merge-on-write sorts by timestamp.
	if !got[0].Time.Before(got[1].Time) {
		t.Error("candles should be sorted by timestamp")
	}
	if !got[1].Close.Equal(decimal.RequireFromString("251.00")) {
		t.Errorf("Close = %s, want 251.00", got[1].Close)
	}
}

func TestParquetArchiveMergeReplaces(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	ctx := context.Background()
	ts := time.Date(2024, 1, 15, 19, 30, 0, 0, time.UTC)

	first := domain.Candle{
		FIGI: "BBG004730N88", Time: ts,
		Open: decimal.New(1, 0), High: decimal.New(1, 0),
		Low: decimal.New(1, 0), Close: decimal.New(1, 0),
		Volume: 10, IsComplete: false,
	}
	if err := a.WriteCandles(ctx, "moex", []domain.Candle{first}); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	second := first
	second.Close = decimal.RequireFromString("2.5")
	second.IsComplete = true
	if err := a.WriteCandles(ctx, "moex", []domain.Candle{second}); err != nil {
		t.Fatalf("WriteCandles (merge): %v", err)
	}

	got, err := a.ReadCandles(ctx, "moex", "BBG004730N88", ts)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candles, want 1 after merge", len(got))
	}
	if !got[0].Close.Equal(second.Close) || !got[0].IsComplete {
		t.Errorf("merge should prefer incoming record: %+v", got[0])
	}
}

func TestParquetArchiveReadMissing(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	got, err := a.ReadCandles(context.Background(), "moex", "NOPE", time.Now())
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil for missing file", got)
	}
}
