package engine

import (
	"testing"
	"time"

	"investloader/internal/domain"
)

func candleAt(t *testing.T, hour, minute int, open, close string, complete bool) domain.Candle {
	t.Helper()
	return domain.Candle{
		FIGI:       "BBG004730N88",
		Time:       time.Date(2024, 1, 15, hour, minute, 0, 0, time.UTC),
		Open:       mustDec(t, open),
		Close:      mustDec(t, close),
		IsComplete: complete,
	}
}

func TestDeriveSessionPrice_EveningPicksLastCloseByTimestamp(t *testing.T) {
	// Input is deliberately out of chronological order: selection must be by
	// timestamp, not input position.
	candles := []domain.Candle{
		candleAt(t, 23, 45, "251.60", "251.73", true),
		candleAt(t, 19, 5, "250.10", "250.40", true),
		candleAt(t, 21, 30, "250.80", "251.00", true),
	}

	price, ok := DeriveSessionPrice(candles, monday, time.UTC, domain.SessionEvening)
	if !ok {
		t.Fatal("expected a derived price")
	}
	if !price.Equal(mustDec(t, "251.73")) {
		t.Errorf("evening price = %s, want 251.73", price)
	}
}

func TestDeriveSessionPrice_MorningPicksFirstOpen(t *testing.T) {
	candles := []domain.Candle{
		candleAt(t, 9, 30, "250.20", "250.50", true),
		candleAt(t, 7, 0, "249.55", "249.80", true),
		candleAt(t, 8, 15, "249.90", "250.10", true),
	}

	price, ok := DeriveSessionPrice(candles, monday, time.UTC, domain.SessionMorning)
	if !ok {
		t.Fatal("expected a derived price")
	}
	if !price.Equal(mustDec(t, "249.55")) {
		t.Errorf("morning price = %s, want 249.55", price)
	}
}

func TestDeriveSessionPrice_OutOfWindowCandlesIgnored(t *testing.T) {
	// Main-session candles only: the evening window is empty.
	candles := []domain.Candle{
		candleAt(t, 10, 0, "250.00", "250.30", true),
		candleAt(t, 15, 30, "250.40", "250.70", true),
	}

	if _, ok := DeriveSessionPrice(candles, monday, time.UTC, domain.SessionEvening); ok {
		t.Error("expected no price when no candle falls inside the evening window")
	}
}

func TestDeriveSessionPrice_TimestampTiePrefersCompleteCandle(t *testing.T) {
	incomplete := candleAt(t, 23, 45, "251.60", "251.99", false)
	complete := candleAt(t, 23, 45, "251.60", "251.73", true)

	for name, candles := range map[string][]domain.Candle{
		"complete first": {complete, incomplete},
		"complete last":  {incomplete, complete},
	} {
		price, ok := DeriveSessionPrice(candles, monday, time.UTC, domain.SessionEvening)
		if !ok {
			t.Fatalf("%s: expected a derived price", name)
		}
		if !price.Equal(mustDec(t, "251.73")) {
			t.Errorf("%s: price = %s, want the complete candle's 251.73", name, price)
		}
	}
}

func TestDeriveSessionPrice_NoCandles(t *testing.T) {
	if _, ok := DeriveSessionPrice(nil, monday, time.UTC, domain.SessionEvening); ok {
		t.Error("expected no price for an empty candle set")
	}
}

func TestDeriveSessionPrice_MainSessionSpansFullDay(t *testing.T) {
	candles := []domain.Candle{
		candleAt(t, 10, 0, "250.00", "250.30", true),
		candleAt(t, 18, 40, "250.90", "251.10", true),
	}

	price, ok := DeriveSessionPrice(candles, monday, time.UTC, domain.SessionMain)
	if !ok {
		t.Fatal("expected a derived price")
	}
	if !price.Equal(mustDec(t, "251.10")) {
		t.Errorf("main price = %s, want 251.10", price)
	}
}
