package provider

import (
	"testing"
	"time"

	investapi "github.com/russianinvestments/invest-api-go-sdk/proto"
)

func TestQuotationToDecimal(t *testing.T) {
	cases := []struct {
		units int64
		nano  int32
		want  string
	}{
		{251, 0, "251"},
		{251, 730000000, "251.73"},
		{0, 500000000, "0.5"},
		{-2, -250000000, "-2.25"},
		{0, 1, "0.000000001"},
	}
	for _, tc := range cases {
		q := &investapi.Quotation{Units: tc.units, Nano: tc.nano}
		got := quotationToDecimal(q)
		if got.String() != tc.want {
			t.Errorf("quotationToDecimal(%d, %d) = %s, want %s", tc.units, tc.nano, got, tc.want)
		}
	}

	if !quotationToDecimal(nil).IsZero() {
		t.Error("nil quotation should convert to zero")
	}
}

func TestTradingDate(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("loading Europe/Moscow: %v", err)
	}

	// 23:30 UTC on Jan 15 is already Jan 16 in Moscow.
	instant := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)
	got := tradingDate(instant, msk)
	want := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("tradingDate = %s, want %s", got, want)
	}

	// The epoch placeholder survives conversion as 1970-01-01.
	epoch := tradingDate(time.Unix(0, 0), msk)
	if epoch.Year() != 1970 || epoch.Month() != time.January || epoch.Day() != 1 {
		t.Errorf("epoch placeholder mapped to %s", epoch)
	}
}

func TestSDKInterval(t *testing.T) {
	if sdkInterval(IntervalHour) != investapi.CandleInterval_CANDLE_INTERVAL_HOUR {
		t.Error("hour interval mismatch")
	}
	if sdkInterval(IntervalDay) != investapi.CandleInterval_CANDLE_INTERVAL_DAY {
		t.Error("day interval mismatch")
	}
	if sdkInterval("bogus") != investapi.CandleInterval_CANDLE_INTERVAL_1_MIN {
		t.Error("unknown interval should fall back to 1min")
	}
}
