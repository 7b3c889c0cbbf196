package calendar

import (
	"testing"
	"time"
)

func TestIsTradingDayWeekends(t *testing.T) {
	c := New()

	saturday := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	if c.IsTradingDay(saturday, "MOEX") {
		t.Error("Saturday must never be a trading day")
	}
	if c.IsTradingDay(sunday, "MOEX") {
		t.Error("Sunday must never be a trading day")
	}
	if !c.IsTradingDay(monday, "MOEX") {
		t.Error("Monday without holidays should be a trading day")
	}
}

func TestIsTradingDayHolidays(t *testing.T) {
	c := New()
	newYear := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // a Monday

	c.AddHoliday("MOEX", newYear)
	if c.IsTradingDay(newYear, "MOEX") {
		t.Error("registered holiday should not be a trading day")
	}
	if !c.IsTradingDay(newYear, "FORTS_EVENING") {
		t.Error("holiday for one exchange should not affect another")
	}

	c.AddHoliday("", newYear)
	if c.IsTradingDay(newYear, "FORTS_EVENING") {
		t.Error("global holiday should apply to every exchange")
	}
}

func TestIsWeekend(t *testing.T) {
	for d := 13; d <= 14; d++ {
		if !IsWeekend(time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("2024-01-%02d should be a weekend", d)
		}
	}
	if IsWeekend(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Error("2024-01-15 is a Monday")
	}
}
