package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"investloader/internal/domain"
)

// SessionWindow bounds one trading session as offsets from local midnight.
type SessionWindow struct {
	Start time.Duration
	End   time.Duration
}

// Session windows in exchange-local time. The morning window opens just
// before the 07:00 auction; the evening window covers the 19:00-23:50
// extended session.
var (
	MorningWindow = SessionWindow{Start: 6*time.Hour + 59*time.Minute, End: 9*time.Hour + 59*time.Minute}
	EveningWindow = SessionWindow{Start: 19 * time.Hour, End: 23*time.Hour + 50*time.Minute}
	fullDayWindow = SessionWindow{Start: 0, End: 24*time.Hour - time.Nanosecond}
)

func windowFor(session domain.Session) SessionWindow {
	switch session {
	case domain.SessionMorning:
		return MorningWindow
	case domain.SessionEvening:
		return EveningWindow
	default:
		return fullDayWindow
	}
}

// DeriveSessionPrice reduces one instrument's candle set to the session's
// representative price: the open of the chronologically first in-window
// candle for the morning session, or the close of the chronologically last
// in-window candle for the evening (and main) session.
//
// Selection is strictly by candle timestamp, never by input order; candles
// with identical timestamps are resolved by preferring the one marked
// complete. The bool result is false when no candle falls inside the window,
// which callers report as missing-from-API rather than defaulting the price.
func DeriveSessionPrice(candles []domain.Candle, date time.Time, loc *time.Location, session domain.Session) (decimal.Decimal, bool) {
	w := windowFor(session)
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	winStart := dayStart.Add(w.Start)
	winEnd := dayStart.Add(w.End)

	var (
		picked domain.Candle
		found  bool
	)
	for _, c := range candles {
		ct := c.Time.In(loc)
		if ct.Before(winStart) || ct.After(winEnd) {
			continue
		}
		if !found {
			picked = c
			found = true
			continue
		}
		if better(c, picked, session) {
			picked = c
		}
	}
	if !found {
		return decimal.Decimal{}, false
	}

	if session == domain.SessionMorning {
		return picked.Open, true
	}
	return picked.Close, true
}

// better reports whether candidate should replace current for the given
// session. Morning wants the earliest candle, evening/main the latest; on a
// timestamp tie the complete candle wins, and otherwise the incumbent stays
// (stable with respect to input order).
func better(candidate, current domain.Candle, session domain.Session) bool {
	if candidate.Time.Equal(current.Time) {
		return candidate.IsComplete && !current.IsComplete
	}
	if session == domain.SessionMorning {
		return candidate.Time.Before(current.Time)
	}
	return candidate.Time.After(current.Time)
}
