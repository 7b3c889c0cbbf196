package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"investloader/internal/domain"
)

// fakeMeta is an in-memory InstrumentStore that counts queries and can be
// switched into a failing mode.
type fakeMeta struct {
	mu          sync.Mutex
	instruments map[domain.InstrumentType][]domain.Instrument
	calls       int
	failing     bool
}

func (f *fakeMeta) UpsertInstruments(_ context.Context, _ []domain.Instrument) error {
	return nil
}

func (f *fakeMeta) ListInstruments(_ context.Context, t domain.InstrumentType) ([]domain.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return nil, errors.New("metadata store down")
	}
	return f.instruments[t], nil
}

func (f *fakeMeta) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func share(figi, ticker string) domain.Instrument {
	return domain.Instrument{
		FIGI: figi, Ticker: ticker,
		Type: domain.InstrumentShare, Currency: "RUB",
		Exchange: "moex_mrng_evng_e_wknd_dlr",
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	meta := &fakeMeta{instruments: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentShare: {share("F1", "SBER"), share("F2", "GAZP")},
	}}
	c := NewInstrumentCache(meta, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		got, err := c.Resolve(ctx, domain.InstrumentShare, nil)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d instruments, want 2", len(got))
		}
	}
	if meta.callCount() != 1 {
		t.Errorf("metadata store queried %d times, want 1", meta.callCount())
	}
}

func TestResolveFilter(t *testing.T) {
	meta := &fakeMeta{instruments: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentShare: {
			share("F1", "SBER"),
			{FIGI: "F3", Ticker: "AAPL", Type: domain.InstrumentShare, Currency: "USD", Exchange: "SPB"},
		},
	}}
	c := NewInstrumentCache(meta, time.Hour, nil)

	rub, err := c.Resolve(context.Background(), domain.InstrumentShare, func(in domain.Instrument) bool {
		return in.Currency == "RUB"
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rub) != 1 || rub[0].FIGI != "F1" {
		t.Errorf("filter returned %+v, want only F1", rub)
	}
}

func TestResolveServesStaleOnRefreshFailure(t *testing.T) {
	meta := &fakeMeta{instruments: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentShare: {share("F1", "SBER")},
	}}
	c := NewInstrumentCache(meta, time.Hour, nil)
	ctx := context.Background()

	if _, err := c.Resolve(ctx, domain.InstrumentShare, nil); err != nil {
		t.Fatalf("warm-up Resolve: %v", err)
	}
	if st := c.Status(domain.InstrumentShare); st.Status != StatusFresh {
		t.Fatalf("status = %s, want fresh", st.Status)
	}

	meta.failing = true
	c.Invalidate(domain.InstrumentShare)

	// Invalidate dropped the snapshot, so the failing refresh has nothing to
	// fall back on.
	if _, err := c.Resolve(ctx, domain.InstrumentShare, nil); err == nil {
		t.Fatal("expected error with no snapshot and failing store")
	}

	// Rebuild a snapshot, then let TTL expire with the store failing: the
	// old snapshot must be served and flagged stale.
	meta.failing = false
	c2 := NewInstrumentCache(meta, time.Millisecond, nil)
	if _, err := c2.Resolve(ctx, domain.InstrumentShare, nil); err != nil {
		t.Fatalf("warm-up Resolve: %v", err)
	}
	meta.failing = true
	time.Sleep(5 * time.Millisecond)

	got, err := c2.Resolve(ctx, domain.InstrumentShare, nil)
	if err != nil {
		t.Fatalf("Resolve should fall back to stale snapshot: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("stale snapshot lost data: %+v", got)
	}
	st := c2.Status(domain.InstrumentShare)
	if st.Status != StatusStale {
		t.Errorf("status = %s, want stale", st.Status)
	}
	if st.LastError == "" {
		t.Error("stale status should carry the refresh error")
	}
}

func TestStatusEmptyBeforeFirstResolve(t *testing.T) {
	c := NewInstrumentCache(&fakeMeta{}, time.Hour, nil)
	if st := c.Status(domain.InstrumentFuture); st.Status != StatusEmpty {
		t.Errorf("status = %s, want empty", st.Status)
	}
}

func TestConcurrentResolveSingleRefresh(t *testing.T) {
	meta := &fakeMeta{instruments: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentShare: {share("F1", "SBER")},
	}}
	c := NewInstrumentCache(meta, time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve(context.Background(), domain.InstrumentShare, nil); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if meta.callCount() != 1 {
		t.Errorf("metadata store queried %d times under concurrency, want 1", meta.callCount())
	}
}
