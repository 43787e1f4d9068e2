package quota

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func clock(day, hour int) time.Time {
	return time.Date(2025, time.June, day, hour, 30, 0, 0, time.UTC)
}

func fixedLimits(maxHourly, maxDaily int) LimitsFunc {
	return func() (int, int, error) { return maxHourly, maxDaily, nil }
}

type captureSink struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (c *captureSink) EmitDailyUsage(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, s)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

func TestPeekDefaults(t *testing.T) {
	l := NewLedger(nil)
	if h, d := l.Peek("unseen"); h != 0 || d != 0 {
		t.Errorf("Peek(unseen) = (%d,%d), want (0,0)", h, d)
	}
}

func TestReserveSingle(t *testing.T) {
	l := NewLedger(nil)
	now := clock(15, 10)

	res, err := l.ReserveSingle(now, 4, "room1", 10, fixedLimits(300, 1000))
	if err != nil {
		t.Fatalf("ReserveSingle error: %v", err)
	}
	if !res.Granted {
		t.Fatalf("expected grant, got deny %v", res.Deny)
	}
	if res.HourlyUsed != 10 || res.DailyUsed != 10 {
		t.Errorf("usage after grant = (%d,%d), want (10,10)", res.HourlyUsed, res.DailyUsed)
	}
	if h, d := l.Peek("room1"); h != 10 || d != 10 {
		t.Errorf("Peek = (%d,%d), want (10,10)", h, d)
	}
}

func TestReserveSingleHourlyDenialNoMutation(t *testing.T) {
	l := NewLedger(nil)
	now := clock(15, 10)

	if _, err := l.ReserveSingle(now, 4, "room1", 295, fixedLimits(300, 1000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	res, err := l.ReserveSingle(now, 4, "room1", 10, fixedLimits(300, 1000))
	if err != nil {
		t.Fatalf("ReserveSingle error: %v", err)
	}
	if res.Granted {
		t.Fatal("expected hourly denial")
	}
	if res.Deny != DenyHourly {
		t.Errorf("deny = %v, want DenyHourly", res.Deny)
	}
	if res.HourlyUsed != 295 || res.MaxHourly != 300 {
		t.Errorf("denial usage = %d/%d, want 295/300", res.HourlyUsed, res.MaxHourly)
	}
	if h, d := l.Peek("room1"); h != 295 || d != 295 {
		t.Errorf("counters mutated on denial: (%d,%d)", h, d)
	}
}

func TestReserveSingleDailyDenial(t *testing.T) {
	l := NewLedger(nil)
	now := clock(15, 10)

	if _, err := l.ReserveSingle(now, 4, "room1", 95, fixedLimits(1000, 100)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	res, err := l.ReserveSingle(now, 4, "room1", 10, fixedLimits(1000, 100))
	if err != nil {
		t.Fatalf("ReserveSingle error: %v", err)
	}
	if res.Granted || res.Deny != DenyDaily {
		t.Fatalf("expected DenyDaily, got %+v", res)
	}
	if res.DailyUsed != 95 || res.MaxDaily != 100 {
		t.Errorf("denial usage = %d/%d, want 95/100", res.DailyUsed, res.MaxDaily)
	}
}

func TestReserveFanoutSplit(t *testing.T) {
	// hourly_used=250 of 300: remaining=50, each=16, total=48
	l := NewLedger(nil)
	now := clock(15, 10)
	if _, err := l.ReserveSingle(now, 4, "room1", 250, fixedLimits(300, 1000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	res, err := l.ReserveFanout(now, 4, "room1", fixedLimits(300, 1000))
	if err != nil {
		t.Fatalf("ReserveFanout error: %v", err)
	}
	if !res.Granted {
		t.Fatalf("expected grant, got deny %v", res.Deny)
	}
	if res.Quantity != 16 || res.Total != 48 {
		t.Errorf("split = %d each / %d total, want 16/48", res.Quantity, res.Total)
	}
	if res.Quantity*3 != res.Total {
		t.Errorf("quantity_each*3 != total: %d*3 != %d", res.Quantity, res.Total)
	}
	if h, d := l.Peek("room1"); h != 298 || d != 298 {
		t.Errorf("counters = (%d,%d), want (298,298)", h, d)
	}
}

func TestReserveFanoutFloorOvershoot(t *testing.T) {
	// hourly_used=299 of 300: remaining=1, each=max(1,0)=1, total=3.
	// The commit pushes hourly usage to 302, past the ceiling. That is the
	// deployed behavior and must stay.
	l := NewLedger(nil)
	now := clock(15, 10)
	if _, err := l.ReserveSingle(now, 4, "room1", 299, fixedLimits(300, 2000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	res, err := l.ReserveFanout(now, 4, "room1", fixedLimits(300, 2000))
	if err != nil {
		t.Fatalf("ReserveFanout error: %v", err)
	}
	if !res.Granted {
		t.Fatalf("expected grant, got deny %v", res.Deny)
	}
	if res.Quantity != 1 || res.Total != 3 {
		t.Errorf("split = %d each / %d total, want 1/3", res.Quantity, res.Total)
	}
	if h, _ := l.Peek("room1"); h != 302 {
		t.Errorf("hourly after overshoot = %d, want 302", h)
	}
}

func TestReserveFanoutDailyDenial(t *testing.T) {
	l := NewLedger(nil)

	// Build hourly_used=250, daily_used=900 by spending across an hour boundary:
	// the hourly counter resets at the new hour, the daily counter carries over.
	if _, err := l.ReserveSingle(clock(15, 10), 4, "room1", 650, fixedLimits(1000, 1000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	if _, err := l.ReserveSingle(clock(15, 11), 4, "room1", 250, fixedLimits(1000, 1000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	if h, d := l.Peek("room1"); h != 250 || d != 900 {
		t.Fatalf("seed counters = (%d,%d), want (250,900)", h, d)
	}

	// remaining=50, total=48; 900+48 > 920 -> daily denial, nothing mutated
	res, err := l.ReserveFanout(clock(15, 11), 4, "room1", fixedLimits(300, 920))
	if err != nil {
		t.Fatalf("ReserveFanout error: %v", err)
	}
	if res.Granted || res.Deny != DenyDaily {
		t.Fatalf("expected DenyDaily, got %+v", res)
	}
	if h, d := l.Peek("room1"); h != 250 || d != 900 {
		t.Errorf("counters mutated on denial: (%d,%d)", h, d)
	}
}

func TestLimitsErrorNoMutation(t *testing.T) {
	l := NewLedger(nil)
	now := clock(15, 10)
	boom := errors.New("policy store down")
	_, err := l.ReserveSingle(now, 4, "room1", 10, func() (int, int, error) { return 0, 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected limits error to propagate, got %v", err)
	}
	if h, d := l.Peek("room1"); h != 0 || d != 0 {
		t.Errorf("counters mutated on limits error: (%d,%d)", h, d)
	}
}

func TestHourlyResetOnHourChange(t *testing.T) {
	l := NewLedger(nil)
	if _, err := l.ReserveSingle(clock(15, 10), 4, "room1", 50, fixedLimits(300, 1000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	// same hour: no reset
	l.ApplyHourlyReset(clock(15, 10))
	if h, _ := l.Peek("room1"); h != 50 {
		t.Errorf("hourly counter reset within the same hour: %d", h)
	}

	// new hour: cleared for every room, daily untouched
	l.ApplyHourlyReset(clock(15, 11))
	if h, d := l.Peek("room1"); h != 0 || d != 50 {
		t.Errorf("after hourly reset = (%d,%d), want (0,50)", h, d)
	}

	// second application in the same hour is a no-op
	if _, err := l.ReserveSingle(clock(15, 11), 4, "room1", 5, fixedLimits(300, 1000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	l.ApplyHourlyReset(clock(15, 11))
	if h, _ := l.Peek("room1"); h != 5 {
		t.Errorf("idempotence violated: hourly = %d, want 5", h)
	}
}

func TestHourlyResetSameHourValueNextDay(t *testing.T) {
	// Detection is by hour-of-day equality, not elapsed time: a request
	// arriving exactly 24h later sees the same hour value and skips the
	// reset. Documented behavior, preserved.
	l := NewLedger(nil)
	if _, err := l.ReserveSingle(clock(15, 10), 0, "room1", 50, fixedLimits(300, 100000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	l.ApplyHourlyReset(clock(16, 10))
	if h, _ := l.Peek("room1"); h != 50 {
		t.Errorf("hourly counter cleared despite equal hour value: %d", h)
	}
}

func TestDailyResetRespectsResetHour(t *testing.T) {
	sink := &captureSink{}
	l := NewLedger(sink)

	// First reserve of the process fires the daily reset (empty snapshot).
	if _, err := l.ReserveSingle(clock(15, 10), 4, "room1", 5, fixedLimits(300, 1000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected initial boundary snapshot, got %d", sink.count())
	}

	// New calendar day but before the reset hour: nothing fires.
	l.ApplyDailyReset(clock(16, 3), 4)
	if sink.count() != 1 {
		t.Errorf("daily reset fired before reset hour")
	}
	if _, d := l.Peek("room1"); d != 5 {
		t.Errorf("daily counter cleared early: %d", d)
	}

	// At the reset hour it fires exactly once, with the usage snapshot.
	l.ApplyDailyReset(clock(16, 4), 4)
	if sink.count() != 2 {
		t.Fatalf("expected exactly one snapshot at the boundary, got %d", sink.count()-1)
	}
	snap := sink.snapshots[1]
	if snap["room1"] != 5 {
		t.Errorf("snapshot[room1] = %d, want 5", snap["room1"])
	}
	if _, d := l.Peek("room1"); d != 0 {
		t.Errorf("daily counter not cleared: %d", d)
	}

	// Later the same day: no second firing.
	l.ApplyDailyReset(clock(16, 5), 4)
	l.ApplyDailyReset(clock(16, 23), 4)
	if sink.count() != 2 {
		t.Errorf("daily reset fired more than once per day: %d snapshots", sink.count())
	}
}

func TestConcurrentExhaustedBudget(t *testing.T) {
	// Two concurrent reservations of 10 with only one reservation's worth of
	// hourly budget left: exactly one commits, the other observes the
	// post-commit state.
	l := NewLedger(nil)
	now := clock(15, 10)
	if _, err := l.ReserveSingle(now, 4, "room1", 285, fixedLimits(300, 1000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	results := make([]Reservation, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.ReserveSingle(now, 4, "room1", 10, fixedLimits(300, 1000))
			if err != nil {
				t.Errorf("ReserveSingle error: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, res := range results {
		if res.Granted {
			granted++
		} else if res.Deny != DenyHourly {
			t.Errorf("loser denied with %v, want DenyHourly", res.Deny)
		}
	}
	if granted != 1 {
		t.Fatalf("expected exactly one grant, got %d", granted)
	}
	if h, _ := l.Peek("room1"); h != 295 {
		t.Errorf("hourly after race = %d, want 295", h)
	}
}
