// Package quota implements the in-memory battery usage ledger: per-room hourly
// and daily counters with lazy, request-triggered window resets.
//
// All counters live behind a single mutex; every reservation for every room
// serializes through it. That is deliberate: dispatch volume is small and the
// critical section is short, so correctness wins over throughput. Counters are
// never persisted; a restart starts every room at zero.
package quota

import (
	"sync"
	"time"
)

// Snapshot is the per-room daily usage handed to the UsageSink at the daily
// reset boundary. It is a copy; the receiver may retain it.
type Snapshot map[string]int

// UsageSink receives the daily usage snapshot exactly once per boundary
// crossing, before the daily counters are cleared. Implementations must be
// quick or hand off asynchronously: the ledger lock is held during the call.
type UsageSink interface {
	EmitDailyUsage(snapshot Snapshot)
}

// LimitsFunc returns the room's ceilings. It runs inside the ledger critical
// section so the check-then-commit sees a consistent policy.
type LimitsFunc func() (maxHourly, maxDaily int, err error)

// Deny says which ceiling blocked a reservation.
type Deny int

const (
	DenyNone Deny = iota
	DenyHourly
	DenyDaily
	// DenyNoBudget is the fan-out "nothing left to split" rejection.
	DenyNoBudget
)

// Reservation is the outcome of a reserve attempt. On a grant the usage fields
// reflect the committed counters; on a denial they reflect the untouched ones.
type Reservation struct {
	Granted  bool
	Deny     Deny
	Quantity int // committed per-account quantity
	Total    int // committed total across accounts

	HourlyUsed int
	DailyUsed  int
	MaxHourly  int
	MaxDaily   int
}

// Ledger tracks hourly and daily battery usage per room.
type Ledger struct {
	mu     sync.Mutex
	hourly map[string]int
	daily  map[string]int

	// Window markers. -1 means unset (fresh process); detection is by
	// calendar-field equality, not elapsed time, matching the deployed
	// behavior (a >24h idle gap can mask a due reset).
	lastHour     int
	lastResetDay int

	sink UsageSink
}

// NewLedger returns an empty ledger. sink may be nil.
func NewLedger(sink UsageSink) *Ledger {
	return &Ledger{
		hourly:       make(map[string]int),
		daily:        make(map[string]int),
		lastHour:     -1,
		lastResetDay: -1,
		sink:         sink,
	}
}

// ApplyHourlyReset clears every room's hourly counter when the hour of day has
// changed since the last observation. Idempotent within the same clock hour.
func (l *Ledger) ApplyHourlyReset(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyHourlyReset(now)
}

// ApplyDailyReset emits the usage snapshot and clears every room's daily
// counter when the calendar day has changed and the clock has passed
// resetHour. Idempotent within the same day/reset-hour window.
func (l *Ledger) ApplyDailyReset(now time.Time, resetHour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyDailyReset(now, resetHour)
}

func (l *Ledger) applyHourlyReset(now time.Time) {
	hour := now.UTC().Hour()
	if l.lastHour == hour {
		return
	}
	clear(l.hourly)
	l.lastHour = hour
}

func (l *Ledger) applyDailyReset(now time.Time, resetHour int) {
	t := now.UTC()
	if l.lastResetDay == t.Day() {
		return
	}
	if t.Hour() < resetHour {
		return
	}
	if l.sink != nil {
		snap := make(Snapshot, len(l.daily))
		for room, used := range l.daily {
			snap[room] = used
		}
		l.sink.EmitDailyUsage(snap)
	}
	clear(l.daily)
	l.lastResetDay = t.Day()
}

// Peek returns the room's current counters, (0,0) for unseen rooms.
func (l *Ledger) Peek(roomID string) (hourlyUsed, dailyUsed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hourly[roomID], l.daily[roomID]
}

// ReserveSingle applies pending resets, fetches the room's limits, and
// atomically check-then-commits a fixed-quantity reservation. Nothing is
// mutated on a denial; there is no commit-then-rollback path.
func (l *Ledger) ReserveSingle(now time.Time, resetHour int, roomID string, quantity int, limits LimitsFunc) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applyHourlyReset(now)
	l.applyDailyReset(now, resetHour)

	maxHourly, maxDaily, err := limits()
	if err != nil {
		return Reservation{}, err
	}

	h, d := l.hourly[roomID], l.daily[roomID]
	res := Reservation{MaxHourly: maxHourly, MaxDaily: maxDaily, HourlyUsed: h, DailyUsed: d}
	if h+quantity > maxHourly {
		res.Deny = DenyHourly
		return res, nil
	}
	if d+quantity > maxDaily {
		res.Deny = DenyDaily
		return res, nil
	}

	l.hourly[roomID] = h + quantity
	l.daily[roomID] = d + quantity
	res.Granted = true
	res.Quantity = quantity
	res.Total = quantity
	res.HourlyUsed = h + quantity
	res.DailyUsed = d + quantity
	return res, nil
}

// ReserveFanout splits the remaining hourly budget across the three fixed
// accounts: quantityEach = max(1, remaining/3), total = quantityEach*3.
//
// The max(1, ...) floor means a room with 1 or 2 remaining still commits a
// total of 3, pushing hourly usage slightly past its ceiling. That overshoot
// is deployed behavior and is kept as-is; the daily ceiling is still enforced.
func (l *Ledger) ReserveFanout(now time.Time, resetHour int, roomID string, limits LimitsFunc) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applyHourlyReset(now)
	l.applyDailyReset(now, resetHour)

	maxHourly, maxDaily, err := limits()
	if err != nil {
		return Reservation{}, err
	}

	h, d := l.hourly[roomID], l.daily[roomID]
	res := Reservation{MaxHourly: maxHourly, MaxDaily: maxDaily, HourlyUsed: h, DailyUsed: d}

	each := (maxHourly - h) / 3
	if each < 1 {
		each = 1
	}
	total := each * 3
	if total <= 0 {
		res.Deny = DenyNoBudget
		return res, nil
	}
	if d+total > maxDaily {
		res.Deny = DenyDaily
		return res, nil
	}

	l.hourly[roomID] = h + total
	l.daily[roomID] = d + total
	res.Granted = true
	res.Quantity = each
	res.Total = total
	res.HourlyUsed = h + total
	res.DailyUsed = d + total
	return res, nil
}
