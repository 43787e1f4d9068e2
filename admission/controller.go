// Package admission is the decision engine gating battery dispatches: it ties
// together command classification, the rotating challenge code, room policy,
// and the quota ledger into a single check-then-commit admission step.
package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/battery-gate/backend/challenge"
	"github.com/onnwee/battery-gate/backend/command"
	"github.com/onnwee/battery-gate/backend/policy"
	"github.com/onnwee/battery-gate/backend/quota"
	"github.com/onnwee/battery-gate/backend/telemetry"
)

// Controller orchestrates one admission request at a time per ledger lock.
// It performs no network I/O itself; dispatch and user-facing notification are
// the caller's job, after the decision is returned.
type Controller struct {
	Policies  *policy.Store
	Ledger    *quota.Ledger
	ResetHour int

	// Now supplies the clock; defaults to time.Now. Tests pin it.
	Now func() time.Time
}

// New returns a controller using the wall clock.
func New(policies *policy.Store, ledger *quota.Ledger, resetHour int) *Controller {
	return &Controller{Policies: policies, Ledger: ledger, ResetHour: resetHour, Now: time.Now}
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// SubmitCommand runs the command-triggered path: classify, validate the
// challenge, then atomically reserve against the room's budget. A returned
// error is a policy persistence failure and is distinct from a denial; the
// ledger is never mutated in either failure case.
func (c *Controller) SubmitCommand(ctx context.Context, danmaku, roomID string) (Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "admission", "SubmitCommand", telemetry.RoomIDAttr(roomID))
	defer span.End()

	start := time.Now()
	now := c.now()

	tpl := command.Classify(danmaku)

	code := challenge.Generate(tpl.Power, now)
	if !challenge.Validate(danmaku, code) {
		telemetry.LoggerWithCorr(ctx).Debug("challenge rejected",
			slog.String("room_id", roomID), slog.Int("power", tpl.Power))
		d := denied(ReasonInvalidChallenge, 0, 0, 0, 0)
		c.observe(ctx, d, start)
		return d, nil
	}

	limits := func() (int, int, error) { return c.Policies.Limits(ctx, roomID) }

	var (
		res quota.Reservation
		err error
	)
	if tpl.Category == command.CategoryFanOut {
		res, err = c.Ledger.ReserveFanout(now, c.ResetHour, roomID, limits)
	} else {
		res, err = c.Ledger.ReserveSingle(now, c.ResetHour, roomID, tpl.Quantity, limits)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return Decision{}, err
	}

	var d Decision
	if tpl.Category == command.CategoryFanOut {
		d = c.fanoutDecision(res)
	} else {
		d = c.singleDecision(res, tpl.Account)
	}
	c.observe(ctx, d, start)
	c.logDecision(ctx, roomID, d, res)
	return d, nil
}

// SubmitBattleAssist runs the trusted entry path: no classification, no
// challenge. Quantity is 10 when the room's enhanced mode is on, else 1, and
// the dispatch account is always ghost.
func (c *Controller) SubmitBattleAssist(ctx context.Context, roomID string) (Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "admission", "SubmitBattleAssist", telemetry.RoomIDAttr(roomID))
	defer span.End()

	start := time.Now()
	now := c.now()

	enhanced, err := c.Policies.EnhancedMode(ctx, roomID)
	if err != nil {
		telemetry.RecordError(span, err)
		return Decision{}, err
	}
	qty := command.BattleAssistQuantity(enhanced)

	limits := func() (int, int, error) { return c.Policies.Limits(ctx, roomID) }
	res, err := c.Ledger.ReserveSingle(now, c.ResetHour, roomID, qty, limits)
	if err != nil {
		telemetry.RecordError(span, err)
		return Decision{}, err
	}

	d := c.singleDecision(res, command.AccountGhost)
	c.observe(ctx, d, start)
	c.logDecision(ctx, roomID, d, res)
	return d, nil
}

// SetEnhancedMode toggles the room's enhanced-mode flag. Direct policy
// mutation; no quota interaction.
func (c *Controller) SetEnhancedMode(ctx context.Context, roomID string, enabled bool) error {
	return c.Policies.SetEnhancedMode(ctx, roomID, enabled)
}

// Usage returns the room's current counters and ceilings for reporting.
func (c *Controller) Usage(ctx context.Context, roomID string) (hourlyUsed, maxHourly, dailyUsed, maxDaily int, err error) {
	maxHourly, maxDaily, err = c.Policies.Limits(ctx, roomID)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	hourlyUsed, dailyUsed = c.Ledger.Peek(roomID)
	return hourlyUsed, maxHourly, dailyUsed, maxDaily, nil
}

func (c *Controller) singleDecision(res quota.Reservation, account command.Account) Decision {
	if res.Granted {
		return approved(Plan{Kind: PlanSingle, Account: account, Quantity: res.Quantity})
	}
	reason := ReasonHourlyQuotaExceeded
	if res.Deny == quota.DenyDaily {
		reason = ReasonDailyQuotaExceeded
	}
	return denied(reason, res.HourlyUsed, res.MaxHourly, res.DailyUsed, res.MaxDaily)
}

func (c *Controller) fanoutDecision(res quota.Reservation) Decision {
	if res.Granted {
		return approved(Plan{
			Kind:     PlanFanOut,
			Accounts: command.FanOutAccounts,
			Quantity: res.Quantity,
			Total:    res.Total,
		})
	}
	// DenyNoBudget maps to the hourly reason: the split budget is hourly.
	reason := ReasonHourlyQuotaExceeded
	if res.Deny == quota.DenyDaily {
		reason = ReasonDailyQuotaExceeded
	}
	return denied(reason, res.HourlyUsed, res.MaxHourly, res.DailyUsed, res.MaxDaily)
}

func (c *Controller) observe(ctx context.Context, d Decision, start time.Time) {
	telemetry.ObserveAdmission(time.Since(start))
	if d.Approved {
		telemetry.CountApproved(d.Plan.Kind == PlanFanOut)
		total := d.Plan.Quantity
		if d.Plan.Kind == PlanFanOut {
			total = d.Plan.Total
		}
		telemetry.AddBatteryReserved(total)
		return
	}
	telemetry.CountDenied(string(d.Reason))
}

func (c *Controller) logDecision(ctx context.Context, roomID string, d Decision, res quota.Reservation) {
	log := telemetry.LoggerWithCorr(ctx)
	if d.Approved {
		log.Info("admission approved",
			slog.String("room_id", roomID),
			slog.Int("quantity", d.Plan.Quantity),
			slog.Bool("fanout", d.Plan.Kind == PlanFanOut),
			slog.Int("hourly_used", res.HourlyUsed), slog.Int("hourly_limit", res.MaxHourly),
			slog.Int("daily_used", res.DailyUsed), slog.Int("daily_limit", res.MaxDaily))
		return
	}
	log.Info("admission denied",
		slog.String("room_id", roomID),
		slog.String("reason", string(d.Reason)),
		slog.Int("hourly_used", d.HourlyUsed), slog.Int("hourly_limit", d.HourlyLimit),
		slog.Int("daily_used", d.DailyUsed), slog.Int("daily_limit", d.DailyLimit))
}
