package admission

import "github.com/onnwee/battery-gate/backend/command"

// Reason says why a request was denied. Denials are data, not errors: they are
// expected, frequent, and recoverable at the caller (usually by relaying a
// user-facing message).
type Reason string

const (
	ReasonInvalidChallenge    Reason = "invalid_challenge"
	ReasonHourlyQuotaExceeded Reason = "hourly_quota_exceeded"
	ReasonDailyQuotaExceeded  Reason = "daily_quota_exceeded"
)

// PlanKind distinguishes the two dispatch shapes.
type PlanKind int

const (
	PlanSingle PlanKind = iota
	PlanFanOut
)

// Plan is the approved outcome handed to the dispatcher. Immutable once produced.
type Plan struct {
	Kind     PlanKind
	Account  command.Account   // single only
	Quantity int               // single: the dispatch quantity; fan-out: quantity per account
	Accounts []command.Account // fan-out only, in dispatch order
	Total    int               // fan-out only: Quantity * len(Accounts)
}

// Decision is the tagged admission result. Exactly one of the two arms is
// meaningful: Plan when Approved, Reason plus the usage/limit fields otherwise.
type Decision struct {
	Approved bool
	Plan     *Plan

	Reason      Reason
	HourlyUsed  int
	HourlyLimit int
	DailyUsed   int
	DailyLimit  int
}

func approved(p Plan) Decision { return Decision{Approved: true, Plan: &p} }

func denied(reason Reason, hourlyUsed, hourlyLimit, dailyUsed, dailyLimit int) Decision {
	return Decision{
		Reason:      reason,
		HourlyUsed:  hourlyUsed,
		HourlyLimit: hourlyLimit,
		DailyUsed:   dailyUsed,
		DailyLimit:  dailyLimit,
	}
}
