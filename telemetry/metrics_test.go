package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestHelpersSafeBeforeInit(t *testing.T) {
	// All recording helpers must be no-ops until Init wires the collectors.
	CountApproved(true)
	CountDenied("hourly_quota_exceeded")
	AddBatteryReserved(48)
	CountDailySnapshot()
	ObserveAdmission(time.Millisecond)
	TimeFunc(nil, func() {})
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // second call must not re-register with the default registry

	if AdmissionsApproved == nil || AdmissionsDenied == nil || DispatchDuration == nil {
		t.Fatal("Init left collectors unset")
	}
	CountApproved(false)
	CountDenied("invalid_challenge")
	AddBatteryReserved(10)
	ObserveAdmission(2 * time.Millisecond)
}

func TestTimeFunc(t *testing.T) {
	ran := false
	d := TimeFunc(nil, func() { ran = true })
	if !ran {
		t.Error("TimeFunc did not invoke fn")
	}
	if d < 0 {
		t.Errorf("negative duration %v", d)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation on bare context = %q, want empty", got)
	}
	ctx = WithCorrelation(ctx, "corr-42")
	if got := GetCorrelation(ctx); got != "corr-42" {
		t.Errorf("GetCorrelation = %q, want corr-42", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
