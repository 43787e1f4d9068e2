// Package usagesink provides consumers for the daily usage snapshot the
// ledger emits once per reset boundary.
package usagesink

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/onnwee/battery-gate/backend/quota"
	"github.com/onnwee/battery-gate/backend/telemetry"
)

// LogSink writes the snapshot to the structured log.
type LogSink struct{}

func (LogSink) EmitDailyUsage(snapshot quota.Snapshot) {
	telemetry.CountDailySnapshot()
	for roomID, used := range snapshot {
		slog.Info("daily battery usage", slog.String("room_id", roomID), slog.Int("daily_used", used), slog.String("component", "usagesink"))
	}
	slog.Info("daily usage snapshot emitted", slog.Int("rooms", len(snapshot)), slog.String("component", "usagesink"))
}

// PGSink persists one row per room into usage_snapshots. The insert runs on a
// background goroutine: the ledger lock is held while EmitDailyUsage executes,
// and no unbounded I/O may happen inside that critical section.
type PGSink struct {
	DB *sql.DB
	// Timeout bounds the background insert; defaults to 10s.
	Timeout time.Duration
}

func (s *PGSink) EmitDailyUsage(snapshot quota.Snapshot) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		for roomID, used := range snapshot {
			if _, err := s.DB.ExecContext(ctx, `INSERT INTO usage_snapshots(room_id, daily_used, recorded_at) VALUES($1,$2,NOW())`, roomID, used); err != nil {
				slog.Error("failed to persist usage snapshot row", slog.String("room_id", roomID), slog.Any("err", err), slog.String("component", "usagesink"))
				return
			}
		}
	}()
}

// MultiSink fans the snapshot out to several sinks.
type MultiSink []quota.UsageSink

func (m MultiSink) EmitDailyUsage(snapshot quota.Snapshot) {
	for _, s := range m {
		s.EmitDailyUsage(snapshot)
	}
}
