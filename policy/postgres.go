package policy

import (
	"context"
	"database/sql"
	"fmt"
)

// PGStore persists room policies in the room_policies table.
type PGStore struct {
	DB *sql.DB
}

func (s *PGStore) Load(ctx context.Context) (map[string]RoomPolicy, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT room_id, max_hourly, max_daily, enhanced_mode FROM room_policies`)
	if err != nil {
		return nil, fmt.Errorf("query room_policies: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]RoomPolicy)
	for rows.Next() {
		var id string
		var p RoomPolicy
		if err := rows.Scan(&id, &p.MaxHourly, &p.MaxDaily, &p.EnhancedMode); err != nil {
			return nil, fmt.Errorf("scan room_policies: %w", err)
		}
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room_policies: %w", err)
	}
	return out, nil
}

func (s *PGStore) Save(ctx context.Context, roomID string, p RoomPolicy) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO room_policies(room_id, max_hourly, max_daily, enhanced_mode, updated_at)
		VALUES($1,$2,$3,$4,NOW())
		ON CONFLICT(room_id) DO UPDATE SET
		  max_hourly=EXCLUDED.max_hourly,
		  max_daily=EXCLUDED.max_daily,
		  enhanced_mode=EXCLUDED.enhanced_mode,
		  updated_at=NOW()`, roomID, p.MaxHourly, p.MaxDaily, p.EnhancedMode)
	if err != nil {
		return fmt.Errorf("upsert room_policies: %w", err)
	}
	return nil
}
