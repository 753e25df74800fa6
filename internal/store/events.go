package store

import (
	"context"
	"fmt"
	"strings"
)

// Event is an audit trail entry (logins, logouts, maintenance runs).
type Event struct {
	ID       int64  `json:"id"`
	TS       int64  `json:"ts"`
	Action   string `json:"action"`
	Actor    string `json:"actor"`
	Resource string `json:"resource"`
	Status   string `json:"status"`
	Details  string `json:"details"`
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	Action string
	Limit  int
}

// LogEvent appends an event. Status defaults to "ok".
func (s *Store) LogEvent(ctx context.Context, ev Event) error {
	if ev.Status == "" {
		ev.Status = "ok"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO events (ts, action, actor, resource, status, details)
	VALUES (?, ?, ?, ?, ?, ?)
	`, s.nowMillis(), ev.Action, ev.Actor, ev.Resource, ev.Status, ev.Details)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}

	var (
		where []string
		args  []any
	)
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}

	query := `SELECT id, ts, action, actor, resource, status, details FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Action, &ev.Actor, &ev.Resource, &ev.Status, &ev.Details); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
