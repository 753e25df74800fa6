package store

import (
	"context"
	"fmt"
	"time"
)

// UsageRecord is one LLM call's token accounting.
type UsageRecord struct {
	InputTokens    int64
	OutputTokens   int64
	Model          string
	Provider       string
	ResponseTimeMs int64
}

// UsageTotals aggregates usage over a period.
type UsageTotals struct {
	Calls        int64 `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// LogUsage records token usage for one call.
func (s *Store) LogUsage(ctx context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO usage (ts, input, output, model, provider, response_time_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	`, s.nowMillis(), rec.InputTokens, rec.OutputTokens, rec.Model, rec.Provider, rec.ResponseTimeMs)
	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}
	return nil
}

// UsageSince sums usage recorded within the trailing period.
func (s *Store) UsageSince(ctx context.Context, period time.Duration) (*UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().Add(-period).UnixMilli()
	totals := &UsageTotals{}
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*), COALESCE(SUM(input), 0), COALESCE(SUM(output), 0)
	FROM usage WHERE ts >= ?
	`, since).Scan(&totals.Calls, &totals.InputTokens, &totals.OutputTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to sum usage: %w", err)
	}
	return totals, nil
}
