package store

import (
	"context"
	"fmt"
	"strings"
)

// DefaultChannel is the channel used by the dashboard UI.
const DefaultChannel = "dashboard"

// ChatMessage is one persisted chat turn.
type ChatMessage struct {
	ID       int64  `json:"id"`
	TS       int64  `json:"ts"`
	Provider string `json:"provider"`
	Channel  string `json:"channel"`
	Role     string `json:"role"`
	Content  string `json:"content"`
}

// ChatStats summarizes live and archived chat rows.
type ChatStats struct {
	Total      int64            `json:"total"`
	Archived   int64            `json:"archived"`
	ByProvider map[string]int64 `json:"by_provider"`
}

// SaveChatMessage appends a message to the provider/channel history.
func (s *Store) SaveChatMessage(ctx context.Context, provider, channel, role, content string) error {
	if channel == "" {
		channel = DefaultChannel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (ts, provider, channel, role, content) VALUES (?, ?, ?, ?, ?)`,
		s.nowMillis(), provider, channel, role, content,
	)
	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}

	prefix := historyPrefix(provider, channel)
	s.history.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
	return nil
}

// LoadChatHistory returns the last limit messages of a provider/channel,
// oldest first.
func (s *Store) LoadChatHistory(ctx context.Context, provider, channel string, limit int) ([]ChatMessage, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	if limit <= 0 {
		limit = 40
	}

	key := fmt.Sprintf("%s%d", historyPrefix(provider, channel), limit)
	if cached, ok := s.history.Get(key); ok {
		return cached, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, ts, provider, channel, role, content
	FROM chat_messages
	WHERE provider = ? AND channel = ?
	ORDER BY id DESC LIMIT ?
	`, provider, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	msgs := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.TS, &m.Provider, &m.Channel, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	s.history.Put(key, msgs)
	return msgs, nil
}

// ClearChatHistory deletes every live message of a channel.
func (s *Store) ClearChatHistory(ctx context.Context, channel string) (int64, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE channel = ?`, channel)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chat history: %w", err)
	}
	s.history.Clear()
	return res.RowsAffected()
}

// ChatStats counts live messages per provider and archived messages.
func (s *Store) ChatStats(ctx context.Context) (*ChatStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ChatStats{ByProvider: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages_archive`).Scan(&stats.Archived); err != nil {
		return nil, fmt.Errorf("failed to count archived messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT provider, COUNT(*) FROM chat_messages GROUP BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to count chat messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider string
		var n int64
		if err := rows.Scan(&provider, &n); err != nil {
			return nil, fmt.Errorf("failed to scan chat count: %w", err)
		}
		stats.ByProvider[provider] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

func historyPrefix(provider, channel string) string {
	return provider + "\x00" + channel + "\x00"
}
