package store

import (
	"context"
	"fmt"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
)

// ArchiveOldChats moves chat messages older than days into
// chat_messages_archive and returns how many left the live table.
func (s *Store) ArchiveOldChats(ctx context.Context, days int) (int64, error) {
	cutoff := s.cutoffMillis(days)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewStoreError("archive_chats", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT OR IGNORE INTO chat_messages_archive (id, ts, provider, channel, role, content)
	SELECT id, ts, provider, channel, role, content FROM chat_messages WHERE ts < ?
	`, cutoff)
	if err != nil {
		return 0, apperrors.NewStoreError("archive_chats", fmt.Errorf("copy to archive: %w", err))
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, apperrors.NewStoreError("archive_chats", fmt.Errorf("delete archived: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStoreError("archive_chats", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewStoreError("archive_chats", err)
	}
	if n > 0 {
		s.history.Clear()
	}
	return n, nil
}

// ArchiveOldUsage deletes usage rows older than days.
func (s *Store) ArchiveOldUsage(ctx context.Context, days int) (int64, error) {
	n, err := s.deleteOlderThan(ctx, "usage", days)
	return n, apperrors.NewStoreError("archive_usage", err)
}

// CleanupOldEvents deletes events older than days.
func (s *Store) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	n, err := s.deleteOlderThan(ctx, "events", days)
	return n, apperrors.NewStoreError("cleanup_events", err)
}

// table is always one of our own constants, never user input.
func (s *Store) deleteOlderThan(ctx context.Context, table string, days int) (int64, error) {
	cutoff := s.cutoffMillis(days)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE ts < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
