package session

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

// The snapshot file maps token -> last-seen Unix time in fractional seconds,
// e.g. {"Zk3...": 1718000000.25}.

// Load replaces in-memory sessions with the snapshot file contents. A
// missing file is not an error; a corrupt one is logged and ignored.
func (r *Registry) Load() error {
	if r.cfg.SnapshotPath == "" {
		return nil
	}

	data, err := os.ReadFile(r.cfg.SnapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session snapshot: %w", err)
	}

	var raw map[string]float64
	if err := sonic.Unmarshal(data, &raw); err != nil {
		r.logger.Warn().Err(err).Str("path", r.cfg.SnapshotPath).Msg("ignoring corrupt session snapshot")
		return nil
	}

	r.mu.Lock()
	r.sessions = make(map[string]time.Time, len(raw))
	for token, secs := range raw {
		r.sessions[token] = fromUnixSeconds(secs)
	}
	r.dirty = false
	r.mu.Unlock()

	r.logger.Info().Int("sessions", len(raw)).Msg("sessions restored")
	return nil
}

// Flush writes the snapshot if anything changed since the last write.
func (r *Registry) Flush() error {
	if r.cfg.SnapshotPath == "" {
		return nil
	}

	r.ioMu.Lock()
	defer r.ioMu.Unlock()

	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	raw := make(map[string]float64, len(r.sessions))
	for token, seen := range r.sessions {
		raw[token] = toUnixSeconds(seen)
	}
	r.dirty = false
	r.mu.Unlock()

	data, err := sonic.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}
	if err := writeFileAtomic(r.cfg.SnapshotPath, data, 0o600); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// flush is Flush for call sites that cannot surface an error.
func (r *Registry) flush() {
	if err := r.Flush(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist sessions")
	}
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sessions-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
