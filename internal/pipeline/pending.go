package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/storage"
)

// pendingLog owns the durable pending-submission sequence. All mutations go
// through one mutex, so two overlapping sync passes can never lose an
// append or double-remove an entry. Nothing outside the pipeline writes
// this key.
type pendingLog struct {
	mu  sync.Mutex
	kv  storage.KV
	log zerolog.Logger
}

func newPendingLog(kv storage.KV, log zerolog.Logger) *pendingLog {
	return &pendingLog{
		kv:  kv,
		log: log.With().Str("component", "pending_log").Logger(),
	}
}

// Entries returns a snapshot of the queued submissions, oldest first.
func (l *pendingLog) Entries(ctx context.Context) []model.PendingSubmission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked(ctx)
}

// Append queues an entry at the tail.
func (l *pendingLog) Append(ctx context.Context, entry model.PendingSubmission) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.readLocked(ctx)
	entries = append(entries, entry)
	return l.writeLocked(ctx, entries)
}

// Remove deletes the entry with the given local id. Removing an absent id
// is a no-op.
func (l *pendingLog) Remove(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.readLocked(ctx)
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return l.writeLocked(ctx, kept)
}

// RemoveByExam deletes every entry for examID. Used after an online submit
// succeeds, in case an earlier attempt for the same exam was queued.
func (l *pendingLog) RemoveByExam(ctx context.Context, examID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.readLocked(ctx)
	kept := entries[:0]
	for _, e := range entries {
		if e.ExamID != examID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return l.writeLocked(ctx, kept)
}

// readLocked loads the log, treating missing or corrupt data as empty.
// Caller holds mu.
func (l *pendingLog) readLocked(ctx context.Context) []model.PendingSubmission {
	raw, err := l.kv.Get(ctx, config.StorageKey.PendingSubmissionsKey())
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		l.log.Error().Err(err).Msg("Pending log read failed")
		return nil
	}

	var entries []model.PendingSubmission
	if err := json.Unmarshal(raw, &entries); err != nil {
		l.log.Warn().Err(err).Msg("Pending log corrupt, discarding")
		return nil
	}
	return entries
}

// writeLocked persists the whole log. Caller holds mu.
func (l *pendingLog) writeLocked(ctx context.Context, entries []model.PendingSubmission) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal pending log: %w", err)
	}
	if err := l.kv.Set(ctx, config.StorageKey.PendingSubmissionsKey(), raw); err != nil {
		return fmt.Errorf("write pending log: %w", err)
	}
	return nil
}
