// Package pipeline turns a finished attempt into a delivered submission.
// Only two outcomes exist: submitted online or queued for later. A finished
// attempt is never lost. Every failure class on the online path (transport error, timeout,
// server error, unusable response body) falls back to the durable queue,
// and the sync pass drains the queue whenever connectivity returns.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/storage"
)

// Backend is the submit capability the pipeline needs from the HTTP client.
type Backend interface {
	SubmitExam(ctx context.Context, examID string, answers []model.WireAnswer, timeSpentSeconds int) (*model.Result, error)
}

// AnswerClearer removes an exam's durable answer sheet once its submission
// is confirmed or durably queued.
type AnswerClearer interface {
	Clear(ctx context.Context, examID string) error
}

// OutcomeStatus is the submission verdict reported to the caller.
type OutcomeStatus string

const (
	// OutcomeSubmitted means the backend acknowledged the submission and a
	// normalized result is attached.
	OutcomeSubmitted OutcomeStatus = "SUBMITTED"
	// OutcomeQueued means the submission is durably queued and will be
	// retried automatically on reconnect.
	OutcomeQueued OutcomeStatus = "QUEUED"
)

// Outcome is the pipeline's answer to a Submit call. There is no failure
// outcome: a submission that cannot be delivered is queued.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Result *model.Result `json:"result,omitempty"`
}

// Submission is one finished attempt handed to the pipeline.
type Submission struct {
	Exam             *model.Exam
	Sheet            *model.AnswerSheet
	UserID           string
	DurationSeconds  int
	RemainingSeconds int
}

// Pipeline orchestrates submit, queue and sync.
type Pipeline struct {
	backend Backend
	answers AnswerClearer
	pending *pendingLog
	online  func() bool
	syncing atomic.Bool
	now     func() time.Time
	log     zerolog.Logger
}

// New creates a pipeline. online reports current connectivity; the pipeline
// never probes the network itself.
func New(kv storage.KV, backend Backend, answers AnswerClearer, online func() bool, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		backend: backend,
		answers: answers,
		pending: newPendingLog(kv, log),
		online:  online,
		now:     time.Now,
		log:     log.With().Str("component", "pipeline").Logger(),
	}
}

// Submit finalizes one attempt. Detected-offline skips the network entirely;
// an online attempt that fails for any reason takes the same queue path.
// Either way the exam's durable answer sheet is cleared before returning —
// the attempt now lives in the result or in the pending log, not in the
// sheet.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	timeSpent := sub.DurationSeconds - sub.RemainingSeconds
	if timeSpent < 1 {
		// Zero-duration results trip downstream grading; one second is the
		// floor.
		timeSpent = 1
	}

	wire := BuildWireAnswers(sub.Exam, sub.Sheet)

	if !p.online() {
		return p.queue(ctx, sub, wire, timeSpent)
	}

	result, err := p.backend.SubmitExam(ctx, sub.Exam.ID, wire, timeSpent)
	if err != nil {
		p.log.Warn().Err(err).Str("exam_id", sub.Exam.ID).Msg("Online submit failed, queueing")
		return p.queue(ctx, sub, wire, timeSpent)
	}

	if err := p.answers.Clear(ctx, sub.Exam.ID); err != nil {
		p.log.Error().Err(err).Str("exam_id", sub.Exam.ID).Msg("Answer clear failed after submit")
	}
	if err := p.pending.RemoveByExam(ctx, sub.Exam.ID); err != nil {
		p.log.Error().Err(err).Str("exam_id", sub.Exam.ID).Msg("Pending cleanup failed after submit")
	}

	p.log.Info().
		Str("exam_id", sub.Exam.ID).
		Float64("score", result.Score).
		Msg("Submission delivered")
	return Outcome{Status: OutcomeSubmitted, Result: result}, nil
}

// queue appends a durable pending entry and clears the answer sheet. A
// failed append is the one unrecoverable spot in the pipeline: the sheet is
// then deliberately left intact so the attempt still exists somewhere.
func (p *Pipeline) queue(ctx context.Context, sub Submission, wire []model.WireAnswer, timeSpent int) (Outcome, error) {
	entry := model.PendingSubmission{
		ID:               uuid.New().String(),
		ExamID:           sub.Exam.ID,
		UserID:           sub.UserID,
		SubmittedAt:      p.now().UTC().Format(time.RFC3339),
		Answers:          wire,
		TimeSpentSeconds: timeSpent,
	}

	if err := p.pending.Append(ctx, entry); err != nil {
		p.log.Error().Err(err).Str("exam_id", sub.Exam.ID).Msg("Pending append failed")
		return Outcome{}, err
	}

	if err := p.answers.Clear(ctx, sub.Exam.ID); err != nil {
		p.log.Error().Err(err).Str("exam_id", sub.Exam.ID).Msg("Answer clear failed after queue")
	}

	p.log.Info().
		Str("exam_id", sub.Exam.ID).
		Str("pending_id", entry.ID).
		Msg("Submission queued")
	return Outcome{Status: OutcomeQueued}, nil
}

// Pending returns a snapshot of the queued submissions.
func (p *Pipeline) Pending(ctx context.Context) []model.PendingSubmission {
	return p.pending.Entries(ctx)
}

// SyncPass drains the pending log: every entry is attempted independently
// (a later entry never waits on an earlier round-trip to start) and
// removals are serialized through the log's mutex. Invalid entries are
// dropped; transient failures stay for the next pass. A second trigger
// while a pass is in flight is a no-op. Returns the number of entries
// delivered.
func (p *Pipeline) SyncPass(ctx context.Context) int {
	if !p.syncing.CompareAndSwap(false, true) {
		p.log.Debug().Msg("Sync pass already running")
		return 0
	}
	defer p.syncing.Store(false)

	entries := p.pending.Entries(ctx)
	if len(entries) == 0 {
		return 0
	}
	p.log.Info().Int("count", len(entries)).Msg("Sync pass started")

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, entry := range entries {
		if !entry.Valid() {
			p.log.Warn().Str("pending_id", entry.ID).Msg("Dropping invalid pending entry")
			if err := p.pending.Remove(ctx, entry.ID); err != nil {
				p.log.Error().Err(err).Str("pending_id", entry.ID).Msg("Pending drop failed")
			}
			continue
		}

		wg.Add(1)
		go func(entry model.PendingSubmission) {
			defer wg.Done()

			if _, err := p.backend.SubmitExam(ctx, entry.ExamID, entry.Answers, entry.TimeSpentSeconds); err != nil {
				p.log.Warn().Err(err).
					Str("pending_id", entry.ID).
					Str("exam_id", entry.ExamID).
					Msg("Pending retry failed, keeping for next pass")
				return
			}

			if err := p.pending.Remove(ctx, entry.ID); err != nil {
				p.log.Error().Err(err).Str("pending_id", entry.ID).Msg("Pending remove failed")
				return
			}
			delivered.Add(1)
			p.log.Info().
				Str("pending_id", entry.ID).
				Str("exam_id", entry.ExamID).
				Msg("Pending submission delivered")
		}(entry)
	}
	wg.Wait()

	return int(delivered.Load())
}
