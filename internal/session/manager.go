// Package session assembles one exam attempt: paper (fetched or restored
// from the offline snapshot), answer sheet, countdown and proctor stream.
// One attempt runs at a time, and one attempt produces exactly one
// submission, whether the student finishes explicitly or the countdown
// expires.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/answers"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/countdown"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/pipeline"
	"github.com/stemsi/exstem-agent/internal/proctor"
	"github.com/stemsi/exstem-agent/internal/storage"
)

var (
	ErrSessionActive   = errors.New("session: another attempt is already active")
	ErrNoSession       = errors.New("session: no active attempt")
	ErrExamUnavailable = errors.New("session: exam unavailable online and not cached")
	ErrQuestionUnknown = errors.New("session: question not in this exam")
	ErrTypeMismatch    = errors.New("session: answer variant does not match question type")
	ErrIndexOutOfRange = errors.New("session: question index out of range")
)

// ExamFetcher is the paper-fetch capability the manager needs from the
// backend client.
type ExamFetcher interface {
	FetchExam(ctx context.Context, examID string) (*model.Exam, error)
}

// Identity exposes who is taking the exam; satisfied by the token holder.
type Identity interface {
	Subject() string
}

// State is the session snapshot served to the UI shell.
type State struct {
	ExamID           string            `json:"exam_id"`
	ExamTitle        string            `json:"exam_title"`
	DurationSeconds  int               `json:"duration_seconds"`
	RemainingSeconds int               `json:"remaining_seconds"`
	TimerState       countdown.State   `json:"timer_state"`
	CurrentIndex     int               `json:"current_index"`
	TotalQuestions   int               `json:"total_questions"`
	AnsweredCount    int               `json:"answered_count"`
	Answered         map[string]bool   `json:"answered"`
	StorageDegraded  bool              `json:"storage_degraded"`
	Finished         bool              `json:"finished"`
	Outcome          *pipeline.Outcome `json:"outcome,omitempty"`
}

// Manager runs at most one attempt at a time.
type Manager struct {
	mu sync.Mutex

	kv       storage.KV
	fetcher  ExamFetcher
	identity Identity
	answers  *answers.Store
	pipe     *pipeline.Pipeline
	online   func() bool
	// proctorURL builds the stream URL for an exam; nil disables proctoring.
	proctorURL func(examID string) string
	log        zerolog.Logger

	// active attempt; nil when idle
	exam     *model.Exam
	timer    *countdown.Controller
	reporter *proctor.Reporter
	current  int
	finished bool
	outcome  *pipeline.Outcome
}

// NewManager wires a session manager.
func NewManager(
	kv storage.KV,
	fetcher ExamFetcher,
	identity Identity,
	answerStore *answers.Store,
	pipe *pipeline.Pipeline,
	online func() bool,
	proctorURL func(examID string) string,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		kv:         kv,
		fetcher:    fetcher,
		identity:   identity,
		answers:    answerStore,
		pipe:       pipe,
		online:     online,
		proctorURL: proctorURL,
		log:        log.With().Str("component", "session").Logger(),
	}
}

// Start begins an attempt at examID: resolve the paper (network first, then
// the offline snapshot), restore the answer sheet, start the countdown
// wired to auto-finish on expiry, and open the proctor stream. A session
// started while the page is hidden begins with the countdown suspended; it
// starts ticking on the first visible report.
func (m *Manager) Start(ctx context.Context, examID string, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam != nil && !m.finished {
		return ErrSessionActive
	}

	exam, err := m.resolveExam(ctx, examID)
	if err != nil {
		return err
	}
	if len(exam.Questions) == 0 {
		return fmt.Errorf("%w: exam has no questions", ErrExamUnavailable)
	}
	// A paper without a positive time budget cannot be sat. Rejecting here
	// also keeps the countdown from expiring inside this locked section.
	if exam.DurationSeconds <= 0 {
		return fmt.Errorf("%w: exam has no time budget", ErrExamUnavailable)
	}

	if err := m.answers.Load(ctx, examID); err != nil {
		return fmt.Errorf("restore answers: %w", err)
	}

	m.exam = exam
	m.current = 0
	m.finished = false
	m.outcome = nil
	m.timer = countdown.New(exam.DurationSeconds, m.autoFinish, m.log)
	m.timer.Start()
	if !visible {
		m.timer.Suspend()
	}

	if m.proctorURL != nil {
		m.reporter = proctor.NewReporter(m.proctorURL(examID), m.log)
		m.reporter.Start(context.Background())
	}

	m.log.Info().
		Str("exam_id", examID).
		Int("questions", len(exam.Questions)).
		Int("duration", exam.DurationSeconds).
		Msg("Session started")
	return nil
}

// resolveExam fetches the paper online and snapshots it, or falls back to
// the snapshot when fetching is impossible. Caller holds mu.
func (m *Manager) resolveExam(ctx context.Context, examID string) (*model.Exam, error) {
	if m.online() {
		exam, err := m.fetcher.FetchExam(ctx, examID)
		if err == nil {
			if raw, merr := json.Marshal(exam); merr == nil {
				if serr := m.kv.Set(ctx, config.StorageKey.ExamDataKey(examID), raw); serr != nil {
					m.log.Warn().Err(serr).Str("exam_id", examID).Msg("Exam snapshot write failed")
				}
			}
			return exam, nil
		}
		m.log.Warn().Err(err).Str("exam_id", examID).Msg("Exam fetch failed, trying snapshot")
	}

	raw, err := m.kv.Get(ctx, config.StorageKey.ExamDataKey(examID))
	if err != nil {
		return nil, ErrExamUnavailable
	}

	var exam model.Exam
	if err := json.Unmarshal(raw, &exam); err != nil {
		m.log.Warn().Err(err).Str("exam_id", examID).Msg("Exam snapshot corrupt")
		return nil, ErrExamUnavailable
	}
	return &exam, nil
}

// State returns the current attempt snapshot.
func (m *Manager) State() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam == nil {
		return nil, ErrNoSession
	}

	answered := make(map[string]bool, len(m.exam.Questions))
	count := 0
	for i := range m.exam.Questions {
		q := &m.exam.Questions[i]
		ok := m.answers.Answered(q)
		answered[q.ID] = ok
		if ok {
			count++
		}
	}

	return &State{
		ExamID:           m.exam.ID,
		ExamTitle:        m.exam.Title,
		DurationSeconds:  m.exam.DurationSeconds,
		RemainingSeconds: m.timer.Remaining(),
		TimerState:       m.timer.State(),
		CurrentIndex:     m.current,
		TotalQuestions:   len(m.exam.Questions),
		AnsweredCount:    count,
		Answered:         answered,
		StorageDegraded:  m.answers.Degraded(),
		Finished:         m.finished,
		Outcome:          m.outcome,
	}, nil
}

// Goto moves the question pointer to index.
func (m *Manager) Goto(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam == nil {
		return ErrNoSession
	}
	if index < 0 || index >= len(m.exam.Questions) {
		return ErrIndexOutOfRange
	}
	m.current = index
	return nil
}

// Next advances the question pointer; at the last question it stays put.
func (m *Manager) Next() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam == nil {
		return ErrNoSession
	}
	if m.current < len(m.exam.Questions)-1 {
		m.current++
	}
	return nil
}

// Prev moves the question pointer back; at the first question it stays put.
func (m *Manager) Prev() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam == nil {
		return ErrNoSession
	}
	if m.current > 0 {
		m.current--
	}
	return nil
}

// Question returns the question at the current pointer.
func (m *Manager) Question() (*model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam == nil {
		return nil, ErrNoSession
	}
	return &m.exam.Questions[m.current], nil
}

// Record returns the saved answer for the question at the current pointer,
// nil when it has not been answered yet.
func (m *Manager) Record() (*model.AnswerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam == nil {
		return nil, ErrNoSession
	}
	return m.answers.Record(&m.exam.Questions[m.current]), nil
}

// Visibility relays a page visibility transition: hidden suspends the
// countdown, visible resumes it, and both sides are reported to the proctor
// stream.
func (m *Manager) Visibility(visible bool) error {
	m.mu.Lock()
	timer := m.timer
	reporter := m.reporter
	m.mu.Unlock()

	if timer == nil {
		return ErrNoSession
	}

	if visible {
		timer.Resume()
	} else {
		timer.Suspend()
	}
	if reporter != nil {
		reporter.ReportVisibility(!visible)
	}
	return nil
}

// ─── Answering ──────────────────────────────────────────────────────

// SetChoice records a MULTIPLE_CHOICE or TRUE_FALSE selection.
func (m *Manager) SetChoice(ctx context.Context, questionID, optionID string) error {
	q, err := m.question(questionID)
	if err != nil {
		return err
	}
	if q.QuestionType != model.QuestionTypeMultipleChoice && q.QuestionType != model.QuestionTypeTrueFalse {
		return ErrTypeMismatch
	}
	m.answers.SetChoice(ctx, questionID, optionID)
	return nil
}

// SetText records a SHORT_ANSWER text.
func (m *Manager) SetText(ctx context.Context, questionID, text string) error {
	q, err := m.question(questionID)
	if err != nil {
		return err
	}
	if q.QuestionType != model.QuestionTypeShortAnswer {
		return ErrTypeMismatch
	}
	m.answers.SetText(ctx, questionID, text)
	return nil
}

// SetMatch records one MATCHING pair.
func (m *Manager) SetMatch(ctx context.Context, questionID, leftID, rightID string) error {
	q, err := m.question(questionID)
	if err != nil {
		return err
	}
	if q.QuestionType != model.QuestionTypeMatching {
		return ErrTypeMismatch
	}
	m.answers.SetMatch(ctx, questionID, leftID, rightID)
	return nil
}

// SetOrdering records an ORDERING permutation. The permutation must contain
// exactly the question's item ids.
func (m *Manager) SetOrdering(ctx context.Context, questionID string, order []string) error {
	q, err := m.question(questionID)
	if err != nil {
		return err
	}
	if q.QuestionType != model.QuestionTypeOrdering {
		return ErrTypeMismatch
	}
	if !samePermutation(order, q.DefaultOrder()) {
		return fmt.Errorf("%w: ordering must permute the question's items", ErrTypeMismatch)
	}
	m.answers.SetOrdering(ctx, questionID, order)
	return nil
}

func (m *Manager) question(questionID string) (*model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exam == nil {
		return nil, ErrNoSession
	}
	for i := range m.exam.Questions {
		if m.exam.Questions[i].ID == questionID {
			return &m.exam.Questions[i], nil
		}
	}
	return nil, ErrQuestionUnknown
}

func samePermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}

// ─── Finishing ──────────────────────────────────────────────────────

// Finish concludes the attempt and runs the submission pipeline. Calling
// Finish on an already-finished attempt returns the recorded outcome
// instead of producing a second submission.
func (m *Manager) Finish(ctx context.Context) (pipeline.Outcome, error) {
	return m.finish(ctx, "explicit")
}

// autoFinish is the countdown expiry callback.
func (m *Manager) autoFinish() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := m.finish(ctx, "expiry"); err != nil && !errors.Is(err, ErrNoSession) {
		m.log.Error().Err(err).Msg("Auto-finish failed")
	}
}

func (m *Manager) finish(ctx context.Context, reason string) (pipeline.Outcome, error) {
	m.mu.Lock()
	if m.exam == nil {
		m.mu.Unlock()
		return pipeline.Outcome{}, ErrNoSession
	}
	if m.finished {
		outcome := *m.outcome
		m.mu.Unlock()
		return outcome, nil
	}
	// Mark finished before releasing the lock so a concurrent explicit
	// finish and timer expiry cannot both submit.
	m.finished = true

	exam := m.exam
	timer := m.timer
	reporter := m.reporter
	remaining := timer.Remaining()
	sheet := m.answers.Sheet()
	userID := m.identity.Subject()
	m.mu.Unlock()

	timer.Stop()

	outcome, err := m.pipe.Submit(ctx, pipeline.Submission{
		Exam:             exam,
		Sheet:            sheet,
		UserID:           userID,
		DurationSeconds:  exam.DurationSeconds,
		RemainingSeconds: remaining,
	})

	m.mu.Lock()
	if err != nil {
		// The attempt could not even be queued; keep the session open so
		// a later finish can retry.
		m.finished = false
		m.mu.Unlock()
		return pipeline.Outcome{}, err
	}
	m.outcome = &outcome
	m.mu.Unlock()

	// The attempt now lives in the result or the pending log; the snapshot
	// has no further use either way.
	if derr := m.kv.Delete(ctx, config.StorageKey.ExamDataKey(exam.ID)); derr != nil {
		m.log.Warn().Err(derr).Str("exam_id", exam.ID).Msg("Exam snapshot delete failed")
	}
	if reporter != nil {
		reporter.Stop()
	}

	m.log.Info().
		Str("exam_id", exam.ID).
		Str("reason", reason).
		Str("outcome", string(outcome.Status)).
		Msg("Session finished")
	return outcome, nil
}

// Close tears the active attempt down without submitting. Used on agent
// shutdown; the durable sheet stays so the attempt resumes on restart.
func (m *Manager) Close() {
	m.mu.Lock()
	timer := m.timer
	reporter := m.reporter
	m.exam = nil
	m.timer = nil
	m.reporter = nil
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if reporter != nil {
		reporter.Stop()
	}
}
