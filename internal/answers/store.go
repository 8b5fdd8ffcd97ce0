// Package answers holds the in-memory answer sheet for one exam attempt and
// mirrors it durably on every mutation. There is deliberately no batching:
// the sheet must be on disk before the call returns so an abrupt process
// death right after an answer loses nothing.
package answers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/storage"
)

// Store is the answer store for a single exam attempt. The in-memory sheet
// is authoritative for the current process lifetime; the durable mirror is
// what survives a reload. A failed durable write degrades the store instead
// of blocking the student: answers keep working in memory, and Degraded()
// lets the API warn that a reload may lose them.
type Store struct {
	mu       sync.Mutex
	kv       storage.KV
	examID   string
	sheet    *model.AnswerSheet
	degraded bool
	log      zerolog.Logger
}

// NewStore creates an empty store bound to no exam. Call Load before use.
func NewStore(kv storage.KV, log zerolog.Logger) *Store {
	return &Store{
		kv:    kv,
		sheet: model.NewAnswerSheet(),
		log:   log.With().Str("component", "answer_store").Logger(),
	}
}

// Load binds the store to examID and reconstructs the sheet from durable
// storage. Missing data means a fresh sheet; corrupt data is discarded
// entry-by-entry, never fatal.
func (s *Store) Load(ctx context.Context, examID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.examID = examID
	s.degraded = false

	raw, err := s.kv.Get(ctx, config.StorageKey.ExamAnswersKey(examID))
	if err == storage.ErrNotFound {
		s.sheet = model.NewAnswerSheet()
		return nil
	}
	if err != nil {
		// Unreadable storage is treated like absent storage, but the
		// condition is worth a log line.
		s.log.Error().Err(err).Str("exam_id", examID).Msg("Answer sheet read failed")
		s.sheet = model.NewAnswerSheet()
		return nil
	}

	s.sheet = sanitizeSheet(raw, s.log)
	return nil
}

// SetChoice records the selected option for a MULTIPLE_CHOICE or TRUE_FALSE
// question and persists the whole sheet.
func (s *Store) SetChoice(ctx context.Context, questionID, optionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheet.SelectedOptions[questionID] = optionID
	s.persistLocked(ctx)
}

// SetText records a SHORT_ANSWER free-text answer and persists the sheet.
// Empty text removes the answer (empty means unanswered).
func (s *Store) SetText(ctx context.Context, questionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.sheet.ShortAnswers, questionID)
	} else {
		s.sheet.ShortAnswers[questionID] = text
	}
	s.persistLocked(ctx)
}

// SetMatch records one left→right pair of a MATCHING question and persists
// the sheet. Partial mappings are valid; an empty rightID clears the pair.
func (s *Store) SetMatch(ctx context.Context, questionID, leftID, rightID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs, ok := s.sheet.MatchingSelections[questionID]
	if !ok {
		pairs = make(map[string]string)
		s.sheet.MatchingSelections[questionID] = pairs
	}
	if rightID == "" {
		delete(pairs, leftID)
	} else {
		pairs[leftID] = rightID
	}
	s.persistLocked(ctx)
}

// SetOrdering records the current permutation of an ORDERING question and
// persists the sheet. Persisting the default order still counts as
// answering: presence in the sheet, not difference from default, is the
// answered rule.
func (s *Store) SetOrdering(ctx context.Context, questionID string, order []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheet.OrderingSelections[questionID] = append([]string(nil), order...)
	s.persistLocked(ctx)
}

// Answered reports whether the given question has an answer on the sheet.
func (s *Store) Answered(q *model.Question) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch q.QuestionType {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		return s.sheet.SelectedOptions[q.ID] != ""
	case model.QuestionTypeShortAnswer:
		return s.sheet.ShortAnswers[q.ID] != ""
	case model.QuestionTypeMatching:
		return len(s.sheet.MatchingSelections[q.ID]) > 0
	case model.QuestionTypeOrdering:
		_, ok := s.sheet.OrderingSelections[q.ID]
		return ok
	default:
		return false
	}
}

// Record assembles the variant-matched view of q's current answer, nil when
// the question is unanswered. Matching pairs come back sorted by left id.
func (s *Store) Record(q *model.Question) *model.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &model.AnswerRecord{QuestionID: q.ID, Type: q.QuestionType}
	switch q.QuestionType {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		opt := s.sheet.SelectedOptions[q.ID]
		if opt == "" {
			return nil
		}
		rec.SelectedOption = opt
	case model.QuestionTypeShortAnswer:
		text := s.sheet.ShortAnswers[q.ID]
		if text == "" {
			return nil
		}
		rec.Text = text
	case model.QuestionTypeMatching:
		pairs := s.sheet.MatchingSelections[q.ID]
		if len(pairs) == 0 {
			return nil
		}
		lefts := make([]string, 0, len(pairs))
		for left := range pairs {
			lefts = append(lefts, left)
		}
		sort.Strings(lefts)
		for _, left := range lefts {
			rec.Pairs = append(rec.Pairs, model.MatchPair{Left: left, Right: pairs[left]})
		}
	case model.QuestionTypeOrdering:
		order, ok := s.sheet.OrderingSelections[q.ID]
		if !ok {
			return nil
		}
		rec.Ordering = append([]string(nil), order...)
	default:
		return nil
	}
	return rec
}

// Sheet returns a deep copy of the current sheet.
func (s *Store) Sheet() *model.AnswerSheet {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := model.NewAnswerSheet()
	for k, v := range s.sheet.SelectedOptions {
		out.SelectedOptions[k] = v
	}
	for k, v := range s.sheet.ShortAnswers {
		out.ShortAnswers[k] = v
	}
	for k, pairs := range s.sheet.MatchingSelections {
		cp := make(map[string]string, len(pairs))
		for l, r := range pairs {
			cp[l] = r
		}
		out.MatchingSelections[k] = cp
	}
	for k, order := range s.sheet.OrderingSelections {
		out.OrderingSelections[k] = append([]string(nil), order...)
	}
	return out
}

// Clear removes the durable sheet for examID and resets the in-memory
// state. Called only after the submission was confirmed or durably queued.
func (s *Store) Clear(ctx context.Context, examID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, config.StorageKey.ExamAnswersKey(examID)); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	if examID == s.examID {
		s.sheet = model.NewAnswerSheet()
	}
	return nil
}

// Degraded reports whether a durable write has failed since Load. Answers
// still work in memory but may be lost on reload.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// persistLocked writes the whole sheet durably. Failure is absorbed: logged,
// degraded flag raised, student keeps answering. Caller holds mu.
func (s *Store) persistLocked(ctx context.Context) {
	raw, err := json.Marshal(s.sheet)
	if err != nil {
		s.log.Error().Err(err).Str("exam_id", s.examID).Msg("Answer sheet marshal failed")
		s.degraded = true
		return
	}

	if err := s.kv.Set(ctx, config.StorageKey.ExamAnswersKey(s.examID), raw); err != nil {
		s.log.Error().Err(err).Str("exam_id", s.examID).Msg("Answer sheet write failed")
		s.degraded = true
		return
	}
	s.degraded = false
}

// sanitizeSheet reconstructs a sheet from raw bytes, dropping malformed
// entries individually instead of discarding the student's whole progress.
func sanitizeSheet(raw []byte, log zerolog.Logger) *model.AnswerSheet {
	var loose struct {
		SelectedOptions    map[string]json.RawMessage `json:"selectedOptions"`
		ShortAnswers       map[string]json.RawMessage `json:"shortAnswers"`
		MatchingSelections map[string]json.RawMessage `json:"matchingSelections"`
		OrderingSelections map[string]json.RawMessage `json:"orderingSelections"`
	}

	sheet := model.NewAnswerSheet()
	if err := json.Unmarshal(raw, &loose); err != nil {
		log.Warn().Err(err).Msg("Answer sheet corrupt, starting fresh")
		return sheet
	}

	dropped := 0
	for qid, v := range loose.SelectedOptions {
		var opt string
		if json.Unmarshal(v, &opt) != nil || opt == "" {
			dropped++
			continue
		}
		sheet.SelectedOptions[qid] = opt
	}
	for qid, v := range loose.ShortAnswers {
		var text string
		if json.Unmarshal(v, &text) != nil || text == "" {
			dropped++
			continue
		}
		sheet.ShortAnswers[qid] = text
	}
	for qid, v := range loose.MatchingSelections {
		var pairs map[string]string
		if json.Unmarshal(v, &pairs) != nil || len(pairs) == 0 {
			dropped++
			continue
		}
		sheet.MatchingSelections[qid] = pairs
	}
	for qid, v := range loose.OrderingSelections {
		var order []string
		if json.Unmarshal(v, &order) != nil || order == nil {
			dropped++
			continue
		}
		sheet.OrderingSelections[qid] = order
	}

	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Dropped malformed answer entries")
	}
	return sheet
}
