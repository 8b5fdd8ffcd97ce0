package answers

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/storage"
)

func question(id string, typ model.QuestionType) *model.Question {
	return &model.Question{ID: id, QuestionType: typ}
}

func newLoadedStore(t *testing.T, kv storage.KV, examID string) *Store {
	t.Helper()
	s := NewStore(kv, zerolog.Nop())
	if err := s.Load(context.Background(), examID); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s
}

func TestSetAnswerIsIdempotentOnDisk(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newLoadedStore(t, kv, "exam-1")

	s.SetChoice(ctx, "q1", "b")
	first, err := kv.Get(ctx, config.StorageKey.ExamAnswersKey("exam-1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	s.SetChoice(ctx, "q1", "b")
	second, err := kv.Get(ctx, config.StorageKey.ExamAnswersKey("exam-1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("repeated SetChoice changed durable bytes:\n%s\n%s", first, second)
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newLoadedStore(t, kv, "exam-1")

	s.SetChoice(ctx, "q1", "a")
	s.SetChoice(ctx, "q1", "c") // last write wins
	s.SetText(ctx, "q2", "fotosintesis")
	s.SetMatch(ctx, "q3", "l1", "r2")
	s.SetMatch(ctx, "q3", "l2", "r1")
	s.SetOrdering(ctx, "q4", []string{"i3", "i1", "i2"})

	restored := newLoadedStore(t, kv, "exam-1")
	sheet := restored.Sheet()

	if got := sheet.SelectedOptions["q1"]; got != "c" {
		t.Errorf("SelectedOptions[q1] = %q, want c", got)
	}
	if got := sheet.ShortAnswers["q2"]; got != "fotosintesis" {
		t.Errorf("ShortAnswers[q2] = %q", got)
	}
	if got := sheet.MatchingSelections["q3"]; got["l1"] != "r2" || got["l2"] != "r1" {
		t.Errorf("MatchingSelections[q3] = %v", got)
	}
	if got := sheet.OrderingSelections["q4"]; len(got) != 3 || got[0] != "i3" {
		t.Errorf("OrderingSelections[q4] = %v", got)
	}
}

func TestAnsweredRules(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newLoadedStore(t, kv, "exam-1")

	mc := question("q1", model.QuestionTypeMultipleChoice)
	sa := question("q2", model.QuestionTypeShortAnswer)
	match := question("q3", model.QuestionTypeMatching)
	ordering := question("q4", model.QuestionTypeOrdering)

	for _, q := range []*model.Question{mc, sa, match, ordering} {
		if s.Answered(q) {
			t.Errorf("fresh store: Answered(%s) = true", q.ID)
		}
	}

	s.SetChoice(ctx, "q1", "a")
	s.SetText(ctx, "q2", "x")
	s.SetMatch(ctx, "q3", "l1", "r1")
	// Persisting the default order still counts as answered: presence, not
	// difference from default, is the rule.
	s.SetOrdering(ctx, "q4", []string{"i1", "i2"})

	for _, q := range []*model.Question{mc, sa, match, ordering} {
		if !s.Answered(q) {
			t.Errorf("Answered(%s) = false after set", q.ID)
		}
	}

	// Clearing the text makes the question unanswered again.
	s.SetText(ctx, "q2", "")
	if s.Answered(sa) {
		t.Error("Answered(q2) = true after empty text")
	}
}

func TestRecordVariants(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newLoadedStore(t, kv, "exam-1")

	mc := question("q1", model.QuestionTypeMultipleChoice)
	match := question("q3", model.QuestionTypeMatching)
	ordering := question("q4", model.QuestionTypeOrdering)

	if rec := s.Record(mc); rec != nil {
		t.Errorf("Record on unanswered question = %+v, want nil", rec)
	}

	s.SetChoice(ctx, "q1", "b")
	rec := s.Record(mc)
	if rec == nil || rec.SelectedOption != "b" || rec.Type != model.QuestionTypeMultipleChoice {
		t.Errorf("Record(q1) = %+v", rec)
	}

	s.SetMatch(ctx, "q3", "l2", "r1")
	s.SetMatch(ctx, "q3", "l1", "r2")
	rec = s.Record(match)
	if rec == nil || len(rec.Pairs) != 2 {
		t.Fatalf("Record(q3) = %+v", rec)
	}
	// Pairs come back sorted by left id regardless of insertion order.
	if rec.Pairs[0].Left != "l1" || rec.Pairs[0].Right != "r2" {
		t.Errorf("Pairs = %v", rec.Pairs)
	}

	s.SetOrdering(ctx, "q4", []string{"i2", "i1"})
	rec = s.Record(ordering)
	if rec == nil || len(rec.Ordering) != 2 || rec.Ordering[0] != "i2" {
		t.Errorf("Record(q4) = %+v", rec)
	}
}

func TestLoadDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()

	raw := []byte(`{
		"selectedOptions": {"q1": "a", "q2": 42, "q3": null},
		"shortAnswers": {"q4": "ok", "q5": {"nested": true}},
		"matchingSelections": {"q6": {"l1": "r1"}, "q7": "broken"},
		"orderingSelections": {"q8": ["i1","i2"], "q9": "broken"}
	}`)
	if err := kv.Set(ctx, config.StorageKey.ExamAnswersKey("exam-1"), raw); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := newLoadedStore(t, kv, "exam-1")
	sheet := s.Sheet()

	if len(sheet.SelectedOptions) != 1 || sheet.SelectedOptions["q1"] != "a" {
		t.Errorf("SelectedOptions = %v, want only q1", sheet.SelectedOptions)
	}
	if len(sheet.ShortAnswers) != 1 || sheet.ShortAnswers["q4"] != "ok" {
		t.Errorf("ShortAnswers = %v, want only q4", sheet.ShortAnswers)
	}
	if len(sheet.MatchingSelections) != 1 {
		t.Errorf("MatchingSelections = %v, want only q6", sheet.MatchingSelections)
	}
	if len(sheet.OrderingSelections) != 1 {
		t.Errorf("OrderingSelections = %v, want only q8", sheet.OrderingSelections)
	}
}

func TestLoadCorruptDataStartsFresh(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	if err := kv.Set(ctx, config.StorageKey.ExamAnswersKey("exam-1"), []byte("{{{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := newLoadedStore(t, kv, "exam-1")
	sheet := s.Sheet()
	if len(sheet.SelectedOptions)+len(sheet.ShortAnswers)+len(sheet.MatchingSelections)+len(sheet.OrderingSelections) != 0 {
		t.Errorf("corrupt load produced non-empty sheet: %+v", sheet)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newLoadedStore(t, kv, "exam-1")

	s.SetChoice(ctx, "q1", "a")
	if err := s.Clear(ctx, "exam-1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if _, err := kv.Get(ctx, config.StorageKey.ExamAnswersKey("exam-1")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("durable sheet still present after Clear: %v", err)
	}
	if s.Answered(question("q1", model.QuestionTypeMultipleChoice)) {
		t.Error("in-memory sheet survived Clear")
	}
}

// failingKV rejects writes to simulate a full or broken store.
type failingKV struct {
	*storage.MemoryStore
	failWrites bool
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestWriteFailureDegradesButKeepsMemory(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryStore: storage.NewMemoryStore(), failWrites: true}
	s := newLoadedStore(t, kv, "exam-1")

	s.SetChoice(ctx, "q1", "a")

	if !s.Degraded() {
		t.Error("Degraded() = false after failed write")
	}
	// In-memory state stays authoritative for this process lifetime.
	if !s.Answered(question("q1", model.QuestionTypeMultipleChoice)) {
		t.Error("answer lost from memory on write failure")
	}

	// A later successful write clears the flag.
	kv.failWrites = false
	s.SetChoice(ctx, "q1", "b")
	if s.Degraded() {
		t.Error("Degraded() = true after recovered write")
	}
}
