package normalize

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/stemsi/exstem-agent/internal/model"
)

// Token extracts a bearer token from raw response bytes.
func Token(raw []byte) (string, error) {
	v, err := ExtractRaw(raw, TargetToken)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrNotFound
	}
	return s, nil
}

// Exam extracts and decodes a single exam from raw response bytes.
func Exam(raw []byte) (*model.Exam, error) {
	v, err := ExtractRaw(raw, TargetExam)
	if err != nil {
		return nil, err
	}

	var exam model.Exam
	if err := redecode(v, &exam); err != nil || exam.ID == "" {
		return nil, ErrNotFound
	}
	return &exam, nil
}

// Exams extracts an exam collection. Elements that fail to decode are
// dropped rather than failing the whole list.
func Exams(raw []byte) ([]model.Exam, error) {
	v, err := ExtractRaw(raw, TargetExams)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, ErrNotFound
	}

	exams := make([]model.Exam, 0, len(arr))
	for _, el := range arr {
		var exam model.Exam
		if err := redecode(el, &exam); err != nil || exam.ID == "" {
			continue
		}
		exams = append(exams, exam)
	}
	return exams, nil
}

// Result extracts a graded result and coerces its numeric fields into the
// canonical model.Result shape.
func Result(raw []byte) (*model.Result, error) {
	v, err := ExtractRaw(raw, TargetResult)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrNotFound
	}
	return decodeResult(obj), nil
}

// Results extracts a result collection, dropping undecodable elements.
func Results(raw []byte) ([]model.Result, error) {
	v, err := ExtractRaw(raw, TargetResults)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, ErrNotFound
	}

	results := make([]model.Result, 0, len(arr))
	for _, el := range arr {
		obj, ok := el.(map[string]interface{})
		if !ok {
			continue
		}
		results = append(results, *decodeResult(obj))
	}
	return results, nil
}

// redecode marshals a located subtree back to JSON and unmarshals it into a
// typed struct. Cheap enough at response sizes, and keeps one set of json
// tags authoritative.
func redecode(v interface{}, dst interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// ─── Result field coercion ──────────────────────────────────────────

// decodeResult builds a model.Result from a raw object, tolerating snake
// and camel field names and numbers delivered as strings. Every numeric
// field ends up finite and non-negative; percentage is recomputed from
// score/total when the server value is absent or invalid, then clamped.
func decodeResult(obj map[string]interface{}) *model.Result {
	res := &model.Result{
		ID:               str(obj, "id"),
		Score:            num(obj, 0, "score"),
		TotalQuestions:   int(num(obj, 0, "total_questions", "totalQuestions")),
		TimeSpentSeconds: int(num(obj, 0, "time_spent_seconds", "timeSpentSeconds", "timeSpent")),
		Mistakes:         int(num(obj, 0, "mistakes")),
		ExamTitle:        str(obj, "exam_title", "examTitle"),
		ExamID:           str(obj, "exam_id", "examId"),
		Date:             str(obj, "date", "date_iso", "dateIso", "created_at", "createdAt"),
	}

	pct, ok := validNum(field(obj, "percentage"))
	if !ok && res.TotalQuestions > 0 {
		pct = res.Score / float64(res.TotalQuestions) * 100
	}
	res.Percentage = clamp(pct, 0, 100)

	if answers, ok := field(obj, "answers").([]interface{}); ok {
		for _, el := range answers {
			var ans model.ResultAnswer
			if err := redecode(el, &ans); err != nil {
				continue
			}
			res.Answers = append(res.Answers, ans)
		}
	}
	return res
}

// field returns the first present key's value among the given aliases.
func field(obj map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(obj map[string]interface{}, keys ...string) string {
	switch v := field(obj, keys...).(type) {
	case string:
		return v
	case float64:
		// Some responses type ids as numbers.
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// num coerces the first matching field to a finite non-negative float64,
// falling back when absent or invalid.
func num(obj map[string]interface{}, fallback float64, keys ...string) float64 {
	if n, ok := validNum(field(obj, keys...)); ok {
		return n
	}
	return fallback
}

// validNum accepts JSON numbers and numeric strings; NaN, infinities and
// negatives are rejected.
func validNum(v interface{}) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return 0, false
	}
	return n, true
}

func clamp(n, lo, hi float64) float64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
