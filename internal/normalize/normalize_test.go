package normalize

import (
	"errors"
	"testing"
)

func TestTokenShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"bare_string", `"tok-abc"`, "tok-abc"},
		{"root_token", `{"token":"tok-root"}`, "tok-root"},
		{"data_token", `{"data":{"token":"tok-data"}}`, "tok-data"},
		{"double_data_token", `{"data":{"data":{"token":"tok-deep"}}}`, "tok-deep"},
		{"user_token", `{"user":{"token":"tok-user"}}`, "tok-user"},
		{"data_user_token", `{"data":{"user":{"token":"tok-du"}}}`, "tok-du"},
		{"access_token", `{"access_token":"tok-snake"}`, "tok-snake"},
		{"accessToken", `{"accessToken":"tok-camel"}`, "tok-camel"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Token([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Token() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTokenPriorityOrder(t *testing.T) {
	// Specific paths win over later fallbacks when several are present.
	raw := `{"token":"tok-first","access_token":"tok-late","data":{"token":"tok-mid"}}`
	got, err := Token([]byte(raw))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "tok-first" {
		t.Errorf("Token() = %q, want root token first", got)
	}
}

func TestTokenMiss(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"data":{}}`,
		`{"jwt":"tok"}`,
		`42`,
		`null`,
		`[1,2,3]`,
		`not even json`,
	} {
		if _, err := Token([]byte(raw)); !errors.Is(err, ErrNotFound) {
			t.Errorf("Token(%s) error = %v, want ErrNotFound", raw, err)
		}
	}
}

func TestExamShapes(t *testing.T) {
	examJSON := `{"id":"e1","title":"Matematika","duration_seconds":1800,"questions":[]}`

	cases := []struct {
		name string
		raw  string
	}{
		{"root_exam", `{"exam":` + examJSON + `}`},
		{"data_exam", `{"data":{"exam":` + examJSON + `}}`},
		{"double_data_exam", `{"data":{"data":{"exam":` + examJSON + `}}}`},
		{"structural", examJSON},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exam, err := Exam([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Exam() error = %v", err)
			}
			if exam.ID != "e1" || exam.Title != "Matematika" || exam.DurationSeconds != 1800 {
				t.Errorf("Exam() = %+v", exam)
			}
		})
	}
}

func TestExamStructuralNeedsBothKeys(t *testing.T) {
	// An id alone is not an exam; structural inference is the last resort
	// and must not fire on partial matches.
	if _, err := Exam([]byte(`{"id":"e1"}`)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Exam on id-only object error = %v, want ErrNotFound", err)
	}
}

func TestExamsShapes(t *testing.T) {
	list := `[{"id":"e1","title":"A"},{"id":"e2","title":"B"}]`

	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"root_exams", `{"exams":` + list + `}`, 2},
		{"data_exams", `{"data":{"exams":` + list + `}}`, 2},
		{"bare_array", list, 2},
		{"data_bare_array", `{"data":` + list + `}`, 2},
		{"drops_malformed_elements", `{"exams":[{"id":"e1","title":"A"},"junk",{"title":"no id"}]}`, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exams, err := Exams([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Exams() error = %v", err)
			}
			if len(exams) != tc.want {
				t.Errorf("len(Exams()) = %d, want %d", len(exams), tc.want)
			}
		})
	}
}

func TestResultShapes(t *testing.T) {
	resultJSON := `{"id":"r1","score":8,"total_questions":10}`

	cases := []struct {
		name string
		raw  string
	}{
		{"root_result", `{"result":` + resultJSON + `}`},
		{"data_result", `{"data":{"result":` + resultJSON + `}}`},
		{"double_data_result", `{"data":{"data":{"result":` + resultJSON + `}}}`},
		{"structural", resultJSON},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Result([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Result() error = %v", err)
			}
			if res.ID != "r1" || res.Score != 8 || res.TotalQuestions != 10 {
				t.Errorf("Result() = %+v", res)
			}
		})
	}
}

func TestResultMiss(t *testing.T) {
	// A 2xx body with neither a result key nor a structural match must be a
	// miss, never a zero-score success.
	for _, raw := range []string{
		`{"status":"ok"}`,
		`{"data":{"message":"saved"}}`,
		`"thanks"`,
		`{}`,
	} {
		if _, err := Result([]byte(raw)); !errors.Is(err, ErrNotFound) {
			t.Errorf("Result(%s) error = %v, want ErrNotFound", raw, err)
		}
	}
}

func TestResultNumericCoercion(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		score   float64
		total   int
		percent float64
	}{
		{
			"numeric_strings",
			`{"result":{"id":"r1","score":"7","total_questions":"10","percentage":"70"}}`,
			7, 10, 70,
		},
		{
			"percentage_recomputed_when_absent",
			`{"result":{"id":"r1","score":3,"total_questions":4}}`,
			3, 4, 75,
		},
		{
			"percentage_recomputed_when_invalid",
			`{"result":{"id":"r1","score":3,"total_questions":4,"percentage":"oops"}}`,
			3, 4, 75,
		},
		{
			"negative_score_falls_back",
			`{"result":{"id":"r1","score":-5,"total_questions":10}}`,
			0, 10, 0,
		},
		{
			"percentage_clamped",
			`{"result":{"id":"r1","score":12,"total_questions":10,"percentage":120}}`,
			12, 10, 100,
		},
		{
			"camel_case_fields",
			`{"result":{"id":"r1","score":5,"totalQuestions":10,"timeSpentSeconds":90}}`,
			5, 10, 50,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Result([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Result() error = %v", err)
			}
			if res.Score != tc.score {
				t.Errorf("Score = %v, want %v", res.Score, tc.score)
			}
			if res.TotalQuestions != tc.total {
				t.Errorf("TotalQuestions = %v, want %v", res.TotalQuestions, tc.total)
			}
			if res.Percentage != tc.percent {
				t.Errorf("Percentage = %v, want %v", res.Percentage, tc.percent)
			}
		})
	}
}

func TestResultsShapes(t *testing.T) {
	list := `[{"id":"r1","score":1},{"id":"r2","score":2}]`

	for _, raw := range []string{
		`{"results":` + list + `}`,
		`{"data":{"results":` + list + `}}`,
		list,
		`{"data":` + list + `}`,
	} {
		results, err := Results([]byte(raw))
		if err != nil {
			t.Fatalf("Results(%s) error = %v", raw, err)
		}
		if len(results) != 2 {
			t.Errorf("len(Results(%s)) = %d, want 2", raw, len(results))
		}
	}
}

func TestExtractNeverPanics(t *testing.T) {
	targets := []Target{TargetToken, TargetExam, TargetResult, TargetExams, TargetResults}
	payloads := []interface{}{
		nil,
		"string",
		42.0,
		true,
		[]interface{}{nil, "x", map[string]interface{}{}},
		map[string]interface{}{"data": nil},
		map[string]interface{}{"data": map[string]interface{}{"data": "not an object"}},
	}

	for _, target := range targets {
		for _, payload := range payloads {
			// Hits are fine; the property under test is no panic and no
			// nil-vs-miss confusion.
			if v, err := Extract(payload, target); err == nil && v == nil {
				t.Errorf("Extract(%v, %s) returned nil without ErrNotFound", payload, target)
			}
		}
	}
}
