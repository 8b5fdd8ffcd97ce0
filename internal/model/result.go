package model

// Result is the canonical graded-result shape produced by the response
// normalizer, regardless of how the backend wrapped or typed its fields.
// Numeric fields are always finite and non-negative; Percentage is clamped
// to [0,100] and recomputed from Score/TotalQuestions when the server value
// is absent or invalid.
type Result struct {
	ID               string         `json:"id"`
	Score            float64        `json:"score"`
	TotalQuestions   int            `json:"total_questions"`
	Percentage       float64        `json:"percentage"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
	Mistakes         int            `json:"mistakes"`
	ExamTitle        string         `json:"exam_title"`
	ExamID           string         `json:"exam_id"`
	Date             string         `json:"date"`
	Answers          []ResultAnswer `json:"answers,omitempty"`
}

// ResultAnswer is one graded answer inside a Result, as much of it as the
// backend chose to echo back.
type ResultAnswer struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
	Given      string `json:"given,omitempty"`
	Expected   string `json:"expected,omitempty"`
}
