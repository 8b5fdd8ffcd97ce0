package model

// Exam is the client-facing exam paper: metadata plus the ordered question
// list. The backend strips answer keys before the paper ever reaches the
// agent. Question order is fixed for the lifetime of a session.
type Exam struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	Questions       []Question `json:"questions"`
}

// QuestionType enumerates the five supported question variants.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeMatching       QuestionType = "MATCHING"
	QuestionTypeOrdering       QuestionType = "ORDERING"
)

// Question is one exam question. Only the fields relevant to its type are
// populated (Options for the choice variants, Left/Right for matching, Items
// for ordering). Immutable once loaded.
type Question struct {
	ID           string       `json:"id"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	Options      []Option     `json:"options,omitempty"`
	LeftItems    []PairItem   `json:"left_items,omitempty"`
	RightItems   []PairItem   `json:"right_items,omitempty"`
	OrderItems   []OrderItem  `json:"order_items,omitempty"`
	OrderNum     int          `json:"order_num"`
}

// Option is a selectable choice for MULTIPLE_CHOICE and TRUE_FALSE questions.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PairItem is one side of a MATCHING question pair.
type PairItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// OrderItem is one rearrangeable element of an ORDERING question.
type OrderItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// DefaultOrder returns the item ids of an ORDERING question in the order the
// backend delivered them. This is the starting permutation before the student
// touches the question.
func (q *Question) DefaultOrder() []string {
	ids := make([]string, 0, len(q.OrderItems))
	for _, item := range q.OrderItems {
		ids = append(ids, item.ID)
	}
	return ids
}
