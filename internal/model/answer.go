package model

// AnswerSheet is the durable answer map for one exam attempt, grouped by
// question variant. It is serialized as a whole on every mutation and stored
// under exam_answers_<examID>, so a reload reconstructs exactly what the
// student last had.
type AnswerSheet struct {
	// SelectedOptions maps question id → chosen option id
	// (MULTIPLE_CHOICE and TRUE_FALSE).
	SelectedOptions map[string]string `json:"selectedOptions"`
	// ShortAnswers maps question id → free text (SHORT_ANSWER).
	ShortAnswers map[string]string `json:"shortAnswers"`
	// MatchingSelections maps question id → (left item id → right item id).
	// Partial mappings are valid intermediate states.
	MatchingSelections map[string]map[string]string `json:"matchingSelections"`
	// OrderingSelections maps question id → the current permutation of item
	// ids. Presence of a key means the order was explicitly persisted at
	// least once, which is what makes an ORDERING question count as answered.
	OrderingSelections map[string][]string `json:"orderingSelections"`
}

// NewAnswerSheet returns an empty sheet with all maps initialized.
func NewAnswerSheet() *AnswerSheet {
	return &AnswerSheet{
		SelectedOptions:    make(map[string]string),
		ShortAnswers:       make(map[string]string),
		MatchingSelections: make(map[string]map[string]string),
		OrderingSelections: make(map[string][]string),
	}
}

// AnswerRecord is the variant-matched view of one question's current answer,
// assembled from the sheet for display. A nil record means unanswered.
type AnswerRecord struct {
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
	// SelectedOption carries the chosen option id for MULTIPLE_CHOICE and
	// TRUE_FALSE questions.
	SelectedOption string `json:"selected_option,omitempty"`
	// Text carries the free-text answer for SHORT_ANSWER questions.
	Text string `json:"text,omitempty"`
	// Pairs carries the left→right matches for MATCHING questions.
	Pairs []MatchPair `json:"pairs,omitempty"`
	// Ordering carries the current permutation for ORDERING questions.
	Ordering []string `json:"ordering,omitempty"`
}

// WireAnswer is the variant-tagged answer payload sent to the backend on
// submit. Exactly one of the value fields is populated, matching Type.
type WireAnswer struct {
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
	// SelectedOption carries the chosen option id for MULTIPLE_CHOICE and
	// TRUE_FALSE questions.
	SelectedOption string `json:"selected_option,omitempty"`
	// Text carries the free-text answer for SHORT_ANSWER questions.
	Text string `json:"text,omitempty"`
	// Pairs carries the left→right matches for MATCHING questions.
	Pairs []MatchPair `json:"pairs,omitempty"`
	// Ordering carries the final permutation for ORDERING questions.
	Ordering []string `json:"ordering,omitempty"`
}

// MatchPair is one resolved left→right match of a MATCHING answer.
type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}
