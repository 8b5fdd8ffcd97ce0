package model

// PendingSubmission is one durably queued submission that could not be
// confirmed delivered. It survives restarts indefinitely and is removed only
// after the backend acknowledges the submit.
type PendingSubmission struct {
	// ID is a client-local uuid used for log management (removal after a
	// successful retry). It is never sent to the backend, so re-sending a
	// submission after an ambiguous failure can still produce a duplicate
	// graded result — a documented gap in the wire contract.
	ID               string       `json:"id"`
	ExamID           string       `json:"exam_id"`
	UserID           string       `json:"user_id"`
	SubmittedAt      string       `json:"submitted_at"`
	Answers          []WireAnswer `json:"answers"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
}

// Valid reports whether the entry carries the fields the backend requires.
// Invalid entries are dropped during sync instead of being retried forever.
func (p *PendingSubmission) Valid() bool {
	return p.ExamID != "" && len(p.Answers) > 0 && p.TimeSpentSeconds > 0
}
