package model

// UnlockRequest is the payload for the kiosk unlock endpoint.
type UnlockRequest struct {
	PIN string `json:"pin" binding:"required,min=4,max=20"`
}

// LoginRequest is the payload for logging a student into the backend.
type LoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=1,max=30"`
	Password string `json:"password" binding:"required,min=1,max=100"`
}

// StartSessionRequest is the payload for starting an exam attempt. Visible
// carries the page's visibility at start time so a session opened from a
// hidden tab begins suspended; omitted means visible.
type StartSessionRequest struct {
	ExamID  string `json:"exam_id" binding:"required"`
	Visible *bool  `json:"visible"`
}

// AnswerRequest is the variant-tagged payload for recording an answer. The
// value field matching Type must be set; the handler rejects mismatches.
type AnswerRequest struct {
	QuestionID     string   `json:"question_id" binding:"required"`
	Type           string   `json:"type" binding:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE SHORT_ANSWER MATCHING ORDERING"`
	SelectedOption string   `json:"selected_option,omitempty"`
	Text           string   `json:"text,omitempty"`
	Left           string   `json:"left,omitempty"`
	Right          string   `json:"right,omitempty"`
	Ordering       []string `json:"ordering,omitempty"`
}

// NavigateRequest moves the question pointer.
type NavigateRequest struct {
	Action string `json:"action" binding:"required,oneof=next prev goto"`
	Index  int    `json:"index" binding:"min=0"`
}

// VisibilityRequest relays a page visibility transition from the UI shell.
type VisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// ConnectivityRequest relays the platform's online/offline events.
type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}
