package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/backend"
	"github.com/stemsi/exstem-agent/internal/connectivity"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/pipeline"
	"github.com/stemsi/exstem-agent/internal/response"
	"github.com/stemsi/exstem-agent/internal/session"
	"github.com/stemsi/exstem-agent/internal/validator"
)

// AgentHandler serves the localhost API the UI shell talks to: kiosk unlock,
// backend login, session lifecycle, pending log and sync.
type AgentHandler struct {
	manager  *session.Manager
	pipe     *pipeline.Pipeline
	client   *backend.Client
	tokens   *backend.TokenHolder
	watcher  *connectivity.Watcher
	unlocker *middleware.Unlocker
	log      zerolog.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(
	manager *session.Manager,
	pipe *pipeline.Pipeline,
	client *backend.Client,
	tokens *backend.TokenHolder,
	watcher *connectivity.Watcher,
	unlocker *middleware.Unlocker,
	log zerolog.Logger,
) *AgentHandler {
	return &AgentHandler{
		manager:  manager,
		pipe:     pipe,
		client:   client,
		tokens:   tokens,
		watcher:  watcher,
		unlocker: unlocker,
		log:      log.With().Str("component", "agent_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Liveness plus the current connectivity flag.
func (h *AgentHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status": "ok",
		"online": h.watcher.Online(),
	})
}

// Unlock godoc
// POST /api/v1/unlock
// Verifies the proctor PIN and returns an unlock token for this process.
func (h *AgentHandler) Unlock(c *gin.Context) {
	var req model.UnlockRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.unlocker.Unlock(req.PIN)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnlockInvalid)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unlock_token": token})
}

// Login godoc
// POST /api/v1/auth/login
// Logs the student into the backend; the bearer token stays in agent memory.
func (h *AgentHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.client.Login(c.Request.Context(), req.NISN, req.Password); err != nil {
		if errors.Is(err, backend.ErrUnavailable) || errors.Is(err, backend.ErrTimeout) {
			response.Fail(c, http.StatusServiceUnavailable, response.ErrBackendUnavailable)
			return
		}
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user_id": h.tokens.Subject()})
}

// Logout godoc
// POST /api/v1/auth/logout
// Drops the held backend token.
func (h *AgentHandler) Logout(c *gin.Context) {
	h.tokens.Clear()
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// ListExams godoc
// GET /api/v1/exams
// The student's available exams, straight from the backend lobby.
func (h *AgentHandler) ListExams(c *gin.Context) {
	exams, err := h.client.FetchExams(c.Request.Context())
	if err != nil {
		h.failBackend(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// ListResults godoc
// GET /api/v1/results
// The student's graded results, normalized.
func (h *AgentHandler) ListResults(c *gin.Context) {
	results, err := h.client.FetchResults(c.Request.Context())
	if err != nil {
		h.failBackend(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// ─── Session lifecycle ──────────────────────────────────────────────

// StartSession godoc
// POST /api/v1/session/start
func (h *AgentHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	visible := req.Visible == nil || *req.Visible
	if err := h.manager.Start(c.Request.Context(), req.ExamID, visible); err != nil {
		h.failSession(c, err)
		return
	}

	state, err := h.manager.State()
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// GetState godoc
// GET /api/v1/session/state
func (h *AgentHandler) GetState(c *gin.Context) {
	state, err := h.manager.State()
	if err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// GetQuestion godoc
// GET /api/v1/session/question
// The question at the current pointer, along with the saved answer (null when
// unanswered) so the shell can restore the student's selection.
func (h *AgentHandler) GetQuestion(c *gin.Context) {
	q, err := h.manager.Question()
	if err != nil {
		h.failSession(c, err)
		return
	}
	rec, err := h.manager.Record()
	if err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": q, "answer": rec})
}

// Answer godoc
// POST /api/v1/session/answer
// Records one variant-tagged answer; the sheet is durably mirrored before
// this returns. The response carries the degraded-storage flag so the shell
// can warn when answers only live in memory.
func (h *AgentHandler) Answer(c *gin.Context) {
	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx := c.Request.Context()
	var err error
	switch model.QuestionType(req.Type) {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		err = h.manager.SetChoice(ctx, req.QuestionID, req.SelectedOption)
	case model.QuestionTypeShortAnswer:
		err = h.manager.SetText(ctx, req.QuestionID, req.Text)
	case model.QuestionTypeMatching:
		err = h.manager.SetMatch(ctx, req.QuestionID, req.Left, req.Right)
	case model.QuestionTypeOrdering:
		err = h.manager.SetOrdering(ctx, req.QuestionID, req.Ordering)
	}
	if err != nil {
		h.failSession(c, err)
		return
	}

	state, err := h.manager.State()
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"saved":            true,
		"storage_degraded": state.StorageDegraded,
	})
}

// Navigate godoc
// POST /api/v1/session/navigate
func (h *AgentHandler) Navigate(c *gin.Context) {
	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var err error
	switch req.Action {
	case "next":
		err = h.manager.Next()
	case "prev":
		err = h.manager.Prev()
	case "goto":
		err = h.manager.Goto(req.Index)
	}
	if err != nil {
		h.failSession(c, err)
		return
	}

	state, err := h.manager.State()
	if err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// Visibility godoc
// POST /api/v1/session/visibility
// Relays page hide/show: hidden suspends the countdown, visible resumes it
// and settles any time spent hidden, including firing expiry if the budget
// ran out while hidden.
func (h *AgentHandler) Visibility(c *gin.Context) {
	var req model.VisibilityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.manager.Visibility(*req.Visible); err != nil {
		h.failSession(c, err)
		return
	}

	state, err := h.manager.State()
	if err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// Finish godoc
// POST /api/v1/session/finish
// Concludes the attempt. The outcome is either SUBMITTED with a normalized
// result or QUEUED; a queued attempt is retried automatically on reconnect.
func (h *AgentHandler) Finish(c *gin.Context) {
	outcome, err := h.manager.Finish(c.Request.Context())
	if err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"outcome": outcome})
}

// ─── Offline queue ──────────────────────────────────────────────────

// ListPending godoc
// GET /api/v1/pending
func (h *AgentHandler) ListPending(c *gin.Context) {
	entries := h.pipe.Pending(c.Request.Context())
	if entries == nil {
		entries = []model.PendingSubmission{}
	}
	response.Success(c, http.StatusOK, gin.H{"pending": entries})
}

// Sync godoc
// POST /api/v1/sync
// Manually triggers a sync pass. A pass already in flight makes this a
// no-op reporting zero deliveries.
func (h *AgentHandler) Sync(c *gin.Context) {
	delivered := h.pipe.SyncPass(c.Request.Context())
	response.Success(c, http.StatusOK, gin.H{
		"delivered": delivered,
		"remaining": len(h.pipe.Pending(c.Request.Context())),
	})
}

// ReportConnectivity godoc
// POST /api/v1/connectivity
// The UI shell pushes the platform's online/offline events here; a
// transition to online kicks off a sync pass via the watcher.
func (h *AgentHandler) ReportConnectivity(c *gin.Context) {
	var req model.ConnectivityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	h.watcher.Report(*req.Online)
	response.Success(c, http.StatusOK, gin.H{"online": h.watcher.Online()})
}

// ─── Error mapping ──────────────────────────────────────────────────

func (h *AgentHandler) failSession(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionActive)
	case errors.Is(err, session.ErrNoSession):
		response.Fail(c, http.StatusNotFound, response.ErrNoSession)
	case errors.Is(err, session.ErrExamUnavailable):
		response.Fail(c, http.StatusNotFound, response.ErrExamUnavailable)
	case errors.Is(err, session.ErrQuestionUnknown):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionUnknown)
	case errors.Is(err, session.ErrTypeMismatch):
		response.Fail(c, http.StatusBadRequest, response.ErrAnswerMismatch)
	case errors.Is(err, session.ErrIndexOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrIndexOutOfRange)
	case errors.Is(err, backend.ErrAuthExpired):
		response.Fail(c, http.StatusUnauthorized, response.ErrAuthExpired)
	default:
		h.log.Error().Err(err).Msg("Unhandled session error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func (h *AgentHandler) failBackend(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		response.Fail(c, http.StatusUnauthorized, response.ErrAuthExpired)
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, backend.ErrTimeout), errors.Is(err, backend.ErrServer):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrBackendUnavailable)
	default:
		h.log.Error().Err(err).Msg("Unhandled backend error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
