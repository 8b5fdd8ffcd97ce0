// Package backend is the agent's HTTP client for the exam backend. Every
// response body goes through the normalizer, because the backend's wrapping
// of the same logical entity drifts between deployments and versions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/normalize"
)

// Error classes. The submission pipeline treats ErrUnavailable, ErrTimeout
// and ErrServer identically (queue and retry); they stay distinct for logs.
var (
	ErrUnavailable  = errors.New("backend: unavailable")
	ErrTimeout      = errors.New("backend: request timed out")
	ErrServer       = errors.New("backend: server error")
	ErrAuthExpired  = errors.New("backend: auth expired")
	ErrExamNotFound = errors.New("backend: exam not found")
)

// AuthHooks is the capability handed to the client at construction so the
// low-level HTTP layer can trigger high-level session actions without a
// global singleton. OnAuthExpired fires on every 401.
type AuthHooks struct {
	OnAuthExpired func()
}

// Client calls the exam backend with a fixed per-request timeout. Exceeding
// the timeout is indistinguishable from the network being down, by contract.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenHolder
	hooks   AuthHooks
	log     zerolog.Logger
}

// NewClient creates a backend client. timeout bounds every request;
// hooks.OnAuthExpired may be nil.
func NewClient(baseURL string, timeout time.Duration, tokens *TokenHolder, hooks AuthHooks, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		hooks:   hooks,
		log:     log.With().Str("component", "backend_client").Logger(),
	}
}

// Login authenticates a student and stores the normalized token in the
// holder. A response with no locatable token is a normalization miss.
func (c *Client) Login(ctx context.Context, nisn, password string) error {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/auth/student/login", map[string]string{
		"nisn":     nisn,
		"password": password,
	})
	if err != nil {
		return err
	}

	token, err := normalize.Token(body)
	if err != nil {
		return fmt.Errorf("login response: %w", err)
	}
	c.tokens.Set(token)
	return nil
}

// FetchExam retrieves one exam paper.
func (c *Client) FetchExam(ctx context.Context, examID string) (*model.Exam, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/student/exams/"+examID+"/paper", nil)
	if err != nil {
		return nil, err
	}

	exam, err := normalize.Exam(body)
	if err != nil {
		return nil, fmt.Errorf("exam response: %w", err)
	}
	return exam, nil
}

// FetchExams retrieves the student's available exams.
func (c *Client) FetchExams(ctx context.Context) ([]model.Exam, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/student/lobby", nil)
	if err != nil {
		return nil, err
	}

	exams, err := normalize.Exams(body)
	if err != nil {
		return nil, fmt.Errorf("lobby response: %w", err)
	}
	return exams, nil
}

// SubmitExam delivers a finished attempt and returns the normalized graded
// result. A 2xx whose body contains no locatable result is returned as a
// normalization miss — the caller must not report success for it.
func (c *Client) SubmitExam(ctx context.Context, examID string, wireAnswers []model.WireAnswer, timeSpentSeconds int) (*model.Result, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/student/exams/"+examID+"/submit", map[string]interface{}{
		"answers":            wireAnswers,
		"time_spent_seconds": timeSpentSeconds,
	})
	if err != nil {
		return nil, err
	}

	result, err := normalize.Result(body)
	if err != nil {
		return nil, fmt.Errorf("submit response: %w", err)
	}
	return result, nil
}

// FetchResults retrieves the student's graded results.
func (c *Client) FetchResults(ctx context.Context) ([]model.Result, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/student/results", nil)
	if err != nil {
		return nil, err
	}

	results, err := normalize.Results(body)
	if err != nil {
		return nil, fmt.Errorf("results response: %w", err)
	}
	return results, nil
}

// Health probes the backend's health endpoint. Used by the connectivity
// watcher; any error means offline.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil)
	return err
}

// ─── Transport ──────────────────────────────────────────────────────

// do performs one request with the bearer token attached and classifies the
// outcome. Returns the response body on 2xx.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.Get(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		c.log.Warn().Str("path", path).Msg("Backend rejected token")
		if c.hooks.OnAuthExpired != nil {
			c.hooks.OnAuthExpired()
		}
		return nil, ErrAuthExpired
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrExamNotFound
	default:
		c.log.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Backend error response")
		return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}
}

// classify maps transport errors onto the client's error classes.
func (c *Client) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
