//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/exstem-agent/internal/answers"
	"github.com/stemsi/exstem-agent/internal/backend"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/connectivity"
	"github.com/stemsi/exstem-agent/internal/handler"
	"github.com/stemsi/exstem-agent/internal/logger"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/pipeline"
	"github.com/stemsi/exstem-agent/internal/router"
	"github.com/stemsi/exstem-agent/internal/session"
	"github.com/stemsi/exstem-agent/internal/storage"
	"github.com/stemsi/exstem-agent/internal/validator"
	"golang.org/x/crypto/bcrypt"
)

const (
	studentNISN = "e2e_student"
	studentPass = "password123"
	unlockPIN   = "482913"
	examID      = "e2e-exam"

	// sub=student-7, exp=2099; the agent never verifies the signature.
	studentJWT = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJzdWIiOiJzdHVkZW50LTciLCJleHAiOjQwNzA5MDg4MDB9." +
		"bm90LWEtcmVhbC1zaWduYXR1cmU"
)

var (
	baseURL     string
	unlockToken string

	// backendUp lets tests take the fake backend down without stopping it.
	backendUp   atomic.Bool
	submitCount atomic.Int64
	delivered   atomic.Int64
)

func TestMain(m *testing.M) {
	validator.Setup()
	log := logger.Setup("error", "json")

	// Fake exam backend, deliberately varying its response wrappings the way
	// real deployments do.
	backendUp.Store(true)
	backendSrv := httptest.NewServer(http.HandlerFunc(fakeBackend))

	cfg := &config.Config{
		GinMode:        "release",
		BackendURL:     backendSrv.URL,
		RequestTimeout: 5 * time.Second,
	}

	// Full agent wiring on the memory store; connectivity is driven through
	// the API instead of the probe loop so tests control the transitions.
	kv := storage.NewMemoryStore()

	tokens := backend.NewTokenHolder()
	hooks := backend.AuthHooks{OnAuthExpired: tokens.Clear}
	client := backend.NewClient(cfg.BackendURL, cfg.RequestTimeout, tokens, hooks, log)

	watcher := connectivity.NewWatcher(client.Health, time.Hour, log)
	answerStore := answers.NewStore(kv, log)
	pipe := pipeline.New(kv, client, answerStore, watcher.Online, log)
	watcher.Subscribe(func(online bool) {
		if online {
			delivered.Add(int64(pipe.SyncPass(context.Background())))
		}
	})

	manager := session.NewManager(kv, client, tokens, answerStore, pipe, watcher.Online, nil, log)

	hash, _ := bcrypt.GenerateFromPassword([]byte(unlockPIN), bcrypt.DefaultCost)
	unlocker, err := middleware.NewUnlocker(string(hash), log)
	if err != nil {
		fmt.Printf("unlocker init failed: %v\n", err)
		os.Exit(1)
	}

	agentHandler := handler.NewAgentHandler(manager, pipe, client, tokens, watcher, unlocker, log)
	agentSrv := httptest.NewServer(router.SetupRouter(agentHandler, unlocker, cfg))
	baseURL = agentSrv.URL + "/api/v1"

	code := m.Run()

	agentSrv.Close()
	manager.Close()
	kv.Close()
	backendSrv.Close()
	os.Exit(code)
}

// fakeBackend plays the exam backend with drifting response shapes.
func fakeBackend(w http.ResponseWriter, r *http.Request) {
	if !backendUp.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch {
	case r.URL.Path == "/health":
		writeJSON(w, map[string]string{"status": "ok"})

	case r.URL.Path == "/api/v1/auth/student/login":
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["nisn"] != studentNISN || creds["password"] != studentPass {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		// Token buried in a user object.
		writeJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"user": map[string]interface{}{"id": 7, "token": studentJWT},
			},
		})

	case r.URL.Path == "/api/v1/student/lobby":
		writeJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"exams": []map[string]interface{}{
					{"id": examID, "title": "E2E Exam", "duration_seconds": 1800},
				},
			},
		})

	case r.URL.Path == "/api/v1/student/exams/"+examID+"/paper":
		// Doubly nested wrapping.
		writeJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"data": map[string]interface{}{
					"exam": map[string]interface{}{
						"id":               examID,
						"title":            "E2E Exam",
						"duration_seconds": 1800,
						"questions": []map[string]interface{}{
							{
								"id":            "q1",
								"question_type": "MULTIPLE_CHOICE",
								"question_text": "2+2?",
								"options": []map[string]string{
									{"id": "a", "text": "3"}, {"id": "b", "text": "4"},
								},
							},
							{
								"id":            "q2",
								"question_type": "SHORT_ANSWER",
								"question_text": "Name the capital.",
							},
							{
								"id":            "q3",
								"question_type": "ORDERING",
								"question_text": "Sort ascending.",
								"order_items": []map[string]string{
									{"id": "i1", "text": "1"}, {"id": "i2", "text": "2"}, {"id": "i3", "text": "3"},
								},
							},
						},
					},
				},
			},
		})

	case r.URL.Path == "/api/v1/student/exams/"+examID+"/submit":
		var body struct {
			Answers          []json.RawMessage `json:"answers"`
			TimeSpentSeconds int               `json:"time_spent_seconds"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Answers) == 0 || body.TimeSpentSeconds < 1 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		submitCount.Add(1)
		// Bare structural result, no percentage; the agent recomputes it.
		writeJSON(w, map[string]interface{}{
			"id":              "res-1",
			"exam_id":         examID,
			"score":           2,
			"total_questions": 3,
		})

	case r.URL.Path == "/api/v1/student/results":
		writeJSON(w, map[string]interface{}{
			"results": []map[string]interface{}{
				{"id": "res-1", "exam_id": examID, "score": 2, "total_questions": 3, "percentage": 66.67},
			},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestE2EFlow(t *testing.T) {
	// Step 1: locked kiosk rejects everything under the gate
	t.Run("LockedKioskRejected", func(t *testing.T) {
		resp, err := get("/exams", "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 2: wrong PIN stays locked
	t.Run("UnlockWrongPIN", func(t *testing.T) {
		resp, err := post("/unlock", map[string]string{"pin": "000000"}, "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 3: proctor unlocks
	t.Run("Unlock", func(t *testing.T) {
		resp, err := post("/unlock", map[string]string{"pin": unlockPIN}, "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				UnlockToken string `json:"unlock_token"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		unlockToken = body.Data.UnlockToken
		if unlockToken == "" {
			t.Fatal("unlock token missing")
		}
	})

	// Step 4: platform reports online; first transition runs an empty sync
	t.Run("ReportOnline", func(t *testing.T) {
		resp, err := post("/connectivity", map[string]bool{"online": true}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 5: student logs in; identity comes from the token claims
	t.Run("StudentLogin", func(t *testing.T) {
		resp, err := post("/auth/login", map[string]string{
			"nisn":     studentNISN,
			"password": studentPass,
		}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				UserID string `json:"user_id"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.UserID != "student-7" {
			t.Errorf("user_id = %q, want student-7", body.Data.UserID)
		}
	})

	// Step 6: lobby lists the exam despite the wrapped response shape
	t.Run("CheckLobby", func(t *testing.T) {
		resp, err := get("/exams", unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Exams []struct {
					ID string `json:"id"`
				} `json:"exams"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		found := false
		for _, e := range body.Data.Exams {
			if e.ID == examID {
				found = true
			}
		}
		if !found {
			t.Fatalf("exam %s not in lobby", examID)
		}
	})

	// Step 7: start the attempt
	t.Run("StartSession", func(t *testing.T) {
		resp, err := post("/session/start", map[string]string{"exam_id": examID}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		state := fetchState(t)
		if state.TotalQuestions != 3 || state.TimerState != "RUNNING" {
			t.Errorf("state = %+v", state)
		}
	})

	// Step 8: answer across variants
	t.Run("AnswerQuestions", func(t *testing.T) {
		mustAnswer(t, map[string]interface{}{
			"question_id": "q1", "type": "MULTIPLE_CHOICE", "selected_option": "b",
		})
		mustAnswer(t, map[string]interface{}{
			"question_id": "q2", "type": "SHORT_ANSWER", "text": "Jakarta",
		})
		mustAnswer(t, map[string]interface{}{
			"question_id": "q3", "type": "ORDERING", "ordering": []string{"i1", "i2", "i3"},
		})

		state := fetchState(t)
		if state.AnsweredCount != 3 {
			t.Errorf("answered_count = %d, want 3", state.AnsweredCount)
		}
	})

	// Step 8b: a mismatched variant is rejected
	t.Run("AnswerTypeMismatch", func(t *testing.T) {
		resp, err := post("/session/answer", map[string]interface{}{
			"question_id": "q1", "type": "SHORT_ANSWER", "text": "nope",
		}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, want 400: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 9: hiding the page suspends the countdown
	t.Run("VisibilitySuspend", func(t *testing.T) {
		resp, err := post("/session/visibility", map[string]bool{"visible": false}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if state := fetchState(t); state.TimerState != "SUSPENDED" {
			t.Errorf("timer_state = %s, want SUSPENDED", state.TimerState)
		}

		resp, err = post("/session/visibility", map[string]bool{"visible": true}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if state := fetchState(t); state.TimerState != "RUNNING" {
			t.Errorf("timer_state = %s, want RUNNING", state.TimerState)
		}
	})

	// Step 10: network goes away, finishing queues instead of failing
	t.Run("FinishOfflineQueues", func(t *testing.T) {
		backendUp.Store(false)
		resp, err := post("/connectivity", map[string]bool{"online": false}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()

		resp, err = post("/session/finish", nil, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Outcome struct {
					Status string `json:"status"`
				} `json:"outcome"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.Outcome.Status != "QUEUED" {
			t.Fatalf("outcome = %s, want QUEUED", body.Data.Outcome.Status)
		}
		if n := submitCount.Load(); n != 0 {
			t.Errorf("backend submit count = %d, want 0", n)
		}
		if n := pendingCount(t); n != 1 {
			t.Errorf("pending = %d, want 1", n)
		}
	})

	// Step 10b: a second finish reports the same outcome, no second attempt
	t.Run("SecondFinishSameOutcome", func(t *testing.T) {
		resp, err := post("/session/finish", nil, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Data struct {
				Outcome struct {
					Status string `json:"status"`
				} `json:"outcome"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.Outcome.Status != "QUEUED" {
			t.Errorf("outcome = %s, want QUEUED", body.Data.Outcome.Status)
		}
		if n := pendingCount(t); n != 1 {
			t.Errorf("pending = %d, want 1", n)
		}
	})

	// Step 11: connectivity returns and the queue drains automatically
	t.Run("ReconnectDrainsQueue", func(t *testing.T) {
		backendUp.Store(true)
		resp, err := post("/connectivity", map[string]bool{"online": true}, unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()

		// The sync pass runs asynchronously off the transition.
		deadline := time.Now().Add(5 * time.Second)
		for pendingCount(t) > 0 {
			if time.Now().After(deadline) {
				t.Fatal("pending queue did not drain after reconnect")
			}
			time.Sleep(50 * time.Millisecond)
		}

		// The delivered counter lands after the pass returns, so poll it too.
		for delivered.Load() != 1 {
			if time.Now().After(deadline) {
				t.Fatalf("delivered = %d, want 1", delivered.Load())
			}
			time.Sleep(50 * time.Millisecond)
		}
		if n := submitCount.Load(); n != 1 {
			t.Errorf("backend submit count = %d, want 1", n)
		}
	})

	// Step 12: graded results come back normalized
	t.Run("FetchResults", func(t *testing.T) {
		resp, err := get("/results", unlockToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Results []struct {
					ID    string  `json:"id"`
					Score float64 `json:"score"`
				} `json:"results"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if len(body.Data.Results) != 1 || body.Data.Results[0].ID != "res-1" {
			t.Errorf("results = %+v", body.Data.Results)
		}
	})
}

// Helpers

type stateBody struct {
	TotalQuestions int    `json:"total_questions"`
	AnsweredCount  int    `json:"answered_count"`
	TimerState     string `json:"timer_state"`
}

func fetchState(t *testing.T) stateBody {
	t.Helper()
	resp, err := get("/session/state", unlockToken)
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Data struct {
			State stateBody `json:"state"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &body)
	return body.Data.State
}

func mustAnswer(t *testing.T, payload map[string]interface{}) {
	t.Helper()
	resp, err := post("/session/answer", payload, unlockToken)
	if err != nil {
		t.Fatalf("answer request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status %d: %s", resp.StatusCode, readBody(resp))
	}
}

func pendingCount(t *testing.T) int {
	t.Helper()
	resp, err := get("/pending", unlockToken)
	if err != nil {
		t.Fatalf("pending request failed: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Data struct {
			Pending []json.RawMessage `json:"pending"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &body)
	return len(body.Data.Pending)
}

func post(path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest("POST", baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func get(path string, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
