package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rowan/attache/internal/agent"
	"github.com/rowan/attache/internal/governance"
	"github.com/rowan/attache/internal/retrieval"
	"github.com/rowan/attache/internal/tasks"
	"github.com/rowan/attache/internal/telemetry"
)

type fakePlanner struct {
	result agent.PlanResult
	err    error
}

func (f *fakePlanner) Plan(ctx context.Context, goal string, maxSubtasks, topK int) (agent.PlanResult, error) {
	return f.result, f.err
}

type fakeRetriever struct {
	batch retrieval.Batch
	err   error
}

func (f *fakeRetriever) RetrieveMany(ctx context.Context, queries []string, topK int) (retrieval.Batch, error) {
	return f.batch, f.err
}

type fakeResponder struct {
	reply string
	err   error
}

func (f *fakeResponder) Reply(ctx context.Context, chatID, text, profileName string) (string, string, error) {
	return f.reply, "general", f.err
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	return out
}

func TestHandleDecompose(t *testing.T) {
	srv := &Server{}
	router := srv.Router()

	rec := postJSON(t, router, "/tasks/decompose", map[string]any{
		"goal":         "fix bug",
		"max_subtasks": 6,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("expected ok true, got %v", body["ok"])
	}
	subs, _ := body["subtasks"].([]any)
	if len(subs) != 1 {
		t.Fatalf("expected 1 subtask, got %v", body["subtasks"])
	}
	first, _ := subs[0].(map[string]any)
	if first["text"] != "fix bug" || first["id"] != float64(1) {
		t.Errorf("unexpected subtask: %v", first)
	}
}

func TestHandleDecompose_EmptyGoalYieldsEmptyList(t *testing.T) {
	srv := &Server{}
	rec := postJSON(t, srv.Router(), "/tasks/decompose", map[string]any{"goal": ""})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if subs, ok := body["subtasks"].([]any); !ok || len(subs) != 0 {
		t.Errorf("expected empty subtasks array, got %v", body["subtasks"])
	}
}

func TestHandlePlan_Success(t *testing.T) {
	srv := &Server{
		Planner: &fakePlanner{result: agent.PlanResult{
			OK:       true,
			Goal:     "g",
			Subtasks: []tasks.Subtask{{ID: 1, Text: "g"}},
			Retrieval: retrieval.Batch{
				OK:      true,
				Backend: retrieval.BackendKeyword,
				Results: []retrieval.QueryResult{{Query: "g", Docs: []retrieval.Hit{}}},
			},
			LatencyMS: 5,
		}},
	}

	rec := postJSON(t, srv.Router(), "/plan", map[string]any{"goal": "g"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("expected ok true, got %v", body)
	}
	retr, _ := body["retrieval"].(map[string]any)
	if retr["backend"] != retrieval.BackendKeyword {
		t.Errorf("unexpected backend: %v", retr["backend"])
	}
}

func TestHandlePlan_DecompositionFailure(t *testing.T) {
	srv := &Server{
		Planner: &fakePlanner{err: fmt.Errorf("%w: upstream dead", agent.ErrDecompositionFailed)},
	}

	rec := postJSON(t, srv.Router(), "/plan", map[string]any{"goal": "g"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != false {
		t.Errorf("expected ok false, got %v", body)
	}
	if body["message"] != "Task decomposition failed" {
		t.Errorf("unexpected message: %v", body["message"])
	}
}

func TestHandlePlan_MissingGoal(t *testing.T) {
	srv := &Server{Planner: &fakePlanner{}}
	rec := postJSON(t, srv.Router(), "/plan", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRetrieveMulti(t *testing.T) {
	srv := &Server{
		Engine: &fakeRetriever{batch: retrieval.Batch{
			OK:      true,
			Backend: retrieval.BackendKeyword,
			Results: []retrieval.QueryResult{
				{Query: "a", Docs: []retrieval.Hit{{ChunkID: 3, DocumentID: 1, Snippet: "hit"}}},
				{Query: "b", Docs: []retrieval.Hit{}},
			},
		}},
	}

	rec := postJSON(t, srv.Router(), "/retrieve/multi", map[string]any{
		"queries": []string{"a", "b"},
		"top_k":   2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	results, _ := body["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %v", body["results"])
	}
	first, _ := results[0].(map[string]any)
	docs, _ := first["docs"].([]any)
	hit, _ := docs[0].(map[string]any)
	if _, present := hit["distance"]; !present {
		t.Error("distance field should be serialized (as null for keyword hits)")
	}
	if hit["distance"] != nil {
		t.Errorf("keyword hit distance should be null, got %v", hit["distance"])
	}
}

func TestHandleRetrieveMulti_Unavailable(t *testing.T) {
	srv := &Server{Engine: &fakeRetriever{err: errors.New("store down")}}
	rec := postJSON(t, srv.Router(), "/retrieve/multi", map[string]any{"queries": []string{"a"}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandleChat(t *testing.T) {
	srv := &Server{Assistant: &fakeResponder{reply: "hello there"}}
	rec := postJSON(t, srv.Router(), "/chat", map[string]any{
		"user_id": "u1",
		"text":    "hi",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["reply"] != "hello there" || body["profile"] != "general" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	metrics := telemetry.NewMetrics()
	metrics.RecordSuccess(10)
	srv := &Server{Metrics: metrics}
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total_calls"] != float64(1) {
		t.Errorf("expected total_calls 1, got %v", body["total_calls"])
	}
}

func TestHandlePolicyCheck(t *testing.T) {
	engine, err := governance.NewRuleEngineFromSet(governance.RuleSet{
		Rules: []governance.Rule{{
			Patterns:   []string{"password"},
			ReasonCode: "credentials",
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := &Server{Policy: engine}

	rec := postJSON(t, srv.Router(), "/policy/check", map[string]any{
		"user_id": "u1",
		"text":    "what is my password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["allow"] != false {
		t.Errorf("expected deny, got %v", body)
	}
}

func TestUnconfiguredRoutesReturn503(t *testing.T) {
	srv := &Server{}
	router := srv.Router()

	for _, path := range []string{"/chat", "/plan", "/retrieve/multi", "/ingest", "/policy/check"} {
		rec := postJSON(t, router, path, map[string]any{"goal": "g", "text": "t", "queries": []string{"q"}})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, rec.Code)
		}
	}
}
