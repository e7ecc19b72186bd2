package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rowan/attache/internal/retrieval"
	"github.com/rowan/attache/internal/tasks"
	"github.com/rowan/attache/internal/telemetry"
)

type fakeDecomposer struct {
	subtasks []tasks.Subtask
	err      error
}

func (f *fakeDecomposer) Decompose(ctx context.Context, goal string, maxSubtasks int) ([]tasks.Subtask, error) {
	return f.subtasks, f.err
}

type fakeEngine struct {
	batch   retrieval.Batch
	err     error
	queries []string
	calls   int
}

func (f *fakeEngine) RetrieveMany(ctx context.Context, queries []string, topK int) (retrieval.Batch, error) {
	f.calls++
	f.queries = queries
	return f.batch, f.err
}

type recordingLedger struct {
	entries []telemetry.Entry
}

func (r *recordingLedger) Log(e telemetry.Entry) {
	r.entries = append(r.entries, e)
}

func okBatch(queries ...string) retrieval.Batch {
	results := make([]retrieval.QueryResult, len(queries))
	for i, q := range queries {
		results[i] = retrieval.QueryResult{Query: q, Docs: []retrieval.Hit{}}
	}
	return retrieval.Batch{OK: true, Results: results, Backend: retrieval.BackendKeyword}
}

func TestPlan_Success(t *testing.T) {
	decomp := &fakeDecomposer{subtasks: []tasks.Subtask{
		{ID: 1, Text: "ship the mvp"},
		{ID: 2, Text: "write docs"},
	}}
	engine := &fakeEngine{batch: okBatch("ship the mvp", "write docs")}
	ledger := &recordingLedger{}

	planner := NewPlanner(decomp, engine, ledger, telemetry.NewMetrics())
	result, err := planner.Plan(context.Background(), "ship the mvp then write docs", 6, 2)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if !result.OK {
		t.Error("expected ok result")
	}
	if len(result.Subtasks) != 2 {
		t.Errorf("expected 2 subtasks, got %d", len(result.Subtasks))
	}
	if len(engine.queries) != 2 || engine.queries[0] != "ship the mvp" {
		t.Errorf("unexpected derived queries: %v", engine.queries)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(ledger.entries))
	}
	entry := ledger.entries[0]
	if entry.Status != 200 || entry.Endpoint != "/plan" {
		t.Errorf("unexpected ledger entry: %+v", entry)
	}
	if entry.Payload["subtask_count"] != 2 {
		t.Errorf("expected subtask_count 2, got %v", entry.Payload["subtask_count"])
	}
	if entry.Payload["retrieval_ok"] != true {
		t.Errorf("expected retrieval_ok true, got %v", entry.Payload["retrieval_ok"])
	}
}

func TestPlan_DecompositionFailureIsFatal(t *testing.T) {
	decomp := &fakeDecomposer{err: errors.New("collaborator unreachable")}
	engine := &fakeEngine{}
	ledger := &recordingLedger{}
	metrics := telemetry.NewMetrics()

	planner := NewPlanner(decomp, engine, ledger, metrics)
	_, err := planner.Plan(context.Background(), "anything", 6, 2)
	if !errors.Is(err, ErrDecompositionFailed) {
		t.Fatalf("expected ErrDecompositionFailed, got %v", err)
	}

	if engine.calls != 0 {
		t.Error("retrieval should not be attempted after decomposition failure")
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(ledger.entries))
	}
	entry := ledger.entries[0]
	if entry.Status != 500 {
		t.Errorf("expected status 500, got %d", entry.Status)
	}
	if cause, _ := entry.Payload["error"].(string); !strings.Contains(cause, "unreachable") {
		t.Errorf("failure entry should carry the cause, got %v", entry.Payload["error"])
	}
	if s := metrics.Snapshot(); s.TotalErrors != 1 {
		t.Errorf("expected one recorded error, got %d", s.TotalErrors)
	}
}

func TestPlan_ZeroSubtasksFallsBackToGoal(t *testing.T) {
	decomp := &fakeDecomposer{subtasks: nil}
	engine := &fakeEngine{batch: okBatch("do the thing")}
	ledger := &recordingLedger{}

	planner := NewPlanner(decomp, engine, ledger, nil)
	result, err := planner.Plan(context.Background(), "do the thing", 6, 2)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(result.Subtasks) != 1 || result.Subtasks[0].ID != 1 || result.Subtasks[0].Text != "do the thing" {
		t.Errorf("expected synthesized fallback subtask, got %+v", result.Subtasks)
	}
	if len(engine.queries) != 1 || engine.queries[0] != "do the thing" {
		t.Errorf("expected goal as sole query, got %v", engine.queries)
	}
}

func TestPlan_RetrievalFailureDegradesGracefully(t *testing.T) {
	decomp := &fakeDecomposer{subtasks: []tasks.Subtask{{ID: 1, Text: "find context"}}}
	engine := &fakeEngine{err: errors.New("store down")}
	ledger := &recordingLedger{}

	planner := NewPlanner(decomp, engine, ledger, nil)
	result, err := planner.Plan(context.Background(), "find context for the report", 6, 2)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the plan: %v", err)
	}

	if !result.OK {
		t.Error("plan should still be ok with degraded retrieval")
	}
	if result.Retrieval.OK {
		t.Error("retrieval block should be marked degraded")
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(ledger.entries))
	}
	if ledger.entries[0].Payload["retrieval_ok"] != false {
		t.Errorf("expected retrieval_ok false, got %v", ledger.entries[0].Payload["retrieval_ok"])
	}
}

func TestPlan_SkipsEmptySubtaskTexts(t *testing.T) {
	decomp := &fakeDecomposer{subtasks: []tasks.Subtask{
		{ID: 1, Text: "real work"},
		{ID: 2, Text: ""},
	}}
	engine := &fakeEngine{batch: okBatch("real work")}

	planner := NewPlanner(decomp, engine, &recordingLedger{}, nil)
	if _, err := planner.Plan(context.Background(), "goal", 6, 2); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(engine.queries) != 1 || engine.queries[0] != "real work" {
		t.Errorf("empty subtask text should be skipped, got %v", engine.queries)
	}
}

func TestPlan_DefaultBounds(t *testing.T) {
	var gotMax int
	decomp := decomposerFunc(func(ctx context.Context, goal string, maxSubtasks int) ([]tasks.Subtask, error) {
		gotMax = maxSubtasks
		return []tasks.Subtask{{ID: 1, Text: goal}}, nil
	})
	engine := &fakeEngine{batch: okBatch("g")}

	planner := NewPlanner(decomp, engine, &recordingLedger{}, nil)
	if _, err := planner.Plan(context.Background(), "g", 0, 0); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if gotMax != 6 {
		t.Errorf("expected default maxSubtasks 6, got %d", gotMax)
	}

	if _, err := planner.Plan(context.Background(), "g", 999, 2); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if gotMax != 20 {
		t.Errorf("expected maxSubtasks clamped to 20, got %d", gotMax)
	}
}

type decomposerFunc func(ctx context.Context, goal string, maxSubtasks int) ([]tasks.Subtask, error)

func (f decomposerFunc) Decompose(ctx context.Context, goal string, maxSubtasks int) ([]tasks.Subtask, error) {
	return f(ctx, goal, maxSubtasks)
}
