package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rowan/attache/internal/retrieval"
	"github.com/rowan/attache/internal/tasks"
	"github.com/rowan/attache/internal/telemetry"
)

// ErrDecompositionFailed marks the one fatal failure mode of a plan
// call: the decomposition step itself was unreachable or returned a
// malformed result. Retrieval failures never surface here; a plan with
// subtasks but no context is still useful.
var ErrDecompositionFailed = errors.New("task decomposition failed")

const (
	defaultMaxSubtasks = 6
	defaultTopK        = 2
	maxSubtasksBound   = 20
)

// Decomposer is the collaborator boundary for goal decomposition. The
// local implementation is pure and cannot fail; a remote one can.
type Decomposer interface {
	Decompose(ctx context.Context, goal string, maxSubtasks int) ([]tasks.Subtask, error)
}

// LocalDecomposer runs the deterministic heuristic in-process.
type LocalDecomposer struct{}

func (LocalDecomposer) Decompose(ctx context.Context, goal string, maxSubtasks int) ([]tasks.Subtask, error) {
	return tasks.Decompose(goal, maxSubtasks), nil
}

// RetrievalEngine is the fan-out boundary.
type RetrievalEngine interface {
	RetrieveMany(ctx context.Context, queries []string, topK int) (retrieval.Batch, error)
}

// ExecutionLog receives exactly one entry per Plan invocation.
type ExecutionLog interface {
	Log(e telemetry.Entry)
}

// PlanResult is the outcome of one orchestration call. It is not
// persisted beyond its ledger entry.
type PlanResult struct {
	OK        bool            `json:"ok"`
	Goal      string          `json:"goal"`
	Subtasks  []tasks.Subtask `json:"subtasks"`
	Retrieval retrieval.Batch `json:"retrieval"`
	LatencyMS float64         `json:"latency_ms"`
}

// Planner coordinates the full pipeline: decompose the goal, derive
// retrieval queries, fan retrieval out, and record the outcome. It is
// the only component that knows the whole pipeline.
type Planner struct {
	Decomposer Decomposer
	Engine     RetrievalEngine
	Ledger     ExecutionLog
	Metrics    *telemetry.Metrics
}

func NewPlanner(decomposer Decomposer, engine RetrievalEngine, ledger ExecutionLog, metrics *telemetry.Metrics) *Planner {
	return &Planner{
		Decomposer: decomposer,
		Engine:     engine,
		Ledger:     ledger,
		Metrics:    metrics,
	}
}

// Plan executes one pass of the pipeline. Exactly one execution-log
// entry is written whether the call succeeds or fails. Only a
// decomposition failure is fatal; retrieval degrades to whatever was
// received.
func (p *Planner) Plan(ctx context.Context, goal string, maxSubtasks, topK int) (PlanResult, error) {
	start := time.Now()

	if maxSubtasks < 1 {
		maxSubtasks = defaultMaxSubtasks
	}
	if maxSubtasks > maxSubtasksBound {
		maxSubtasks = maxSubtasksBound
	}
	if topK < 1 {
		topK = defaultTopK
	}

	subtasks, err := p.Decomposer.Decompose(ctx, goal, maxSubtasks)
	if err != nil {
		p.logEntry(500, start, map[string]any{
			"goal":         goal,
			"max_subtasks": maxSubtasks,
			"top_k":        topK,
			"error":        err.Error(),
		})
		if p.Metrics != nil {
			p.Metrics.RecordError(err.Error())
		}
		return PlanResult{}, fmt.Errorf("%w: %v", ErrDecompositionFailed, err)
	}

	// The pipeline must always have at least one query to retrieve
	// against.
	if len(subtasks) == 0 {
		subtasks = []tasks.Subtask{{ID: 1, Text: goal}}
	}

	queries := make([]string, 0, len(subtasks))
	for _, s := range subtasks {
		if s.Text != "" {
			queries = append(queries, s.Text)
		}
	}
	if len(queries) == 0 {
		queries = []string{goal}
	}

	batch, err := p.Engine.RetrieveMany(ctx, queries, topK)
	if err != nil {
		// Batch-level unavailability: include the degraded (empty)
		// retrieval block and still succeed.
		batch = retrieval.Batch{OK: false, Results: []retrieval.QueryResult{}}
	}

	latency := time.Since(start)
	p.logEntry(200, start, map[string]any{
		"goal":          goal,
		"max_subtasks":  maxSubtasks,
		"top_k":         topK,
		"subtask_count": len(subtasks),
		"retrieval_ok":  batch.OK,
	})
	if p.Metrics != nil {
		p.Metrics.RecordSuccess(float64(latency.Milliseconds()))
	}

	return PlanResult{
		OK:        true,
		Goal:      goal,
		Subtasks:  subtasks,
		Retrieval: batch,
		LatencyMS: float64(latency.Milliseconds()),
	}, nil
}

func (p *Planner) logEntry(status int, start time.Time, payload map[string]any) {
	if p.Ledger == nil {
		return
	}
	p.Ledger.Log(telemetry.Entry{
		Endpoint:  "/plan",
		Status:    status,
		LatencyMS: time.Since(start).Milliseconds(),
		Payload:   payload,
	})
}
