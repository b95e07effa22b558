// Package engine contains the DAG scheduler: it orders node execution by
// dependency, invokes executors, merges outputs into the run context,
// applies conditional-branch pruning, and bounds total concurrent runs.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okibo/skein/internal/executors"
	"github.com/okibo/skein/internal/expressions"
	"github.com/okibo/skein/internal/graph"
	"github.com/okibo/skein/internal/logging"
	"github.com/okibo/skein/internal/store"
	"github.com/okibo/skein/internal/streaming"
	"github.com/okibo/skein/pkg/schema"
)

// Config bounds run admission and duration.
type Config struct {
	MaxConcurrentRuns int
	OverflowPolicy    string        // queue (default) or reject
	MaxRunDuration    time.Duration // 0 = unbounded
}

// Options are the engine's collaborators. Recorder and Hub are optional;
// when set they are written best-effort and never fail a run.
type Options struct {
	Validator    *graph.Validator
	Registry     *executors.Registry
	Interpolator *expressions.Interpolator
	Recorder     store.Recorder
	Hub          streaming.Hub
	Logger       *slog.Logger
}

// Engine executes workflow graphs. Safe for concurrent use; each run owns
// its ExecutionContext exclusively.
type Engine struct {
	cfg    Config
	opts   Options
	gate   *RunGate
	logger *slog.Logger
}

func New(cfg Config, opts Options) (*Engine, error) {
	if opts.Validator == nil || opts.Registry == nil || opts.Interpolator == nil {
		return nil, errors.New("engine requires a validator, a registry and an interpolator")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		opts:   opts,
		gate:   NewRunGate(cfg.MaxConcurrentRuns, cfg.OverflowPolicy),
		logger: logger,
	}, nil
}

// Gate exposes admission statistics.
func (e *Engine) Gate() *RunGate { return e.gate }

// RunRequest is one run submission: the graph, the trigger payload, and the
// identity fields recorded on the execution.
type RunRequest struct {
	Graph       *schema.Graph
	TriggerData map[string]any
	WorkflowID  string
	ProjectID   string
	CreatorID   string
}

// Run validates the graph, admits the run through the gate, and executes it
// to completion. Submission-level problems (invalid graph, rejected run,
// cancellation while queued) return an error and no result; everything past
// admission is reported inside the RunResult.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*schema.RunResult, error) {
	dag, err := graph.Build(e.opts.Validator, req.Graph)
	if err != nil {
		return nil, err
	}

	if err := e.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.gate.Release()

	executionID := uuid.NewString()
	ctx = logging.WithWorkflowID(ctx, req.WorkflowID)
	ctx = logging.WithExecutionID(ctx, executionID)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.MaxRunDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxRunDuration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	startedAt := time.Now()
	ectx := schema.NewExecutionContext(executionID, req.WorkflowID, req.ProjectID, req.CreatorID, req.TriggerData)

	e.recordStart(ctx, ectx, req, startedAt)
	e.publish(ctx, ectx, "", schema.EventRunStarted, nil)
	e.logger.InfoContext(ctx, "run started", "nodes", len(dag.Nodes))

	result := e.execute(runCtx, dag, ectx, startedAt)

	e.recordFinish(ctx, ectx, result)
	switch result.Status {
	case schema.RunStatusFailed:
		event := schema.EventRunFailed
		if result.Error != nil && result.Error.Code == schema.ErrCodeTimeout {
			event = schema.EventRunTimedOut
		}
		e.publish(ctx, ectx, "", event, map[string]any{"error": result.Error})
		e.logger.WarnContext(ctx, "run failed", "status", result.Status, "error", result.Error)
	default:
		e.publish(ctx, ectx, "", schema.EventRunCompleted, map[string]any{"status": result.Status})
		e.logger.InfoContext(ctx, "run finished", "status", result.Status, "duration_ms", result.DurationMs)
	}
	return result, nil
}

// nodeResult carries one node's outcome back to the scheduling loop.
type nodeResult struct {
	nodeID          string
	output          schema.NodeOutput
	err             error
	continueOnError bool
	startedAt       time.Time
	completedAt     time.Time
}

func (e *Engine) execute(runCtx context.Context, dag *graph.DAG, ectx *schema.ExecutionContext, startedAt time.Time) *schema.RunResult {
	indegree := make(map[string]int, len(dag.Nodes))
	resolved := make(map[string]int, len(dag.Nodes))
	deadIn := make(map[string]int, len(dag.Nodes))
	statuses := make(map[string]schema.NodeStatus, len(dag.Nodes))
	for id := range dag.Nodes {
		indegree[id] = len(dag.Incoming[id])
	}

	// bookkeeping survives run cancellation: skip records and final node
	// outcomes still persist after a timeout
	bookCtx := context.WithoutCancel(runCtx)

	results := make(chan nodeResult)
	ready := append([]string(nil), dag.Roots...)
	running := 0
	aborted := false
	timedOut := false
	tolerated := false
	var fatal *schema.EngineError

	// markSkipped prunes a node and cascades along its outgoing edges.
	var markSkipped func(id string)
	var resolveEdge func(target string, dead bool)
	markSkipped = func(id string) {
		statuses[id] = schema.NodeStatusSkipped
		ectx.DependencyOutputs[id] = schema.SkippedOutput()
		e.recordNode(bookCtx, ectx, dag.Nodes[id], schema.SkippedOutput(), nil, nil)
		e.publish(bookCtx, ectx, id, schema.EventNodeSkipped, nil)
		for _, edge := range dag.Outgoing[id] {
			resolveEdge(edge.Target, true)
		}
	}
	resolveEdge = func(target string, dead bool) {
		resolved[target]++
		if dead {
			deadIn[target]++
		}
		if resolved[target] != indegree[target] {
			return
		}
		if deadIn[target] == indegree[target] {
			markSkipped(target)
			return
		}
		ready = append(ready, target)
	}

	for {
		if !aborted {
			for _, id := range ready {
				e.dispatch(runCtx, dag, ectx, id, results)
				running++
			}
		}
		ready = ready[:0]

		if running == 0 {
			break
		}

		select {
		case res := <-results:
			running--
			e.handleResult(bookCtx, dag, ectx, res, statuses, resolveEdge,
				&aborted, &tolerated, &fatal)
		case <-runCtx.Done():
			aborted = true
			timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
			// drain in-flight nodes; their contexts are already cancelled
			for running > 0 {
				res := <-results
				running--
				e.handleResult(bookCtx, dag, ectx, res, statuses, resolveEdge,
					&aborted, &tolerated, &fatal)
			}
		}
	}

	// everything never reached is skipped, not failed
	for id := range dag.Nodes {
		if _, done := statuses[id]; done {
			continue
		}
		if _, has := ectx.DependencyOutputs[id]; has {
			continue
		}
		statuses[id] = schema.NodeStatusSkipped
		ectx.DependencyOutputs[id] = schema.SkippedOutput()
		e.recordNode(bookCtx, ectx, dag.Nodes[id], schema.SkippedOutput(), nil, nil)
		e.publish(bookCtx, ectx, id, schema.EventNodeSkipped, nil)
	}

	status := schema.RunStatusSuccess
	var runErr *schema.EngineError
	switch {
	case timedOut:
		status = schema.RunStatusFailed
		runErr = schema.NewErrorf(schema.ErrCodeTimeout,
			"run exceeded maximum duration %s", e.cfg.MaxRunDuration)
	case fatal != nil:
		status = schema.RunStatusFailed
		runErr = fatal
	case aborted:
		status = schema.RunStatusFailed
		runErr = schema.NewError(schema.ErrCodeCancelled, "run cancelled")
	case tolerated:
		status = schema.RunStatusPartialSuccess
	}

	completedAt := time.Now()
	outputs := make(map[string]schema.NodeOutput, len(ectx.DependencyOutputs))
	for id, out := range ectx.DependencyOutputs {
		outputs[id] = out
	}
	return &schema.RunResult{
		ExecutionID: ectx.ExecutionID,
		WorkflowID:  ectx.WorkflowID,
		Status:      status,
		Outputs:     outputs,
		Error:       runErr,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}
}

// dispatch snapshots the node's view on the scheduler goroutine, then runs
// the executor concurrently. The view is the only state the goroutine
// touches, so the ExecutionContext stays single-writer.
func (e *Engine) dispatch(runCtx context.Context, dag *graph.DAG, ectx *schema.ExecutionContext, nodeID string, results chan<- nodeResult) {
	node := dag.Nodes[nodeID]
	view := ectx.View(dag.Predecessors(nodeID))

	go func() {
		ctx := logging.WithNodeID(runCtx, nodeID)
		started := time.Now()
		e.publish(ctx, ectx, nodeID, schema.EventNodeStarted, nil)

		output, continueOnError, err := e.executeNode(ctx, node, view)
		results <- nodeResult{
			nodeID:          nodeID,
			output:          output,
			err:             err,
			continueOnError: continueOnError,
			startedAt:       started,
			completedAt:     time.Now(),
		}
	}()
}

func (e *Engine) executeNode(ctx context.Context, node *schema.Node, view *schema.ContextView) (output schema.NodeOutput, continueOnError bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = schema.NewErrorf(schema.ErrCodeNodeFailed, "executor panic: %v", r).WithNode(node.ID)
		}
	}()

	config := node.Config
	if expressions.HasInterpolation(config) {
		scope := expressions.ScopeFromView(view)
		resolved, rerr := e.opts.Interpolator.Resolve(config, scope)
		if rerr != nil {
			return nil, false, wrapNodeErr(rerr, node.ID)
		}
		config = resolved
	}

	var common schema.CommonConfig
	if len(config) > 0 {
		// continue_on_error rides inside the same config blob
		_ = json.Unmarshal(config, &common)
	}

	exec, gerr := e.opts.Registry.Get(node.Type)
	if gerr != nil {
		return nil, common.ContinueOnError, wrapNodeErr(gerr, node.ID)
	}

	out, xerr := exec.Execute(ctx, node.ID, config, view)
	if xerr != nil {
		return nil, common.ContinueOnError, wrapNodeErr(xerr, node.ID)
	}
	return out, common.ContinueOnError, nil
}

func (e *Engine) handleResult(bookCtx context.Context, dag *graph.DAG, ectx *schema.ExecutionContext, res nodeResult, statuses map[string]schema.NodeStatus, resolveEdge func(string, bool), aborted, tolerated *bool, fatal **schema.EngineError) {
	node := dag.Nodes[res.nodeID]

	output := res.output
	if res.err != nil {
		output = schema.FailureOutput(res.err)
	}
	failed := res.err != nil || output.Status() == schema.NodeStatusFailed

	status := schema.NodeStatusSuccess
	if failed {
		status = schema.NodeStatusFailed
	}
	statuses[res.nodeID] = status
	ectx.DependencyOutputs[res.nodeID] = output
	e.recordNode(bookCtx, ectx, node, output, &res.startedAt, &res.completedAt)

	if failed {
		e.publish(bookCtx, ectx, res.nodeID, schema.EventNodeFailed, map[string]any{"error": output["error"]})
		e.logger.WarnContext(logging.WithNodeID(bookCtx, res.nodeID), "node failed",
			"type", node.Type, "continue_on_error", res.continueOnError, "error", output["error"])

		if !res.continueOnError {
			if !*aborted {
				*aborted = true
				*fatal = nodeFatal(res, node)
			}
			return
		}
		*tolerated = true
	} else {
		e.publish(bookCtx, ectx, res.nodeID, schema.EventNodeCompleted, nil)
	}

	// propagate along outgoing edges; a non-matching branch label kills
	// the edge and everything only reachable through it
	branch := ""
	if node.Type == schema.NodeTypeConditional && !failed {
		branch, _ = output["branch"].(string)
	}
	for _, edge := range dag.Outgoing[res.nodeID] {
		dead := edge.Label != "" && node.Type == schema.NodeTypeConditional && !failed && edge.Label != branch
		resolveEdge(edge.Target, dead)
	}
}

func nodeFatal(res nodeResult, node *schema.Node) *schema.EngineError {
	if ee, ok := res.err.(*schema.EngineError); ok {
		return ee
	}
	msg := "node failed"
	if res.err != nil {
		msg = res.err.Error()
	} else if s, ok := res.output["error"].(string); ok {
		msg = s
	}
	return schema.NewErrorf(schema.ErrCodeNodeFailed, "node %s (%s): %s", node.ID, node.Type, msg).
		WithNode(node.ID)
}

func wrapNodeErr(err error, nodeID string) error {
	if ee, ok := err.(*schema.EngineError); ok {
		if ee.NodeID == "" {
			return ee.WithNode(nodeID)
		}
		return ee
	}
	return schema.NewErrorf(schema.ErrCodeNodeFailed, "%v", err).WithNode(nodeID).WithCause(err)
}

// recordStart, recordNode, recordFinish and publish are best-effort: the
// run never fails because persistence or streaming did.

func (e *Engine) recordStart(ctx context.Context, ectx *schema.ExecutionContext, req RunRequest, startedAt time.Time) {
	if e.opts.Recorder == nil {
		return
	}
	var trigger json.RawMessage
	if req.TriggerData != nil {
		trigger, _ = json.Marshal(req.TriggerData)
	}
	err := e.opts.Recorder.CreateExecution(ctx, &store.Execution{
		ID:          ectx.ExecutionID,
		WorkflowID:  ectx.WorkflowID,
		ProjectID:   ectx.ProjectID,
		CreatorID:   ectx.CreatorID,
		Status:      store.StatusRunning,
		TriggerData: trigger,
		StartedAt:   startedAt,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "record execution start", "error", err)
	}
}

func (e *Engine) recordNode(ctx context.Context, ectx *schema.ExecutionContext, node *schema.Node, output schema.NodeOutput, startedAt, completedAt *time.Time) {
	if e.opts.Recorder == nil {
		return
	}
	rec := &store.NodeRecord{
		ExecutionID: ectx.ExecutionID,
		NodeID:      node.ID,
		Type:        node.Type,
		Status:      output.Status(),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if raw, err := json.Marshal(output); err == nil {
		rec.Output = raw
	}
	if msg, ok := output["error"].(string); ok {
		rec.Error = msg
	}
	if startedAt != nil && completedAt != nil {
		rec.DurationMs = completedAt.Sub(*startedAt).Milliseconds()
	}
	if err := e.opts.Recorder.UpsertNodeRecord(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "record node outcome", "node_id", node.ID, "error", err)
	}
}

func (e *Engine) recordFinish(ctx context.Context, ectx *schema.ExecutionContext, result *schema.RunResult) {
	if e.opts.Recorder == nil {
		return
	}
	update := store.ExecutionUpdate{
		Status:      string(result.Status),
		CompletedAt: &result.CompletedAt,
	}
	if raw, err := json.Marshal(result.Outputs); err == nil {
		update.Outputs = raw
	}
	if result.Error != nil {
		if raw, err := json.Marshal(result.Error); err == nil {
			update.Error = raw
		}
	}
	if err := e.opts.Recorder.FinishExecution(ctx, ectx.ExecutionID, update); err != nil {
		e.logger.WarnContext(ctx, "record execution finish", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, ectx *schema.ExecutionContext, nodeID, eventType string, payload map[string]any) {
	if e.opts.Hub == nil {
		return
	}
	err := e.opts.Hub.Publish(ctx, streaming.Event{
		WorkflowID:  ectx.WorkflowID,
		ExecutionID: ectx.ExecutionID,
		NodeID:      nodeID,
		EventType:   eventType,
		Timestamp:   time.Now(),
		Payload:     payload,
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		e.logger.DebugContext(ctx, "publish event", "event", eventType, "error", err)
	}
}
