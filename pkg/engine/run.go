package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/dukex/aef/pkg/hybrid"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/variables"
)

var (
	errPaused = errors.New("execution paused")
	errEnded  = errors.New("end node reached")
)

// run is the mutable state of one execution. It is only touched by the
// goroutine driving the execution.
type run struct {
	e        *Engine
	workflow *models.Workflow
	state    *models.ExecutionState
	resolver *variables.Resolver
	mapper   *hybrid.Mapper
	logger   *slog.Logger

	visits    int
	failures  []string
	decisions map[string]bool
	actions   map[string][]models.ActionResult
}

func (e *Engine) newRun(workflow *models.Workflow, state *models.ExecutionState) *run {
	logger := e.logger.With("workflow_id", workflow.ID(), "execution_id", state.ID)

	resolver := variables.New(state.Variables,
		variables.WithLogger(logger),
		variables.WithContext(map[string]any{
			"execution": map[string]any{"id": state.ID, "sessionId": state.SessionID},
			"workflow": map[string]any{
				"id":      workflow.ID(),
				"title":   workflow.Meta.Title,
				"goal":    workflow.Meta.Goal,
				"version": workflow.Meta.Version,
			},
		}),
	)

	delay := e.config.RetryDelay
	if ms := workflow.Execution.Config.RetryDelayMs; ms > 0 {
		delay = time.Duration(ms) * time.Millisecond
	}

	return &run{
		e:         e,
		workflow:  workflow,
		state:     state,
		resolver:  resolver,
		mapper:    hybrid.NewMapper(workflow.Execution.Config.RetryLimit(e.config.MaxRetries), delay, logger),
		logger:    logger,
		decisions: map[string]bool{},
		actions:   map[string][]models.ActionResult{},
	}
}

// walkScope runs a list of sibling nodes. Without edges between them they
// run in order; otherwise the walk starts at the entry node and follows edges.
func (r *run) walkScope(ctx context.Context, members []*models.Node) error {
	if len(members) == 0 {
		return nil
	}

	if !r.hasInternalEdges(members) {
		return r.sequence(ctx, members)
	}

	return r.follow(ctx, members, r.entry(members))
}

func (r *run) walkScopeFrom(ctx context.Context, members []*models.Node, start *models.Node) error {
	if r.hasInternalEdges(members) {
		return r.follow(ctx, members, start)
	}

	return r.sequence(ctx, members[indexOf(members, start):])
}

func (r *run) walkScopeAfter(ctx context.Context, members []*models.Node, node *models.Node) error {
	if !r.hasInternalEdges(members) {
		return r.sequence(ctx, members[indexOf(members, node)+1:])
	}

	next, err := r.next(node, members)
	if err != nil || next == nil {
		return err
	}

	return r.follow(ctx, members, next)
}

func (r *run) sequence(ctx context.Context, nodes []*models.Node) error {
	for _, node := range nodes {
		if err := r.visit(ctx, node); err != nil {
			return err
		}
	}

	return nil
}

func (r *run) follow(ctx context.Context, members []*models.Node, start *models.Node) error {
	for node := start; node != nil; {
		if err := r.visit(ctx, node); err != nil {
			return err
		}

		next, err := r.next(node, members)
		if err != nil {
			return err
		}

		node = next
	}

	return nil
}

func (r *run) visit(ctx context.Context, node *models.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.visits++
	if r.visits > r.e.config.StepBudget {
		return fmt.Errorf("%w: %d node visits", ErrStepBudgetExceeded, r.e.config.StepBudget)
	}

	if !node.Executable() {
		r.skip(ctx, node)
		return nil
	}

	switch node.Type {
	case models.NodeTypeCompoundTask:
		step := r.begin(ctx, node)
		failuresBefore := len(r.failures)
		err := r.walkScope(ctx, r.workflow.ChildrenOf(node.ID))

		return r.closeContainer(ctx, node, step, err, failuresBefore)
	case models.NodeTypeLoop:
		return r.runLoop(ctx, node)
	case models.NodeTypeEnd:
		step := r.begin(ctx, node)
		r.complete(ctx, node, step, models.PathNone, 0, nil)

		return errEnded
	default:
		return r.runTask(ctx, node)
	}
}

// closeContainer records the outcome of a compound or loop node once its
// children returned err. failuresBefore is len(r.failures) when it began.
func (r *run) closeContainer(ctx context.Context, node *models.Node, step *models.StepState, err error, failuresBefore int) error {
	switch {
	case err == nil, errors.Is(err, errEnded):
		if failed := len(r.failures) - failuresBefore; failed > 0 {
			r.markFailed(ctx, node, step, fmt.Sprintf("%d child node(s) failed", failed))
		} else {
			r.complete(ctx, node, step, models.PathNone, 0, step.Output)
		}

		return err
	case errors.Is(err, errPaused), ctx.Err() != nil:
		return err
	default:
		r.markFailed(ctx, node, step, err.Error())
		return err
	}
}

func (r *run) runLoop(ctx context.Context, node *models.Node) error {
	step := r.begin(ctx, node)

	items, err := r.loopItems(node)
	if err != nil {
		return r.fail(ctx, node, step, err.Error())
	}

	return r.iterate(ctx, node, step, items, 0, nil, len(r.failures))
}

// iterate runs the loop body for items[from:]. When resume is set it
// replaces the body of the first iteration.
func (r *run) iterate(ctx context.Context, node *models.Node, step *models.StepState, items []any, from int, resume func(context.Context) error, failuresBefore int) error {
	as := node.Loop.As
	if as == "" {
		as = "item"
	}

	children := r.workflow.ChildrenOf(node.ID)

	for i := from; i < len(items); i++ {
		step.Output = map[string]any{"iteration": i, "total": len(items)}
		r.save(ctx)

		r.resolver.PushScope(map[string]any{as: items[i], "index": i})

		var err error
		if i == from && resume != nil {
			err = resume(ctx)
		} else {
			err = r.walkScope(ctx, children)
		}

		r.resolver.PopScope()

		if err != nil {
			return r.closeContainer(ctx, node, step, err, failuresBefore)
		}
	}

	step.Output = map[string]any{"iterations": len(items)}

	return r.closeContainer(ctx, node, step, nil, failuresBefore)
}

func (r *run) loopItems(node *models.Node) ([]any, error) {
	if node.Loop == nil || node.Loop.Over == "" {
		return nil, errors.New("loop has no collection")
	}

	items, err := toItems(r.resolver.ResolveValue(node.Loop.Over))
	if err != nil {
		return nil, fmt.Errorf("loop over %q: %w", node.Loop.Over, err)
	}

	limit := node.Loop.MaxIterations
	if limit <= 0 {
		limit = r.e.config.MaxLoopIterations
	}

	if len(items) > limit {
		r.logger.Warn("Loop truncated", "node_id", node.ID, "items", len(items), "max_iterations", limit)
		items = items[:limit]
	}

	return items, nil
}

func toItems(v any) ([]any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return value, nil
	case int:
		return countItems(value), nil
	case float64:
		return countItems(int(value)), nil
	case string:
		if len(variables.Placeholders(value)) > 0 {
			return nil, fmt.Errorf("unresolved collection %s", value)
		}

		var items []any
		if err := json.Unmarshal([]byte(value), &items); err != nil {
			return nil, fmt.Errorf("collection is not a list: %w", err)
		}

		return items, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}

		return items, nil
	}

	return nil, fmt.Errorf("cannot iterate over %T", v)
}

func countItems(n int) []any {
	items := make([]any, max(n, 0))
	for i := range items {
		items[i] = i
	}

	return items
}

// resumeFrom re-enters the tree at node: enclosing loops are restored to the
// iteration they paused in, then every enclosing scope is finished.
func (r *run) resumeFrom(ctx context.Context, node *models.Node) error {
	return r.resumeIn(ctx, r.ancestors(node), 0, node)
}

func (r *run) resumeIn(ctx context.Context, chain []*models.Node, depth int, node *models.Node) error {
	if depth == len(chain) {
		return r.walkScopeFrom(ctx, r.scopeOf(node), node)
	}

	container := chain[depth]
	step := r.state.Step(container.ID)
	inner := func(ctx context.Context) error { return r.resumeIn(ctx, chain, depth+1, node) }

	var err error

	if container.Type == models.NodeTypeLoop {
		items, itemsErr := r.loopItems(container)
		if itemsErr != nil {
			return r.fail(ctx, container, step, itemsErr.Error())
		}

		err = r.iterate(ctx, container, step, items, savedIteration(step), inner, len(r.failures))
	} else {
		failuresBefore := len(r.failures)
		err = r.closeContainer(ctx, container, step, inner(ctx), failuresBefore)
	}

	if err != nil {
		return err
	}

	return r.walkScopeAfter(ctx, r.scopeOf(container), container)
}

func savedIteration(step *models.StepState) int {
	switch v := step.Output["iteration"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// ancestors returns the containers enclosing node, outermost first.
func (r *run) ancestors(node *models.Node) []*models.Node {
	var chain []*models.Node

	seen := map[string]bool{node.ID: true}

	for p := r.workflow.Node(node.ParentID); p != nil && !seen[p.ID]; p = r.workflow.Node(p.ParentID) {
		seen[p.ID] = true
		chain = append([]*models.Node{p}, chain...)
	}

	return chain
}

func (r *run) scopeOf(node *models.Node) []*models.Node {
	if node.ParentID == "" {
		return r.workflow.TopLevel()
	}

	return r.workflow.ChildrenOf(node.ParentID)
}

func (r *run) hasInternalEdges(members []*models.Node) bool {
	for _, m := range members {
		for _, e := range r.workflow.Outgoing(m.ID) {
			if indexOf(members, r.workflow.Node(e.To)) >= 0 {
				return true
			}
		}
	}

	return false
}

// entry is the first member without incoming edges from its siblings.
func (r *run) entry(members []*models.Node) *models.Node {
	for _, m := range members {
		internal := false

		for _, e := range r.workflow.Incoming(m.ID) {
			if indexOf(members, r.workflow.Node(e.From)) >= 0 {
				internal = true
				break
			}
		}

		if !internal {
			return m
		}
	}

	return members[0]
}

// next picks the outgoing edge to follow. Decisions match their result
// against edge conditions or labels (true/false, yes/no); other edges with
// a condition are taken when it evaluates to true.
func (r *run) next(node *models.Node, members []*models.Node) (*models.Node, error) {
	var edges []*models.Edge

	for _, e := range r.workflow.Outgoing(node.ID) {
		if indexOf(members, r.workflow.Node(e.To)) >= 0 {
			edges = append(edges, e)
		}
	}

	if len(edges) == 0 {
		return nil, nil
	}

	result, decided := r.decisions[node.ID]
	if decided {
		if target := matchKeyword(edges, result); target != "" {
			return r.workflow.Node(target), nil
		}
	} else if node.Type == models.NodeTypeDecision && node.Condition != "" {
		// The condition failed or never ran: no branch can be chosen.
		if target := unconditioned(edges); target != "" {
			return r.workflow.Node(target), nil
		}

		r.logger.Warn("Decision has no result, ending branch", "node_id", node.ID)

		return nil, nil
	}

	for _, e := range edges {
		if e.Condition == "" || isKeyword(e.Condition) {
			continue
		}

		ok, err := r.evaluate(e.Condition)
		if err != nil {
			r.logger.Warn("Edge condition failed", "edge", e.ID, "error", err)
			continue
		}

		if ok {
			return r.workflow.Node(e.To), nil
		}
	}

	if !decided && node.Type != models.NodeTypeDecision {
		if target := matchKeyword(edges, true); target != "" {
			return r.workflow.Node(target), nil
		}
	}

	if target := unconditioned(edges); target != "" {
		return r.workflow.Node(target), nil
	}

	if node.Type == models.NodeTypeDecision {
		r.logger.Warn("No branch matched decision", "node_id", node.ID)
	}

	return nil, nil
}

func (r *run) evaluate(expression string) (bool, error) {
	return models.SimpleConditionalInterpreter{}.Evaluate(r.resolver.ResolveValue(expression))
}

func edgeKeyword(e *models.Edge) (bool, bool) {
	for _, s := range []string{e.Condition, e.Label} {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}

	return false, false
}

// unconditioned returns the target of the first edge with neither a
// condition nor a branch keyword.
func unconditioned(edges []*models.Edge) string {
	for _, e := range edges {
		if _, isKeyword := edgeKeyword(e); !isKeyword && e.Condition == "" {
			return e.To
		}
	}

	return ""
}

func matchKeyword(edges []*models.Edge, result bool) string {
	for _, e := range edges {
		if kw, isKeyword := edgeKeyword(e); isKeyword && kw == result {
			return e.To
		}
	}

	return ""
}

func isKeyword(s string) bool {
	_, ok := edgeKeyword(&models.Edge{Condition: s})
	return ok
}

func indexOf(nodes []*models.Node, node *models.Node) int {
	if node == nil {
		return -1
	}

	for i, n := range nodes {
		if n.ID == node.ID {
			return i
		}
	}

	return -1
}
