package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/aef/pkg/agent"
	"github.com/dukex/aef/pkg/browser"
	"github.com/dukex/aef/pkg/credentials"
	"github.com/dukex/aef/pkg/hybrid"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/otelhelper"

	"go.opentelemetry.io/otel/attribute"
)

var errNoVariableName = errors.New("set_variable needs outputVariable or data.name")

// runTask executes an atomic or decision node.
func (r *run) runTask(ctx context.Context, node *models.Node) error {
	ctx, span := otelhelper.StartSpan(ctx, r.e.tracer, "engine.node",
		append(otelhelper.NodeAttributes(r.state.WorkflowID, r.state.ID, node.ID),
			attribute.String(otelhelper.NodeTypeKey, string(node.Type)))...)
	defer span.End()

	step := r.begin(ctx, node)

	// A decision only routes on the result of this visit.
	delete(r.decisions, node.ID)

	resolved := make([]models.Action, len(node.Actions))
	results := make([]models.ActionResult, 0, len(node.Actions))
	outputs := map[string]any{}
	failure := ""

	for i, raw := range node.Actions {
		if failure != "" {
			resolved[i] = raw
			results = append(results, models.ActionResult{Index: i, Type: raw.Type, Path: models.PathNone, Skipped: true})

			continue
		}

		// Resolved per action so earlier outputs are visible to later ones.
		action := r.resolveAction(raw)
		resolved[i] = action

		result := r.runAction(ctx, node, i, action)
		results = append(results, result)

		if result.Success && action.OutputVariable != "" {
			outputs[action.OutputVariable] = result.Data
		}

		if !result.Success && !action.Optional {
			failure = fmt.Sprintf("action %d (%s) failed: %s", i, action.Type, result.Error)
		}
	}

	r.actions[node.ID] = results

	if failure == "" && node.Type == models.NodeTypeDecision && node.Condition != "" {
		result, err := r.evaluate(node.Condition)
		if err != nil {
			failure = fmt.Sprintf("condition %q: %v", node.Condition, err)
		} else {
			r.decisions[node.ID] = result
			outputs["result"] = result
		}
	}

	path, attempts := summarize(results)
	span.SetAttributes(attribute.String(otelhelper.PathKey, string(path)), attribute.Int(otelhelper.AttemptsKey, attempts))

	r.saveMemory(ctx, node, resolved, results, outputs, failure == "")

	if err := ctx.Err(); err != nil {
		r.markFailed(ctx, node, step, "cancelled")
		return err
	}

	if failure != "" {
		otelhelper.SetError(span, errors.New(failure))

		step.Path, step.Attempts = path, attempts

		return r.fail(ctx, node, step, failure)
	}

	r.complete(ctx, node, step, path, attempts, outputs)

	return nil
}

// summarize reports fallback when any action needed it.
func summarize(results []models.ActionResult) (models.ExecutionPath, int) {
	path := models.PathNone
	attempts := 0

	for _, res := range results {
		attempts += res.Attempts

		switch {
		case res.Path == models.PathFallback:
			path = models.PathFallback
		case res.Path == models.PathPrimary && path == models.PathNone:
			path = models.PathPrimary
		}
	}

	return path, attempts
}

func (r *run) runAction(ctx context.Context, node *models.Node, index int, action models.Action) models.ActionResult {
	result := models.ActionResult{Index: index, Type: action.Type, Path: models.PathNone}

	if action.Type == models.ActionSetVariable {
		return r.setVariable(action, result)
	}

	injection, err := r.inject(ctx, node, action)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer injection.Release()

	timeout := r.timeoutFor(node, action)
	key := agent.SelectorKey(r.state.WorkflowID, node.ID, index)

	res := r.mapper.Execute(ctx,
		r.primary(ctx, key, injection, timeout),
		r.fallbackFunc(node, index, injection, timeout),
	)

	result.Success = res.Success
	result.Path = res.Path
	result.Attempts = res.Attempts
	result.Data = redactData(injection, res.Data)
	result.Error = injection.Redact(res.Error)

	if res.Success && action.OutputVariable != "" {
		r.resolver.SetGlobal(action.OutputVariable, result.Data)
	}

	r.logger.DebugContext(ctx, "Action finished",
		"node_id", node.ID, "index", index, "type", action.Type,
		"success", res.Success, "path", res.Path, "attempts", res.Attempts)

	return result
}

func (r *run) setVariable(action models.Action, result models.ActionResult) models.ActionResult {
	name := action.OutputVariable
	if name == "" {
		name, _ = action.Data["name"].(string)
	}

	if name == "" {
		result.Error = errNoVariableName.Error()
		return result
	}

	value := action.Data["value"]
	r.resolver.SetGlobal(name, value)

	result.Success = true
	result.Path = models.PathPrimary
	result.Attempts = 1
	result.Data = value

	return result
}

func (r *run) inject(ctx context.Context, node *models.Node, action models.Action) (*credentials.Injection, error) {
	if r.e.injector == nil {
		if action.CredentialField != "" {
			return nil, fmt.Errorf("%w: %s (no credential store configured)", credentials.ErrCredentialMissing, action.CredentialField)
		}

		return &credentials.Injection{Action: action}, nil
	}

	return r.e.injector.Inject(ctx, action, node.CredentialsRequired)
}

// primary performs the action with the cached selector, or the document's
// target selector. A cached selector that stops working is forgotten.
func (r *run) primary(ctx context.Context, key string, injection *credentials.Injection, timeoutMs int) hybrid.Func {
	if r.e.driver == nil {
		return nil
	}

	action := injection.Action

	selector, cached := r.e.selectors.Lookup(ctx, key)
	if !cached && action.Target != nil {
		selector = action.Target.Selector
	}

	if action.Type.NeedsSelector() && selector == "" {
		return nil
	}

	return func(ctx context.Context, _ int) (any, error) {
		cmd := browser.CommandFromAction(action, selector, timeoutMs)
		if err := cmd.Validate(); err != nil {
			return nil, err
		}

		outcome, err := r.e.driver.Perform(ctx, r.state.SessionID, cmd)
		if err != nil {
			if cached {
				if forgetErr := r.e.selectors.Forget(ctx, key); forgetErr != nil {
					r.logger.WarnContext(ctx, "Failed to forget stale selector", "key", key, "error", forgetErr)
				}
			}

			return nil, redactErr(injection, err)
		}

		return outcome.Data, nil
	}
}

func (r *run) fallbackFunc(node *models.Node, index int, injection *credentials.Injection, timeoutMs int) hybrid.Func {
	if r.e.fallback == nil {
		return nil
	}

	step := agent.Step{
		WorkflowID:       r.state.WorkflowID,
		Node:             node,
		ActionIndex:      index,
		SessionID:        r.state.SessionID,
		DefaultTimeoutMs: timeoutMs,
	}

	return func(ctx context.Context, _ int) (any, error) {
		data, err := r.e.fallback.Execute(ctx, step, injection.Action)
		if err != nil {
			return nil, redactErr(injection, err)
		}

		return data, nil
	}
}

func (r *run) timeoutFor(node *models.Node, action models.Action) int {
	switch {
	case action.TimeoutMs > 0:
		return action.TimeoutMs
	case node.TimeoutMs > 0:
		return node.TimeoutMs
	case r.workflow.Execution.Config.DefaultTimeoutMs > 0:
		return r.workflow.Execution.Config.DefaultTimeoutMs
	default:
		return r.e.config.DefaultTimeoutMs
	}
}

// resolveAction substitutes variables in every string of the action.
// Credential placeholders are left for the injector.
func (r *run) resolveAction(action models.Action) models.Action {
	out := action
	out.Instruction = r.resolver.ResolveString(action.Instruction)

	if action.Target != nil {
		out.Target = &models.Target{
			Selector: r.resolver.ResolveString(action.Target.Selector),
			URL:      r.resolver.ResolveString(action.Target.URL),
		}
	}

	if action.Data != nil {
		if data, ok := r.resolver.ResolveValue(action.Data).(map[string]any); ok {
			out.Data = data
		}
	}

	return out
}

func redactErr(injection *credentials.Injection, err error) error {
	msg := injection.Redact(err.Error())
	if msg == err.Error() {
		return err
	}

	return errors.New(msg)
}

func redactData(injection *credentials.Injection, data any) any {
	if s, ok := data.(string); ok {
		return injection.Redact(s)
	}

	return data
}
