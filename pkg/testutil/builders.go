// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/aef/pkg/models"
)

// CreateTestWorkflow creates a workflow with default metadata holding nodes
// and flow. Overrides run last.
func CreateTestWorkflow(nodes []*models.Node, flow []*models.Edge, overrides ...func(*models.Workflow)) *models.Workflow {
	wf := &models.Workflow{
		Meta: models.Meta{ID: "test-workflow", Title: "Test Workflow", Version: "1.0.0"},
		Execution: models.Execution{
			Variables: map[string]any{},
			Workflow:  models.Graph{Nodes: nodes, Flow: flow},
		},
	}

	for _, override := range overrides {
		override(wf)
	}

	return wf
}

// WithWorkflowID sets meta.id.
func WithWorkflowID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Meta.ID = id
	}
}

// WithVariables sets the initial workflow variables.
func WithVariables(vars map[string]any) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Execution.Variables = vars
	}
}

// WithPauseOnErrors sets execution.config.pauseOnErrors.
func WithPauseOnErrors(pause bool) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Execution.Config.PauseOnErrors = pause
	}
}

// WithMaxRetries sets execution.config.maxRetries.
func WithMaxRetries(n int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Execution.Config.MaxRetries = &n
	}
}

// WithCredentials declares credential requirements.
func WithCredentials(reqs ...models.CredentialRequirement) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Credentials = reqs
	}
}

// CreateTestNode creates an atomic task node with default values that can be overridden.
func CreateTestNode(id string, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:    id,
		Type:  models.NodeTypeAtomicTask,
		Label: "Node " + id,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithNodeType sets the node type.
func WithNodeType(t models.NodeType) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = t
	}
}

// WithParent places the node inside parentID.
func WithParent(parentID string) func(*models.Node) {
	return func(n *models.Node) {
		n.ParentID = parentID
	}
}

// WithActions sets the node actions.
func WithActions(actions ...models.Action) func(*models.Node) {
	return func(n *models.Node) {
		n.Actions = actions
	}
}

// WithCondition sets the decision condition.
func WithCondition(condition string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeDecision
		n.Condition = condition
	}
}

// WithLoop turns the node into a loop over collection.
func WithLoop(over, as string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeLoop
		n.Loop = &models.LoopConfig{Over: over, As: as}
	}
}

// WithCanExecute sets canExecute.
func WithCanExecute(can bool) func(*models.Node) {
	return func(n *models.Node) {
		n.CanExecute = &can
	}
}

// WithCredentialsRequired declares the services and fields the node uses.
func WithCredentialsRequired(required map[string][]string) func(*models.Node) {
	return func(n *models.Node) {
		n.CredentialsRequired = required
	}
}

// Edge builds a flow edge with an optional condition.
func Edge(from, to string, condition ...string) *models.Edge {
	e := &models.Edge{ID: from + "->" + to, From: from, To: to}
	if len(condition) > 0 {
		e.Condition = condition[0]
		e.ID += ":" + condition[0]
	}

	return e
}

// SetVariable builds a set_variable action.
func SetVariable(name string, value any) models.Action {
	return models.Action{
		Type:           models.ActionSetVariable,
		OutputVariable: name,
		Data:           map[string]any{"value": value},
	}
}

// Navigate builds a navigate action.
func Navigate(url string) models.Action {
	return models.Action{Type: models.ActionNavigate, Target: &models.Target{URL: url}}
}

// Click builds a click action; an empty selector leaves it to the fallback.
func Click(selector, instruction string) models.Action {
	action := models.Action{Type: models.ActionClick, Instruction: instruction}
	if selector != "" {
		action.Target = &models.Target{Selector: selector}
	}

	return action
}
