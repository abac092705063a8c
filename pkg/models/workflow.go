// Package models defines the workflow document, execution state and memory artifacts
package models

import "time"

// NodeType identifies how the engine treats a workflow node.
type NodeType string

const (
	NodeTypeAtomicTask   NodeType = "atomic_task"
	NodeTypeCompoundTask NodeType = "compound_task"
	NodeTypeDecision     NodeType = "decision"
	NodeTypeLoop         NodeType = "loop"
	NodeTypeEnd          NodeType = "end"
)

// IsContainer reports whether nodes of this type may own children.
func (t NodeType) IsContainer() bool {
	return t == NodeTypeCompoundTask || t == NodeTypeLoop
}

// ActionType is the browser command an action maps to.
type ActionType string

const (
	ActionNavigate          ActionType = "navigate"
	ActionClick             ActionType = "click"
	ActionTypeText          ActionType = "type"
	ActionPress             ActionType = "press"
	ActionWait              ActionType = "wait"
	ActionWaitForNavigation ActionType = "wait_for_navigation"
	ActionScroll            ActionType = "scroll"
	ActionExtract           ActionType = "extract"
	ActionAct               ActionType = "act"
	ActionAssert            ActionType = "assert"
	ActionSetVariable       ActionType = "set_variable"
)

// NeedsSelector reports whether the action targets a page element.
func (t ActionType) NeedsSelector() bool {
	switch t {
	case ActionClick, ActionTypeText, ActionPress, ActionAssert:
		return true
	default:
		return false
	}
}

// Workflow is a complete automation document.
type Workflow struct {
	Meta        Meta                    `json:"meta"                  yaml:"meta"                  validate:"required"`
	Execution   Execution               `json:"execution"             yaml:"execution"             validate:"required"`
	Credentials []CredentialRequirement `json:"credentials,omitempty" yaml:"credentials,omitempty" validate:"dive"`
	CreatedAt   *time.Time              `json:"createdAt,omitempty"   yaml:"-"`
	UpdatedAt   *time.Time              `json:"updatedAt,omitempty"   yaml:"-"`
}

type Meta struct {
	ID       string   `json:"id"                 yaml:"id"                 validate:"required"`
	Title    string   `json:"title"              yaml:"title"              validate:"required,min=3"`
	Version  string   `json:"version,omitempty"  yaml:"version,omitempty"`
	Goal     string   `json:"goal,omitempty"     yaml:"goal,omitempty"`
	Owner    string   `json:"owner,omitempty"    yaml:"owner,omitempty"`
	Schedule string   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Tags     []string `json:"tags,omitempty"     yaml:"tags,omitempty"`
}

type Execution struct {
	Config    ExecutionConfig `json:"config"              yaml:"config"`
	Variables map[string]any  `json:"variables,omitempty" yaml:"variables,omitempty"`
	Workflow  Graph           `json:"workflow"            yaml:"workflow"            validate:"required"`
}

type ExecutionConfig struct {
	PauseOnErrors    bool `json:"pauseOnErrors"              yaml:"pauseOnErrors"`
	MaxRetries       *int `json:"maxRetries,omitempty"       yaml:"maxRetries,omitempty"       validate:"omitempty,min=0,max=10"`
	DefaultTimeoutMs int  `json:"defaultTimeoutMs,omitempty" yaml:"defaultTimeoutMs,omitempty" validate:"min=0"`
	RetryDelayMs     int  `json:"retryDelayMs,omitempty"     yaml:"retryDelayMs,omitempty"     validate:"min=0"`
}

// Graph holds the node tree and the flow between nodes. Edges is accepted as
// an alias of Flow and merged into it by the loader.
type Graph struct {
	Nodes []*Node `json:"nodes"           yaml:"nodes"           validate:"required,min=1,dive"`
	Flow  []*Edge `json:"flow"            yaml:"flow"            validate:"dive"`
	Edges []*Edge `json:"edges,omitempty" yaml:"edges,omitempty" validate:"dive"`
}

type Node struct {
	ID                  string              `json:"id"                            yaml:"id"                            validate:"required"`
	Type                NodeType            `json:"type"                          yaml:"type"                          validate:"required,oneof=atomic_task compound_task decision loop end"`
	Label               string              `json:"label"                         yaml:"label"                         validate:"required"`
	Intent              string              `json:"intent,omitempty"              yaml:"intent,omitempty"`
	Context             string              `json:"context,omitempty"             yaml:"context,omitempty"`
	ParentID            string              `json:"parentId,omitempty"            yaml:"parentId,omitempty"`
	Children            []string            `json:"children,omitempty"            yaml:"children,omitempty"`
	Actions             []Action            `json:"actions,omitempty"             yaml:"actions,omitempty"             validate:"dive"`
	Condition           string              `json:"condition,omitempty"           yaml:"condition,omitempty"`
	Loop                *LoopConfig         `json:"loop,omitempty"                yaml:"loop,omitempty"`
	CredentialsRequired map[string][]string `json:"credentialsRequired,omitempty" yaml:"credentialsRequired,omitempty"`
	CanExecute          *bool               `json:"canExecute,omitempty"          yaml:"canExecute,omitempty"`
	TimeoutMs           int                 `json:"timeoutMs,omitempty"           yaml:"timeoutMs,omitempty"           validate:"min=0"`
}

// Executable is false only for nodes explicitly marked canExecute: false.
func (n *Node) Executable() bool {
	return n.CanExecute == nil || *n.CanExecute
}

type Action struct {
	Type            ActionType     `json:"type"                      yaml:"type"                      validate:"required,oneof=navigate click type press wait wait_for_navigation scroll extract act assert set_variable"`
	Instruction     string         `json:"instruction,omitempty"     yaml:"instruction,omitempty"`
	Target          *Target        `json:"target,omitempty"          yaml:"target,omitempty"`
	Data            map[string]any `json:"data,omitempty"            yaml:"data,omitempty"`
	TimeoutMs       int            `json:"timeoutMs,omitempty"       yaml:"timeoutMs,omitempty"       validate:"min=0"`
	CredentialField string         `json:"credentialField,omitempty" yaml:"credentialField,omitempty"`
	OutputVariable  string         `json:"outputVariable,omitempty"  yaml:"outputVariable,omitempty"`
	Optional        bool           `json:"optional,omitempty"        yaml:"optional,omitempty"`
}

type Target struct {
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	URL      string `json:"url,omitempty"      yaml:"url,omitempty"`
}

type LoopConfig struct {
	Over          string `json:"over"                    yaml:"over"                    validate:"required"`
	As            string `json:"as,omitempty"            yaml:"as,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty" validate:"min=0"`
}

type Edge struct {
	ID        string `json:"id,omitempty"        yaml:"id,omitempty"`
	From      string `json:"from"                yaml:"from"                validate:"required"`
	To        string `json:"to"                  yaml:"to"                  validate:"required"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Label     string `json:"label,omitempty"     yaml:"label,omitempty"`
}

// CredentialRequirement declares a service whose secrets the workflow needs.
type CredentialRequirement struct {
	Service  string   `json:"service"  yaml:"service"  validate:"required"`
	Fields   []string `json:"fields"   yaml:"fields"`
	Required bool     `json:"required" yaml:"required"`
}

func (w *Workflow) ID() string {
	return w.Meta.ID
}

// Node returns the node with the given id or nil.
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Execution.Workflow.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// TopLevel returns nodes without a parent, in document order.
func (w *Workflow) TopLevel() []*Node {
	var out []*Node

	for _, n := range w.Execution.Workflow.Nodes {
		if n.ParentID == "" {
			out = append(out, n)
		}
	}

	return out
}

// ChildrenOf returns the child nodes of id, ordered by the parent's children
// list and then by document order for children only known through parentId.
func (w *Workflow) ChildrenOf(id string) []*Node {
	parent := w.Node(id)
	seen := map[string]bool{}

	var out []*Node

	if parent != nil {
		for _, cid := range parent.Children {
			if c := w.Node(cid); c != nil && !seen[cid] {
				seen[cid] = true
				out = append(out, c)
			}
		}
	}

	for _, n := range w.Execution.Workflow.Nodes {
		if n.ParentID == id && !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n)
		}
	}

	return out
}

// Outgoing returns the flow edges leaving id.
func (w *Workflow) Outgoing(id string) []*Edge {
	var out []*Edge

	for _, e := range w.Execution.Workflow.Flow {
		if e.From == id {
			out = append(out, e)
		}
	}

	return out
}

// Incoming returns the flow edges entering id.
func (w *Workflow) Incoming(id string) []*Edge {
	var out []*Edge

	for _, e := range w.Execution.Workflow.Flow {
		if e.To == id {
			out = append(out, e)
		}
	}

	return out
}

// RetryLimit returns the configured hybrid retry count or def when unset.
func (c ExecutionConfig) RetryLimit(def int) int {
	if c.MaxRetries == nil {
		return def
	}

	return *c.MaxRetries
}
