package graph

import (
	"github.com/dukex/aef/pkg/models"
)

type Options struct {
	// Flatten lifts every node to top level; container membership is kept
	// in FlowNodeData.Group.
	Flatten   bool
	Direction Direction
}

type FlowNodeData struct {
	Label       string          `json:"label"`
	NodeType    models.NodeType `json:"nodeType"`
	Intent      string          `json:"intent,omitempty"`
	ActionCount int             `json:"actionCount"`
	Executable  bool            `json:"executable"`
	Group       string          `json:"group,omitempty"`
}

type FlowNode struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Data     FlowNodeData `json:"data"`
	Position Position     `json:"position"`
	ParentID string       `json:"parentId,omitempty"`
	Extent   string       `json:"extent,omitempty"`
	Style    Size         `json:"style"`
}

type FlowEdge struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Label     string `json:"label,omitempty"`
	Condition string `json:"condition,omitempty"`
	Back      bool   `json:"back,omitempty"`
}

// FlowGraph is the ReactFlow representation of a workflow. Parents always
// precede their children in Nodes.
type FlowGraph struct {
	Nodes    []FlowNode `json:"nodes"`
	Edges    []FlowEdge `json:"edges"`
	Warnings []Warning  `json:"warnings"`
}

const ContainerType = "container"

func ToFlowGraph(workflow *models.Workflow, opts Options) *FlowGraph {
	opts = opts.withDefaults()

	tree, warnings := Normalize(workflow)
	l := computeLayout(tree, opts.Flatten, opts.Direction)

	graph := &FlowGraph{
		Nodes:    make([]FlowNode, 0, len(tree.Nodes())),
		Edges:    make([]FlowEdge, 0, len(tree.Edges)),
		Warnings: warnings,
	}

	if graph.Warnings == nil {
		graph.Warnings = []Warning{}
	}

	for _, tn := range tree.Nodes() {
		node := FlowNode{
			ID:       tn.ID(),
			Type:     string(tn.Node.Type),
			Position: l.positions[tn.ID()],
			Style:    l.sizes[tn.ID()],
			Data: FlowNodeData{
				Label:       tn.Node.Label,
				NodeType:    tn.Node.Type,
				Intent:      tn.Node.Intent,
				ActionCount: len(tn.Node.Actions),
				Executable:  tn.Node.Executable(),
			},
		}

		switch {
		case opts.Flatten:
			if tn.Parent != nil {
				node.Data.Group = tn.Parent.ID()
			}
		case tn.Parent != nil:
			node.ParentID = tn.Parent.ID()
			node.Extent = "parent"
		}

		if !opts.Flatten && tn.IsContainer() {
			node.Type = ContainerType
		}

		graph.Nodes = append(graph.Nodes, node)
	}

	for _, e := range tree.Edges {
		label := e.Label
		if label == "" {
			label = e.Condition
		}

		graph.Edges = append(graph.Edges, FlowEdge{
			ID:        edgeID(e),
			Source:    e.From,
			Target:    e.To,
			Label:     label,
			Condition: e.Condition,
			Back:      l.back[e],
		})
	}

	return graph
}

func (o Options) withDefaults() Options {
	if o.Direction != DirectionDown {
		o.Direction = DirectionRight
	}

	return o
}
