package graph

import (
	"fmt"
	"strconv"

	"github.com/dukex/aef/pkg/models"
)

type ELKLabel struct {
	Text string `json:"text"`
}

type ELKEdge struct {
	ID      string   `json:"id"`
	Sources []string `json:"sources"`
	Targets []string `json:"targets"`
}

// ELKNode is a node of the ELK JSON format. The root node has id "root".
type ELKNode struct {
	ID            string            `json:"id"`
	Width         float64           `json:"width,omitempty"`
	Height        float64           `json:"height,omitempty"`
	Labels        []ELKLabel        `json:"labels,omitempty"`
	Children      []*ELKNode        `json:"children,omitempty"`
	Edges         []ELKEdge         `json:"edges,omitempty"`
	LayoutOptions map[string]string `json:"layoutOptions,omitempty"`
}

type ELKGraph struct {
	Graph    *ELKNode  `json:"graph"`
	Warnings []Warning `json:"warnings"`
}

// ToELKGraph builds a nested graph for client-side ELK layout. Edges live in
// the lowest common container of their endpoints; edges between a node and
// its own ancestor cannot be laid out by ELK and are dropped with a warning.
func ToELKGraph(workflow *models.Workflow, opts Options) *ELKGraph {
	opts = opts.withDefaults()

	tree, warnings := Normalize(workflow)

	root := &ELKNode{
		ID: "root",
		LayoutOptions: map[string]string{
			"elk.algorithm":                             "layered",
			"elk.direction":                             string(opts.Direction),
			"elk.hierarchyHandling":                     "INCLUDE_CHILDREN",
			"elk.spacing.nodeNode":                      strconv.Itoa(NodeSpacing),
			"elk.layered.spacing.nodeNodeBetweenLayers": strconv.Itoa(LayerSpacing),
		},
	}

	elkNodes := make(map[string]*ELKNode, len(tree.Nodes()))

	for _, tn := range tree.Nodes() {
		node := &ELKNode{
			ID:     tn.ID(),
			Width:  LeafWidth,
			Height: LeafHeight,
			Labels: []ELKLabel{{Text: tn.Node.Label}},
		}

		if !opts.Flatten && tn.IsContainer() {
			node.Width, node.Height = 0, 0
			node.LayoutOptions = map[string]string{
				"elk.padding": fmt.Sprintf("[top=%d,left=%d,bottom=%d,right=%d]",
					ContainerHeader+ContainerPadding, ContainerPadding, ContainerPadding, ContainerPadding),
			}
		}

		elkNodes[tn.ID()] = node

		parent := root
		if !opts.Flatten && tn.Parent != nil {
			parent = elkNodes[tn.Parent.ID()]
		}

		parent.Children = append(parent.Children, node)
	}

	for _, e := range tree.Edges {
		if !opts.Flatten && hasProblematicCrossEdge(tree, e) {
			warnings = append(warnings, Warning{
				Code:    WarnAncestorEdge,
				EdgeID:  edgeID(e),
				Message: fmt.Sprintf("edge %s -> %s connects a node with its own container", e.From, e.To),
			})

			continue
		}

		owner := root
		if !opts.Flatten {
			if lca := commonContainer(tree, e.From, e.To); lca != "" {
				owner = elkNodes[lca]
			}
		}

		owner.Edges = append(owner.Edges, ELKEdge{ID: edgeID(e), Sources: []string{e.From}, Targets: []string{e.To}})
	}

	if warnings == nil {
		warnings = []Warning{}
	}

	return &ELKGraph{Graph: root, Warnings: warnings}
}

// hasProblematicCrossEdge reports whether e links a node with one of its
// ancestors or descendants.
func hasProblematicCrossEdge(tree *Tree, e *models.Edge) bool {
	return tree.IsAncestor(e.From, e.To) || tree.IsAncestor(e.To, e.From)
}

// commonContainer returns the id of the deepest container holding both
// nodes, or "" when that is the root.
func commonContainer(tree *Tree, a, b string) string {
	ancestors := make(map[string]bool)

	for n := tree.Get(a); n != nil; n = n.Parent {
		if n.Parent != nil {
			ancestors[n.Parent.ID()] = true
		}
	}

	for n := tree.Get(b); n != nil; n = n.Parent {
		if n.Parent != nil && ancestors[n.Parent.ID()] {
			return n.Parent.ID()
		}
	}

	return ""
}
