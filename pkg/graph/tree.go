// Package graph turns workflow documents into node/edge graphs for visual
// editors. It reconciles the two parent encodings, sizes containers and
// computes a layered layout.
package graph

import (
	"fmt"

	"github.com/dukex/aef/pkg/models"
)

type Warning struct {
	Code    string `json:"code"`
	NodeID  string `json:"nodeId,omitempty"`
	EdgeID  string `json:"edgeId,omitempty"`
	Message string `json:"message"`
}

const (
	WarnMissingParent   = "missing_parent"
	WarnParentCycle     = "parent_cycle"
	WarnNotContainer    = "parent_not_container"
	WarnParentConflict  = "parent_conflict"
	WarnDanglingEdge    = "dangling_edge"
	WarnAncestorEdge    = "ancestor_edge"
	WarnDuplicateNodeID = "duplicate_node"
)

type TreeNode struct {
	Node     *models.Node
	Parent   *TreeNode
	Children []*TreeNode
}

func (t *TreeNode) ID() string {
	return t.Node.ID
}

func (t *TreeNode) IsContainer() bool {
	return len(t.Children) > 0
}

// Depth is 0 for top-level nodes.
func (t *TreeNode) Depth() int {
	d := 0
	for p := t.Parent; p != nil; p = p.Parent {
		d++
	}

	return d
}

// Tree is the reconciled containment hierarchy of a workflow.
type Tree struct {
	Roots []*TreeNode
	Edges []*models.Edge

	byID  map[string]*TreeNode
	order []*TreeNode
}

func (t *Tree) Get(id string) *TreeNode {
	return t.byID[id]
}

// Nodes returns every node, parents before their children.
func (t *Tree) Nodes() []*TreeNode {
	return t.order
}

// IsAncestor reports whether a is a strict ancestor of b.
func (t *Tree) IsAncestor(a, b string) bool {
	node := t.byID[b]
	if node == nil {
		return false
	}

	for p := node.Parent; p != nil; p = p.Parent {
		if p.ID() == a {
			return true
		}
	}

	return false
}

// Normalize builds the containment tree. parentId wins over a conflicting
// children list; nodes whose parent is missing, not a container, or part of a
// parent cycle are promoted to top level.
func Normalize(workflow *models.Workflow) (*Tree, []Warning) {
	var warnings []Warning

	nodes := workflow.Execution.Workflow.Nodes
	tree := &Tree{byID: make(map[string]*TreeNode, len(nodes))}

	var ordered []*TreeNode

	for _, n := range nodes {
		if _, dup := tree.byID[n.ID]; dup {
			warnings = append(warnings, Warning{Code: WarnDuplicateNodeID, NodeID: n.ID, Message: "duplicate node id ignored"})
			continue
		}

		tn := &TreeNode{Node: n}
		tree.byID[n.ID] = tn
		ordered = append(ordered, tn)
	}

	parents := make(map[string]string, len(ordered))

	for _, tn := range ordered {
		if tn.Node.ParentID != "" {
			parents[tn.ID()] = tn.Node.ParentID
		}
	}

	for _, tn := range ordered {
		for _, childID := range tn.Node.Children {
			existing, ok := parents[childID]

			switch {
			case tree.byID[childID] == nil:
			case !ok:
				parents[childID] = tn.ID()
			case existing != tn.ID():
				warnings = append(warnings, Warning{
					Code:    WarnParentConflict,
					NodeID:  childID,
					Message: fmt.Sprintf("listed as child of %q but parentId is %q", tn.ID(), existing),
				})
			}
		}
	}

	for _, tn := range ordered {
		parentID, ok := parents[tn.ID()]
		if !ok {
			continue
		}

		parent := tree.byID[parentID]

		switch {
		case parent == nil:
			warnings = append(warnings, Warning{Code: WarnMissingParent, NodeID: tn.ID(), Message: fmt.Sprintf("parent %q does not exist", parentID)})
			delete(parents, tn.ID())
		case !parent.Node.Type.IsContainer():
			warnings = append(warnings, Warning{Code: WarnNotContainer, NodeID: tn.ID(), Message: fmt.Sprintf("parent %q is a %s", parentID, parent.Node.Type)})
			delete(parents, tn.ID())
		}
	}

	for _, tn := range ordered {
		if createsCycle(tn.ID(), parents) {
			warnings = append(warnings, Warning{Code: WarnParentCycle, NodeID: tn.ID(), Message: "parent chain forms a cycle"})
			delete(parents, tn.ID())
		}
	}

	for _, tn := range ordered {
		if parentID, ok := parents[tn.ID()]; ok {
			parent := tree.byID[parentID]
			tn.Parent = parent
			parent.Children = append(parent.Children, tn)

			continue
		}

		tree.Roots = append(tree.Roots, tn)
	}

	var walk func(nodes []*TreeNode)
	walk = func(nodes []*TreeNode) {
		for _, n := range nodes {
			tree.order = append(tree.order, n)
			walk(n.Children)
		}
	}
	walk(tree.Roots)

	for _, edge := range append(workflow.Execution.Workflow.Flow, workflow.Execution.Workflow.Edges...) {
		if edge == nil {
			continue
		}

		if tree.byID[edge.From] == nil || tree.byID[edge.To] == nil {
			warnings = append(warnings, Warning{
				Code:    WarnDanglingEdge,
				EdgeID:  edgeID(edge),
				Message: fmt.Sprintf("edge %s -> %s references an unknown node", edge.From, edge.To),
			})

			continue
		}

		if !containsEdge(tree.Edges, edge) {
			tree.Edges = append(tree.Edges, edge)
		}
	}

	return tree, warnings
}

// createsCycle reports whether following parents from id leads back to id.
func createsCycle(id string, parents map[string]string) bool {
	seen := map[string]bool{id: true}

	for p, ok := parents[id]; ok; p, ok = parents[p] {
		if p == id {
			return true
		}

		if seen[p] {
			return false
		}

		seen[p] = true
	}

	return false
}

func containsEdge(edges []*models.Edge, e *models.Edge) bool {
	for _, existing := range edges {
		if existing.From == e.From && existing.To == e.To && existing.Condition == e.Condition {
			return true
		}
	}

	return false
}

func edgeID(e *models.Edge) string {
	if e.ID != "" {
		return e.ID
	}

	return e.From + "->" + e.To
}
