package loader

import (
	"fmt"
	"slices"

	"github.com/gosimple/slug"

	"github.com/dukex/aef/pkg/models"
)

// deriveID fills meta.id from the title when the document has none.
func deriveID(workflow *models.Workflow) {
	if workflow.Meta.ID == "" && workflow.Meta.Title != "" {
		workflow.Meta.ID = slug.Make(workflow.Meta.Title)
	}
}

// mergeEdges folds the edges alias into flow, dropping duplicates.
func mergeEdges(workflow *models.Workflow) {
	graph := &workflow.Execution.Workflow
	seen := make(map[string]bool)
	merged := make([]*models.Edge, 0, len(graph.Flow)+len(graph.Edges))

	for _, edge := range append(graph.Flow, graph.Edges...) {
		if edge == nil {
			continue
		}

		key := edge.From + "\x00" + edge.To + "\x00" + edge.Condition
		if seen[key] {
			continue
		}

		seen[key] = true

		if edge.ID == "" {
			edge.ID = fmt.Sprintf("%s->%s", edge.From, edge.To)
			if edge.Condition != "" {
				edge.ID += ":" + edge.Condition
			}
		}

		merged = append(merged, edge)
	}

	graph.Flow = merged
	graph.Edges = nil
}

// reconcileTree makes parentId and children agree. parentId wins on conflict.
func reconcileTree(workflow *models.Workflow) []Issue {
	var issues []Issue

	nodes := workflow.Execution.Workflow.Nodes
	byID := make(map[string]*models.Node, len(nodes))

	for _, n := range nodes {
		byID[n.ID] = n
	}

	for _, parent := range nodes {
		kept := parent.Children[:0]

		for _, childID := range parent.Children {
			child, ok := byID[childID]
			if !ok {
				continue
			}

			switch child.ParentID {
			case "":
				child.ParentID = parent.ID
			case parent.ID:
			default:
				issues = append(issues, issueWarning("nodes."+parent.ID+".children",
					"child %q declares parent %q, keeping parentId", childID, child.ParentID))

				continue
			}

			kept = append(kept, childID)
		}

		parent.Children = kept
	}

	for _, n := range nodes {
		if n.ParentID == "" {
			continue
		}

		if parent, ok := byID[n.ParentID]; ok && !slices.Contains(parent.Children, n.ID) {
			parent.Children = append(parent.Children, n.ID)
		}
	}

	return issues
}
