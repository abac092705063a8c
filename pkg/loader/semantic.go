package loader

import (
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/dukex/aef/pkg/models"
)

// validateSemantics checks the graph rules a schema cannot express.
func validateSemantics(workflow *models.Workflow) []Issue {
	var issues []Issue

	nodes := workflow.Execution.Workflow.Nodes
	byID := make(map[string]*models.Node, len(nodes))

	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			issues = append(issues, issueError("nodes."+n.ID, "duplicate node id"))
			continue
		}

		byID[n.ID] = n
	}

	outgoing := make(map[string]int)

	for _, edge := range workflow.Execution.Workflow.Flow {
		path := "flow." + edge.ID

		if _, ok := byID[edge.From]; !ok {
			issues = append(issues, issueError(path, "unknown source node %q", edge.From))
		}

		if _, ok := byID[edge.To]; !ok {
			issues = append(issues, issueError(path, "unknown target node %q", edge.To))
		}

		outgoing[edge.From]++
	}

	declared := declaredServices(workflow)

	for _, n := range nodes {
		path := "nodes." + n.ID

		if n.ParentID != "" {
			parent, ok := byID[n.ParentID]

			switch {
			case !ok:
				issues = append(issues, issueError(path+".parentId", "unknown parent %q", n.ParentID))
			case !parent.Type.IsContainer():
				issues = append(issues, issueError(path+".parentId", "parent %q is a %s, not a container", n.ParentID, parent.Type))
			}
		}

		for _, childID := range n.Children {
			if _, ok := byID[childID]; !ok {
				issues = append(issues, issueError(path+".children", "unknown child %q", childID))
				continue
			}

			if !n.Type.IsContainer() {
				issues = append(issues, issueError(path+".children", "%s nodes cannot have children", n.Type))
			}
		}

		switch n.Type {
		case models.NodeTypeDecision:
			if n.Condition == "" && outgoing[n.ID] < 2 {
				issues = append(issues, issueError(path, "decision needs a condition or at least two outgoing edges"))
			}
		case models.NodeTypeLoop:
			if n.Loop == nil || n.Loop.Over == "" {
				issues = append(issues, issueError(path+".loop.over", "loop needs a collection to iterate"))
			}
		}

		for i, action := range n.Actions {
			if action.CredentialField == "" {
				continue
			}

			service, _, _ := strings.Cut(action.CredentialField, ".")
			_, onNode := n.CredentialsRequired[service]

			if !onNode && !declared[service] {
				issues = append(issues, issueError(actionPath(path, i)+".credentialField",
					"service %q is not declared in credentialsRequired or credentials", service))
			}
		}
	}

	issues = append(issues, parentCycles(nodes, byID)...)

	if schedule := workflow.Meta.Schedule; schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			issues = append(issues, issueWarning("meta.schedule", "invalid cron expression: %v", err))
		}
	}

	return issues
}

func declaredServices(workflow *models.Workflow) map[string]bool {
	declared := make(map[string]bool, len(workflow.Credentials))
	for _, c := range workflow.Credentials {
		declared[c.Service] = true
	}

	return declared
}

// parentCycles reports nodes whose parent chain leads back to themselves.
func parentCycles(nodes []*models.Node, byID map[string]*models.Node) []Issue {
	var issues []Issue

	for _, n := range nodes {
		seen := map[string]bool{n.ID: true}

		for p := byID[n.ParentID]; p != nil; p = byID[p.ParentID] {
			if seen[p.ID] {
				issues = append(issues, issueError("nodes."+n.ID+".parentId", "parent chain forms a cycle"))
				break
			}

			seen[p.ID] = true
		}
	}

	return issues
}

func actionPath(nodePath string, index int) string {
	return nodePath + ".actions." + strconv.Itoa(index)
}
