package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/aef/pkg/browser"
	"github.com/dukex/aef/pkg/models"
)

const selectorSystemPrompt = `You locate elements on web pages for a browser automation agent.
You receive the goal of the current step, the action to perform and a list of
interactive elements. Answer with a JSON object {"selector": "<css selector>", "reason": "<short>"}.
The selector must be copied from the element list. Answer {"selector": ""} when no element fits.`

const extractSystemPrompt = `You extract structured data from web pages for a browser automation agent.
Answer with a single JSON object containing only the requested data. Do not invent values
that are not present in the page text.`

func selectorPrompt(node *models.Node, action models.Action, snapshot *browser.Snapshot, maxElements int) string {
	var b strings.Builder

	writeStepContext(&b, node, action)
	fmt.Fprintf(&b, "Page: %s (%s)\n\nElements:\n", snapshot.Title, snapshot.URL)

	for i, el := range snapshot.Elements {
		if maxElements > 0 && i >= maxElements {
			fmt.Fprintf(&b, "... %d more elements omitted\n", len(snapshot.Elements)-maxElements)
			break
		}

		fmt.Fprintf(&b, "[%d] selector=%q tag=%s role=%s name=%q text=%q\n",
			i, el.Selector, el.Tag, el.Role, el.Name, truncate(el.Text, 80))
	}

	return b.String()
}

func extractPrompt(node *models.Node, action models.Action, snapshot *browser.Snapshot, maxChars int) string {
	var b strings.Builder

	writeStepContext(&b, node, action)

	if schema, ok := action.Data["schema"]; ok {
		encoded, _ := json.Marshal(schema)
		fmt.Fprintf(&b, "Output schema: %s\n", encoded)
	}

	fmt.Fprintf(&b, "Page: %s (%s)\n\nPage text:\n%s\n", snapshot.Title, snapshot.URL, truncate(snapshot.Text, maxChars))

	return b.String()
}

func writeStepContext(b *strings.Builder, node *models.Node, action models.Action) {
	if node != nil {
		fmt.Fprintf(b, "Step: %s\n", node.Label)

		if node.Intent != "" {
			fmt.Fprintf(b, "Intent: %s\n", node.Intent)
		}

		if node.Context != "" {
			fmt.Fprintf(b, "Context: %s\n", node.Context)
		}
	}

	fmt.Fprintf(b, "Action: %s\n", action.Type)

	if action.Instruction != "" {
		fmt.Fprintf(b, "Instruction: %s\n", action.Instruction)
	}
}

// actInstruction is the natural-language command sent for act actions.
func actInstruction(node *models.Node, action models.Action) string {
	if action.Instruction != "" {
		return action.Instruction
	}

	if node != nil && node.Intent != "" {
		return node.Intent
	}

	if node != nil {
		return node.Label
	}

	return string(action.Type)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}

	return s[:n] + "…"
}

// stripFences removes a surrounding markdown code fence from a model answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}

	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
