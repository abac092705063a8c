package models

import "time"

// MemoryArtifact captures what a node saw, did and produced during one execution.
type MemoryArtifact struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId"`
	Inputs      map[string]any `json:"inputs"`
	Processing  map[string]any `json:"processing"`
	Outputs     map[string]any `json:"outputs"`
	CreatedAt   time.Time      `json:"createdAt"`
}
