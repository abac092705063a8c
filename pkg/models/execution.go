package models

import "time"

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// ExecutionPath tags which strategy produced an action result.
type ExecutionPath string

const (
	PathPrimary  ExecutionPath = "primary"
	PathFallback ExecutionPath = "fallback"
	PathNone     ExecutionPath = "none"
)

// ExecutionState is the persisted record of one workflow run.
type ExecutionState struct {
	ID            string                `json:"id"`
	WorkflowID    string                `json:"workflowId"`
	SessionID     string                `json:"sessionId,omitempty"`
	Status        ExecutionStatus       `json:"status"`
	CurrentNodeID string                `json:"currentNodeId,omitempty"`
	PauseOnErrors bool                  `json:"pauseOnErrors"`
	Variables     map[string]any        `json:"variables"`
	Steps         map[string]*StepState `json:"steps"`
	Error         string                `json:"error,omitempty"`
	StartedAt     time.Time             `json:"startedAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
}

// Step returns the step record for nodeID, creating it when missing.
func (s *ExecutionState) Step(nodeID string) *StepState {
	if s.Steps == nil {
		s.Steps = map[string]*StepState{}
	}

	step, ok := s.Steps[nodeID]
	if !ok {
		step = &StepState{NodeID: nodeID, Status: StepStatusPending, Path: PathNone}
		s.Steps[nodeID] = step
	}

	return step
}

// Success mirrors the boolean result contract exposed over HTTP.
func (s *ExecutionState) Success() bool {
	return s.Status == ExecutionStatusCompleted
}

type StepState struct {
	NodeID      string         `json:"nodeId"`
	Status      StepStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	Path        ExecutionPath  `json:"path"`
	Error       string         `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	DurationMs  int64          `json:"durationMs"`
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is a single persisted log line of an execution.
type ExecutionLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId,omitempty"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ActionResult is the outcome of one action after the hybrid strategy ran.
type ActionResult struct {
	Index    int           `json:"index"`
	Type     ActionType    `json:"type"`
	Success  bool          `json:"success"`
	Path     ExecutionPath `json:"path"`
	Attempts int           `json:"attempts"`
	Data     any           `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// NodeResult is returned for each node run through execute-nodes.
type NodeResult struct {
	NodeID    string         `json:"nodeId"`
	Success   bool           `json:"success"`
	Status    StepStatus     `json:"status"`
	Path      ExecutionPath  `json:"path"`
	Actions   []ActionResult `json:"actions,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
