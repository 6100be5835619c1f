package domain

import "time"

// ExecutionStatus is the lifecycle status of a pipeline run.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSucceeded ExecutionStatus = "SUCCEEDED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusPartial   ExecutionStatus = "PARTIAL"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusPartial
}

// Phase is the pipeline state a run is in.
type Phase string

const (
	PhaseInit        Phase = "INIT"
	PhaseDownloading Phase = "DOWNLOADING"
	PhaseParsing     Phase = "PARSING"
	PhaseMapping     Phase = "MAPPING"
	PhaseLoading     Phase = "LOADING"
	PhaseDone        Phase = "DONE"
	PhaseFailed      Phase = "FAILED"
)

var phaseOrder = map[Phase]int{
	PhaseInit:        0,
	PhaseDownloading: 1,
	PhaseParsing:     2,
	PhaseMapping:     3,
	PhaseLoading:     4,
	PhaseDone:        5,
}

// CanAdvance reports whether moving from p to next is a legal transition.
// FAILED is reachable from any non-terminal phase; otherwise phases only move forward.
func (p Phase) CanAdvance(next Phase) bool {
	if p == PhaseDone || p == PhaseFailed {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	return phaseOrder[next] > phaseOrder[p]
}

// TriggerKind identifies who started a run.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// ExecutionRecord is the audit row for one pipeline run.
type ExecutionRecord struct {
	ExecutionID      string
	Trigger          TriggerKind
	Status           ExecutionStatus
	Phase            Phase
	BatchID          string
	FileName         string
	StartedAt        time.Time
	CompletedAt      *time.Time
	RecordsProcessed int
	RecordsImported  int
	RecordsFailed    int
	RecordsSkipped   int
	ErrorMessage     string
}

// ExecutionLog is one step entry in a run's audit trail.
type ExecutionLog struct {
	ExecutionID string
	Step        string
	Status      string
	Message     string
	CreatedAt   time.Time
}

// Step log statuses.
const (
	LogStarted   = "started"
	LogCompleted = "completed"
	LogError     = "error"
)
