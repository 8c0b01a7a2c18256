package queue

import (
	"encoding/json"
	"fmt"
)

type TaskType string

const (
	TaskTypeProcessIssue TaskType = "process_issue"
	TaskTypeMaintenance  TaskType = "maintenance"
)

// Queue names. Each gets its own key space under the configured prefix.
const (
	IssueQueue       = "issues"
	MaintenanceQueue = "maintenance"
)

// Payload is the JSON body stored with every job.
type Payload struct {
	IssueID   *int64 `json:"issueId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// Task is what producers hand to Enqueue.
type Task struct {
	TaskType TaskType
	Payload  Payload
	// Priority 1 is highest, 4 lowest. Zero means normal (3).
	Priority int
}

func IssueJobID(issueID int64) string {
	return fmt.Sprintf("issue:%d", issueID)
}

func MaintenanceJobID(kind string) string {
	return "maintenance:" + kind
}

// NewIssueTask builds the job for processing one issue.
func NewIssueTask(issueID int64, priority int, requestID string) Task {
	return Task{
		TaskType: TaskTypeProcessIssue,
		Payload:  Payload{IssueID: &issueID, RequestID: requestID},
		Priority: priority,
	}
}

func NewMaintenanceTask(kind string) Task {
	return Task{
		TaskType: TaskTypeMaintenance,
		Payload:  Payload{Kind: kind},
		Priority: 3,
	}
}

// JobID derives the deterministic id that deduplicates t.
func (t Task) JobID() (string, error) {
	switch t.TaskType {
	case TaskTypeProcessIssue:
		if t.Payload.IssueID == nil {
			return "", fmt.Errorf("process_issue task without issue id")
		}
		return IssueJobID(*t.Payload.IssueID), nil
	case TaskTypeMaintenance:
		if t.Payload.Kind == "" {
			return "", fmt.Errorf("maintenance task without kind")
		}
		return MaintenanceJobID(t.Payload.Kind), nil
	default:
		return "", fmt.Errorf("unknown task_type %q", t.TaskType)
	}
}

func (p Payload) encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return string(b), nil
}
