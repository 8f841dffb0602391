package worker

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

// Job types
const (
	// Event jobs
	JobEventProcess JobType = "event.process"

	// Digest jobs
	JobDigestSend = "digest.send"

	// Maintenance jobs
	JobWatchRenew     = "maintenance.watch_renew"
	JobPatternAnalyze = "maintenance.pattern_analyze"
	JobDigestSchedule = "maintenance.digest_schedule"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// IsPriority checks if message should go to priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// Event payloads
type EventProcessPayload struct {
	AccountID  string `json:"account_id"`
	MessageID  string `json:"message_id"`
	ThreadID   string `json:"thread_id,omitempty"`
	FolderHint string `json:"folder_hint,omitempty"`
}

// Digest payloads
type DigestSendPayload struct {
	AccountID string `json:"account_id"`
}

// Maintenance payloads
type WatchRenewPayload struct {
	AccountID string `json:"account_id,omitempty"`
	// RenewAll renews every subscription expiring within the horizon.
	RenewAll bool `json:"renew_all"`
}

type PatternAnalyzePayload struct {
	AccountID string `json:"account_id"`
	Sender    string `json:"sender"`
}
