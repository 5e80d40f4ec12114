// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Category distinguishes the classes of outbound progress events.
type Category string

const (
	CategoryStatus        Category = "status"
	CategoryLogs          Category = "logs"
	CategoryReport        Category = "report"
	CategoryError         Category = "error"
	CategoryHumanFeedback Category = "human_feedback"
	CategoryTaskID        Category = "task_id"
)

// ProgressEvent describes pipeline progress for one task. It is immutable once
// created.
type ProgressEvent struct {
	TaskID    string    `json:"task_id"`
	Category  Category  `json:"type"`
	Stage     string    `json:"stage"`
	Payload   any       `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps a new event with the current time.
func NewEvent(taskID string, cat Category, stage string, payload any) ProgressEvent {
	return ProgressEvent{
		TaskID:    taskID,
		Category:  cat,
		Stage:     stage,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
