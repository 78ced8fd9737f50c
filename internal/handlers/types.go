package handlers

import (
	"time"

	"smart-event-relay/internal/batch"
	"smart-event-relay/internal/model"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler string            `json:"scheduler"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse is a page of results
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// EventResponse is an event with its scheduled reminders
type EventResponse struct {
	model.Event
	Reminders []model.Reminder `json:"reminders"`
}

// CycleRunResponse reports what an on-demand cycle run did
type CycleRunResponse struct {
	Summaries []batch.Summary `json:"summaries"`
}

// CycleInfo describes a registered cycle
type CycleInfo struct {
	Name    string         `json:"name"`
	LastRun *batch.Summary `json:"last_run,omitempty"`
}
