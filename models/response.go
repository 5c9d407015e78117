package models

import "time"

// RunSummary is a point-in-time view of a harvest run. It is served by the
// status API, rendered by the CLI and sent with the completion webhook.
type RunSummary struct {
	// Requested is the number of identifiers loaded from the input file.
	Requested int `json:"requested"`

	// Processed counts identifiers that reached Committed or Skipped.
	Processed int `json:"processed"`

	// Committed counts records persisted to both artifacts.
	Committed int `json:"committed"`

	// Skipped counts identifiers that produced no record.
	Skipped int `json:"skipped"`

	// Restarts and Rotations count session lifecycle events.
	Restarts  int `json:"restarts"`
	Rotations int `json:"rotations"`

	// Current is the identifier being worked on, empty between items.
	Current string `json:"current,omitempty"`

	// Halted is set when the loop stopped before the end of the input.
	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`

	// LastError is the most recent identifier failure.
	LastError *ErrorDetail `json:"last_error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CSVPath  string `json:"csv_path"`
	JSONPath string `json:"json_path"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// ProgressResponse is the response for GET /api/v1/progress.
type ProgressResponse struct {
	Success bool         `json:"success"`
	Run     *RunSummary  `json:"run,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}
