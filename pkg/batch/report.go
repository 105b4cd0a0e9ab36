package batch

import "time"

// Result summarizes a single batch run.
type Result struct {
	Summary   Summary       `json:"summary"`
	Converted []TaskRecord  `json:"converted"`
	Skipped   []TaskRecord  `json:"skipped"`
	Errors    []ErrorRecord `json:"errors"`
}

// Summary contains the aggregated statistics for a run.
type Summary struct {
	OutputRoot      string        `json:"outputRoot"`
	TotalDiscovered int           `json:"totalDiscovered"`
	Stats           StatsSnapshot `json:"stats"`
	WorkerCount     int           `json:"workerCount"`
	DurationSeconds float64       `json:"durationSeconds"`
	Cancelled       bool          `json:"cancelled"`
	Timestamp       time.Time     `json:"timestamp"`
	SchemaVersion   string        `json:"schemaVersion"`
	AppVersion      string        `json:"appVersion,omitempty"`
	ConfigFilePath  string        `json:"configFilePath,omitempty"`
}

// TaskRecord details a single task that reached a terminal status.
type TaskRecord struct {
	ID            int64  `json:"id"`
	Path          string `json:"path"`
	OutputPath    string `json:"outputPath,omitempty"`
	Status        Status `json:"status"`
	RenameCounter int    `json:"renameCounter,omitempty"`
	DurationMs    int64  `json:"durationMs"`
}

// ErrorRecord details a failed task, including the fallback trail for
// diagnostics.
type ErrorRecord struct {
	ID    int64    `json:"id"`
	Path  string   `json:"path"`
	Error string   `json:"error"`
	Trail []string `json:"trail,omitempty"`
}
