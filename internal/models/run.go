package models

import "time"

// RegenerationOptions is the immutable configuration of one regeneration run.
type RegenerationOptions struct {
	Concurrency  int
	Backup       bool
	Validate     bool
	ForceRefresh bool
	TestMode     bool

	// Deadline stops new per-col work from starting once it elapses.
	// Zero means no deadline.
	Deadline time.Duration
}

// ErrorKind is the failure class recorded for a col.
type ErrorKind string

const (
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindProvider    ErrorKind = "provider"
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindPersistence ErrorKind = "persistence"
	ErrorKindUnexpected  ErrorKind = "unexpected"
)

// ErrorDetail describes why a col could not be regenerated.
type ErrorDetail struct {
	ColID   string    `json:"colId"`
	Name    string    `json:"name"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// RegenerationMetrics is the outcome of a run.
type RegenerationMetrics struct {
	RunID             string        `json:"runId"`
	ColsTotal         int           `json:"colsTotal"`
	ColsProcessed     int           `json:"colsProcessed"`
	ColsErrored       int           `json:"colsErrored"`
	ColsSkipped       int           `json:"colsSkipped"`
	CacheHits         int           `json:"cacheHits"`
	APICalls          int           `json:"apiCalls"`
	TotalTime         time.Duration `json:"totalTime"`
	AverageTimePerCol time.Duration `json:"averageTimePerCol"`
	BackupName        string        `json:"backupName,omitempty"`
	Errors            []ErrorDetail `json:"errors"`
}
