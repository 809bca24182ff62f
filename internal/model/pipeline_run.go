package model

import "time"

const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusAborted = "aborted"
)

// PipelineRun is the persisted record of one categorization run.
type PipelineRun struct {
	ID              int64      `json:"id"`
	Status          string     `json:"status"`
	Error           *string    `json:"error,omitempty"`
	Scanned         int        `json:"scanned"`
	Skipped         int        `json:"skipped"`
	Processed       int        `json:"processed"`
	Failed          int        `json:"failed"`
	LabelsInduced   int        `json:"labels_induced"`
	LabelsPersisted int        `json:"labels_persisted"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
