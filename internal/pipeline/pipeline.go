// Package pipeline runs one categorization pass: load the taxonomy, pick the
// records in the recency window, induce and assign labels, write everything back.
package pipeline

import (
	"context"
	"time"

	"basegraph.app/categorizer/internal/model"
)

type Chunker interface {
	Chunk(messages []model.Message) ([]string, error)
}

type Inducer interface {
	Induce(ctx context.Context, chunk string, taxonomy model.Taxonomy) (model.Taxonomy, []string, error)
}

type Assigner interface {
	Assign(ctx context.Context, chunk string, taxonomy model.Taxonomy) []string
}

type RunState string

const (
	StateDone    RunState = "done"
	StateAborted RunState = "aborted"
	StateSkipped RunState = "skipped" // another run held the lease
)

// RunResult summarizes one run for logs and the admin API.
type RunResult struct {
	RunID      int64     `json:"run_id"`
	State      RunState  `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Scanned   int `json:"scanned"`
	Skipped   int `json:"skipped"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Chunks    int `json:"chunks"`

	LabelsInduced   int  `json:"labels_induced"`
	LabelsPersisted int  `json:"labels_persisted"`
	TaxonomySize    int  `json:"taxonomy_size"`
	Halted          bool `json:"halted"`
}

func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
