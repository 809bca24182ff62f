package store

import (
	"context"
	"errors"

	"basegraph.app/categorizer/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrLeaseHeld is returned by RunLease.Acquire when another run holds the lease.
var ErrLeaseHeld = errors.New("run lease held by another process")

// ErrLeaseLost is returned by RunLease.Renew when the lease expired or changed hands.
var ErrLeaseLost = errors.New("run lease lost")

// ConversationStore defines the contract for conversation record access
type ConversationStore interface {
	// ListCreatedSince returns every record whose created_at is at or after since (epoch seconds).
	ListCreatedSince(ctx context.Context, since int64) ([]*model.Conversation, error)
	// Upsert writes the full record back, replacing the stored version.
	Upsert(ctx context.Context, conv *model.Conversation) error
}

// TaxonomyStore defines the contract for persisted label access
type TaxonomyStore interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context) (model.Taxonomy, error)
	List(ctx context.Context) ([]model.Label, error)
	// InsertIfAbsent inserts a label unless its key already exists.
	// It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, key, value string) (bool, error)
	// Persist writes every entry of taxonomy not yet stored, in one transaction.
	// It returns the number of new rows.
	Persist(ctx context.Context, taxonomy model.Taxonomy) (int, error)
}

// PipelineRunStore defines the contract for run history access
type PipelineRunStore interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, run *model.PipelineRun) error
	Finish(ctx context.Context, run *model.PipelineRun) error
	ListRecent(ctx context.Context, limit int32) ([]model.PipelineRun, error)
}

// Lease is a held run lease. Token identifies the holder.
type Lease struct {
	Key   string
	Token string
}

// RunLease guarantees at most one categorization run at a time across processes.
// The holder renews between records; a run that stops renewing loses the lease after its TTL.
type RunLease interface {
	Acquire(ctx context.Context) (*Lease, error)
	Renew(ctx context.Context, lease *Lease) error
	Release(ctx context.Context, lease *Lease) error
}
