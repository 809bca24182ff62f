package pipeline

import (
	"context"
	"log/slog"
	"time"

	"basegraph.app/categorizer/common/retry"
	"basegraph.app/categorizer/internal/model"
	"basegraph.app/categorizer/internal/store"
)

// Extractor selects the records created within the recency window.
type Extractor struct {
	conversations store.ConversationStore
	window        time.Duration
	retry         retry.Policy
}

func NewExtractor(conversations store.ConversationStore, window time.Duration, policy retry.Policy) *Extractor {
	return &Extractor{conversations: conversations, window: window, retry: policy}
}

// Since is the inclusive lower bound, in epoch seconds, for a run at now.
func (e *Extractor) Since(now time.Time) int64 {
	return now.Add(-e.window).Unix()
}

// Extract returns every record with created_at >= now - window, in store order.
func (e *Extractor) Extract(ctx context.Context, now time.Time) ([]*model.Conversation, error) {
	since := e.Since(now)

	records, err := retry.Do(ctx, e.retry, "store.list_conversations", retry.Transient,
		func(ctx context.Context) ([]*model.Conversation, error) {
			return e.conversations.ListCreatedSince(ctx, since)
		})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "window extracted",
		"since", time.Unix(since, 0).UTC(),
		"window", e.window.String(),
		"records", len(records))

	return records, nil
}
