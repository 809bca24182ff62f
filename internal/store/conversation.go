package store

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/categorizer/common/arangodb"
	"basegraph.app/categorizer/internal/model"
)

const (
	listCreatedSinceQuery   = `FOR c IN @@collection FILTER c.created_at >= @since RETURN c`
	upsertConversationQuery = `UPSERT { _key: @key } INSERT @doc REPLACE @doc IN @@collection`
)

type conversationStore struct {
	client     arangodb.Client
	collection string
}

func NewConversationStore(client arangodb.Client, collection string) ConversationStore {
	return &conversationStore{client: client, collection: collection}
}

// EnsureConversationCollection creates the collection and the created_at index the window query relies on.
func EnsureConversationCollection(ctx context.Context, client arangodb.Client, collection string) error {
	if err := client.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	return client.EnsurePersistentIndex(ctx, collection, model.FieldCreatedAt)
}

func (s *conversationStore) ListCreatedSince(ctx context.Context, since int64) ([]*model.Conversation, error) {
	docs, err := s.client.Query(ctx, listCreatedSinceQuery, map[string]any{
		"@collection": s.collection,
		"since":       since,
	})
	if err != nil {
		return nil, fmt.Errorf("listing conversations since %d: %w", since, err)
	}

	convs := make([]*model.Conversation, 0, len(docs))
	for _, doc := range docs {
		conv, err := model.ConversationFromDocument(doc)
		if err != nil {
			// One malformed record must not hide the rest of the window.
			slog.WarnContext(ctx, "skipping undecodable conversation document", "error", err)
			continue
		}
		convs = append(convs, conv)
	}

	return convs, nil
}

func (s *conversationStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	err := s.client.Exec(ctx, upsertConversationQuery, map[string]any{
		"@collection": s.collection,
		"key":         conv.ID,
		"doc":         conv.Document(),
	})
	if err != nil {
		return fmt.Errorf("upserting conversation %s: %w", conv.ID, err)
	}
	return nil
}
