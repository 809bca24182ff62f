package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"
)

// Conversation role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Document field names as stored in the conversation collection.
const (
	FieldKey       = "_key"
	FieldCreatedAt = "created_at"
	FieldMessages  = "messages"
	FieldCategory  = "category"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is a support conversation record owned by the document store.
// The pipeline reads it and writes it back with a category; it never creates or deletes one.
// The raw document is retained so an upsert does not drop fields this package does not model.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	Messages  []Message
	Category  []string

	hasMessages bool
	hasCategory bool
	doc         map[string]any
}

// ConversationFromDocument decodes a raw store document.
func ConversationFromDocument(doc map[string]any) (*Conversation, error) {
	key, _ := doc[FieldKey].(string)
	if key == "" {
		return nil, fmt.Errorf("document has no %s", FieldKey)
	}

	c := &Conversation{ID: key, doc: doc}

	if raw, ok := doc[FieldCreatedAt]; ok && raw != nil {
		secs, err := epochSeconds(raw)
		if err != nil {
			return nil, fmt.Errorf("record %s: %s: %w", key, FieldCreatedAt, err)
		}
		c.CreatedAt = time.Unix(secs, 0).UTC()
	}

	if raw, ok := doc[FieldMessages]; ok && raw != nil {
		msgs, err := decodeMessages(raw)
		if err != nil {
			return nil, fmt.Errorf("record %s: %s: %w", key, FieldMessages, err)
		}
		c.Messages = msgs
		c.hasMessages = true
	}

	if raw, ok := doc[FieldCategory]; ok {
		c.hasCategory = true
		if raw != nil {
			labels, err := decodeStrings(raw)
			if err != nil {
				return nil, fmt.Errorf("record %s: %s: %w", key, FieldCategory, err)
			}
			c.Category = labels
		}
	}

	return c, nil
}

// HasCategory reports whether the record was already categorized.
// Presence of the field is what counts, an empty list included.
func (c *Conversation) HasCategory() bool {
	return c.hasCategory
}

func (c *Conversation) HasMessages() bool {
	return c.hasMessages
}

// SetCategory records the assigned labels. A nil slice is stored as an empty list
// so the record is recognised as processed.
func (c *Conversation) SetCategory(labels []string) {
	if labels == nil {
		labels = []string{}
	}
	c.Category = labels
	c.hasCategory = true
}

// Document returns the full record to write back, with store-managed
// metadata stripped and the category applied.
func (c *Conversation) Document() map[string]any {
	out := make(map[string]any, len(c.doc)+1)
	maps.Copy(out, c.doc)
	delete(out, "_id")
	delete(out, "_rev")
	out[FieldKey] = c.ID
	if c.hasCategory {
		out[FieldCategory] = c.Category
	}
	return out
}

func epochSeconds(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("invalid timestamp %v", n)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func decodeMessages(v any) ([]Message, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}

	msgs := make([]Message, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("message %d: expected an object, got %T", i, item)
		}
		role, _ := m["role"].(string)

		var content string
		switch cv := m["content"].(type) {
		case string:
			content = cv
		case nil:
		default:
			// Structured content (e.g. multi-part) is kept as its JSON text.
			b, err := json.Marshal(cv)
			if err != nil {
				return nil, fmt.Errorf("message %d: content: %w", i, err)
			}
			content = string(b)
		}

		msgs = append(msgs, Message{Role: role, Content: content})
	}
	return msgs, nil
}

func decodeStrings(v any) ([]string, error) {
	switch items := v.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: expected a string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
}
