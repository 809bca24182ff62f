// Package chunker turns a conversation's user-authored text into model-input-sized chunks.
package chunker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"basegraph.app/categorizer/internal/model"
	"basegraph.app/categorizer/internal/tokenizer"
)

type Config struct {
	TokenLimit      int
	MaxUserMessages int
}

type Chunker struct {
	codec tokenizer.Codec
	cfg   Config
}

func New(codec tokenizer.Codec, cfg Config) (*Chunker, error) {
	if cfg.TokenLimit <= 0 {
		return nil, fmt.Errorf("token limit must be positive, got %d", cfg.TokenLimit)
	}
	if cfg.MaxUserMessages <= 0 {
		return nil, fmt.Errorf("max user messages must be positive, got %d", cfg.MaxUserMessages)
	}
	return &Chunker{codec: codec, cfg: cfg}, nil
}

// Chunk serializes the first MaxUserMessages user messages as a JSON array, then
// tiles the encoded tokens into runs of at most TokenLimit and decodes each run.
// Returns nil when there is no user message. Chunk boundaries are a size constraint
// only and may fall inside a word.
func (c *Chunker) Chunk(messages []model.Message) ([]string, error) {
	var contents []string
	for _, m := range messages {
		if len(contents) == c.cfg.MaxUserMessages {
			break
		}
		if m.Role == model.RoleUser {
			contents = append(contents, m.Content)
		}
	}
	if len(contents) == 0 {
		return nil, nil
	}

	blob, err := marshalContents(contents)
	if err != nil {
		return nil, err
	}

	runs := Split(c.codec.Encode(blob), c.cfg.TokenLimit)
	chunks := make([]string, len(runs))
	for i, run := range runs {
		chunks[i] = c.codec.Decode(run)
	}
	return chunks, nil
}

// Split partitions tokens into consecutive runs of at most limit tokens.
// Every token appears in exactly one run, in order; only the last run may be shorter.
func Split(tokens []int, limit int) [][]int {
	if len(tokens) == 0 || limit <= 0 {
		return nil
	}

	runs := make([][]int, 0, (len(tokens)+limit-1)/limit)
	for start := 0; start < len(tokens); start += limit {
		end := min(start+limit, len(tokens))
		runs = append(runs, tokens[start:end:end])
	}
	return runs
}

// marshalContents keeps non-ASCII and HTML characters literal so the classifier
// sees the text as written.
func marshalContents(contents []string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(contents); err != nil {
		return "", fmt.Errorf("encoding user messages: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
