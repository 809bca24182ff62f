package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/categorizer/common/llm"
	"basegraph.app/categorizer/common/retry"
	"basegraph.app/categorizer/internal/model"
)

// Inducer proposes new taxonomy entries from a chunk of conversation text.
type Inducer struct {
	llm   llm.Client
	retry retry.Policy
}

func NewInducer(client llm.Client, policy retry.Policy) *Inducer {
	return &Inducer{llm: client, retry: policy}
}

// Induce returns a copy of taxonomy extended with the labels proposed for chunk,
// plus the keys that were actually added. Keys already in the taxonomy are ignored
// even if the model returns them. A response that is not a flat JSON object of
// strings fails with an error wrapping llm.ErrMalformedResponse.
func (i *Inducer) Induce(ctx context.Context, chunk string, taxonomy model.Taxonomy) (model.Taxonomy, []string, error) {
	prompt := buildInductionPrompt(chunk, taxonomy)
	start := time.Now()

	proposed, err := retry.Do(ctx, i.retry, "llm.induce_labels", llm.IsRetryable,
		func(ctx context.Context) (map[string]string, error) {
			var out map[string]string
			if _, err := i.llm.Chat(ctx, llm.Request{
				UserPrompt: prompt,
				SchemaName: "label_induction",
			}, &out); err != nil {
				return nil, err
			}
			if out == nil {
				return nil, fmt.Errorf("%w: expected a JSON object, got null", llm.ErrMalformedResponse)
			}
			return out, nil
		})
	if err != nil {
		return taxonomy, nil, fmt.Errorf("label induction: %w", err)
	}

	updated := taxonomy.Clone()
	added := updated.Merge(proposed)

	slog.InfoContext(ctx, "labels induced",
		"proposed", len(proposed),
		"added", len(added),
		"ignored", len(proposed)-len(added),
		"taxonomy_size", len(updated),
		"prompt_version", inductionPromptVersion,
		"latency_ms", time.Since(start).Milliseconds())

	return updated, added, nil
}
