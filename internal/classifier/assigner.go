package classifier

import (
	"context"
	"log/slog"

	"basegraph.app/categorizer/common/llm"
	"basegraph.app/categorizer/common/retry"
	"basegraph.app/categorizer/internal/model"
)

type AssignmentResponse struct {
	Labels []string `json:"labels" jsonschema_description:"Names of the candidate labels that apply to the comment; empty when none fit"`
}

var assignmentSchema = llm.GenerateSchema[AssignmentResponse]()

// Assigner picks the taxonomy labels that apply to a chunk. It is best-effort:
// every failure degrades to an empty list.
type Assigner struct {
	llm   llm.Client
	retry retry.Policy
}

func NewAssigner(client llm.Client, policy retry.Policy) *Assigner {
	return &Assigner{llm: client, retry: policy}
}

// Assign never fails. The returned names are whatever the model chose and may
// include names outside taxonomy.
func (a *Assigner) Assign(ctx context.Context, chunk string, taxonomy model.Taxonomy) []string {
	prompt := buildAssignmentPrompt(chunk, taxonomy)

	resp, err := retry.Do(ctx, a.retry, "llm.assign_labels", llm.IsRetryable,
		func(ctx context.Context) (AssignmentResponse, error) {
			var out AssignmentResponse
			_, err := a.llm.Chat(ctx, llm.Request{
				UserPrompt: prompt,
				SchemaName: "label_assignment",
				Schema:     assignmentSchema,
			}, &out)
			return out, err
		})
	if err != nil {
		slog.ErrorContext(ctx, "label assignment failed, assigning no labels",
			"error", err,
			"prompt_version", assignmentPromptVersion)
		return []string{}
	}

	if resp.Labels == nil {
		slog.WarnContext(ctx, "label assignment response has no labels list, assigning no labels")
		return []string{}
	}

	slog.DebugContext(ctx, "labels assigned", "labels", resp.Labels)
	return resp.Labels
}
