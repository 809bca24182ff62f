package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"

	"basegraph.app/categorizer/internal/model"
)

// Catch-all entry for questions unrelated to programming.
const (
	CatchAllLabel       = "その他"
	CatchAllDescription = "プログラミング以外の内容"
)

const (
	inductionPromptVersion  = "v1"
	assignmentPromptVersion = "v1"
)

const inductionPromptTemplate = `You are an experienced data analyst reviewing questions that students of a programming school asked a support assistant.
Propose categories for the conversation below.

## Conversation
%s

## Output format
A single flat JSON object: {"label name": "description"}

## Rules
- Ignore anything that overlaps with an existing label; only return new labels.
- Return JSON in exactly the format above, nothing else.
- Keep each description within 30 characters.
- For questions unrelated to programming, return {"%s": "%s"}.

## Existing labels
%s
`

const assignmentPromptTemplate = `Suggest the labels that best fit the comment below.
Choose only from the candidate labels.

## Comment
%s

## Rules
- Return JSON in the output format below, with the labels in a list.
- Use as many labels as apply.
- If no label fits, return an empty list. Never return the example from the output format as is.

## Candidate labels
%s

## Output format
{"labels": ["label 1", "label 2", "label 3"]}
`

func buildInductionPrompt(chunk string, taxonomy model.Taxonomy) string {
	return fmt.Sprintf(inductionPromptTemplate, chunk, CatchAllLabel, CatchAllDescription, renderTaxonomy(taxonomy))
}

func buildAssignmentPrompt(chunk string, taxonomy model.Taxonomy) string {
	return fmt.Sprintf(assignmentPromptTemplate, chunk, renderTaxonomy(taxonomy))
}

// renderTaxonomy renders labels as a JSON object with sorted keys. Labels like
// "C++ & <templates>" stay literal, matching how the chunker encodes messages.
func renderTaxonomy(taxonomy model.Taxonomy) string {
	if len(taxonomy) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(taxonomy); err != nil {
		return "{}"
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
