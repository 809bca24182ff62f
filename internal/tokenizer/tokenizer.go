// Package tokenizer measures and splits text with the BPE encoding of the
// classification model family.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Codec converts between text and token ids. Implementations must be deterministic.
type Codec interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

var loaderOnce sync.Once

// Tiktoken is a Codec backed by tiktoken BPE ranks embedded in the binary,
// so no network access is needed at startup.
type Tiktoken struct {
	enc   *tiktoken.Tiktoken
	model string
}

// New returns the codec for the given model name (e.g. "gpt-4-turbo").
func New(model string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("encoding for model %s: %w", model, err)
	}
	return &Tiktoken{enc: enc, model: model}, nil
}

// Encode treats special-token text as ordinary text.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

func (t *Tiktoken) Model() string {
	return t.model
}
