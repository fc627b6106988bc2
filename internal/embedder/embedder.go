package embedder

import (
	"context"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

// Output is the result of running the text encoder on one input.
type Output struct {
	// TextEmbeds is the projected text embedding.
	TextEmbeds []float32
}

// TextModel maps tokenized text to a fixed-length embedding.
type TextModel interface {
	// Encode runs the encoder over a single token-input structure.
	Encode(ctx context.Context, inputs tokenizer.Inputs) (*Output, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int
}

// Tokenizer maps raw text to a token-input structure.
type Tokenizer interface {
	Encode(text string, opts tokenizer.Options) (tokenizer.Inputs, error)
}
