package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	defaultef "github.com/amikos-tech/chroma-go/pkg/embeddings/default_ef"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

// chromaDefaultDimension is the output size of chroma's bundled MiniLM model.
const chromaDefaultDimension = 384

type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (embeddings.Embedding, error)
}

// ChromaTextModel runs chroma's bundled MiniLM embedding function in-process.
// It is a general sentence encoder, not CLIP; its vectors do not share the
// CLIP image space. The runtime and model are downloaded on first use.
type ChromaTextModel struct {
	ef        queryEmbedder
	closeFn   func() error
	dimension int
	logger    *slog.Logger
}

// NewChromaTextModel initializes the runtime and the MiniLM model.
func NewChromaTextModel(dimension int, logger *slog.Logger) (*ChromaTextModel, error) {
	ef, closeFn, err := defaultef.NewDefaultEmbeddingFunction()
	if err != nil {
		return nil, fmt.Errorf("chroma encoder: initializing runtime: %w", err)
	}
	return newChromaTextModel(ef, closeFn, dimension, logger), nil
}

func newChromaTextModel(ef queryEmbedder, closeFn func() error, dimension int, logger *slog.Logger) *ChromaTextModel {
	if dimension <= 0 {
		dimension = chromaDefaultDimension
	}
	return &ChromaTextModel{ef: ef, closeFn: closeFn, dimension: dimension, logger: logger}
}

func (c *ChromaTextModel) Encode(ctx context.Context, inputs tokenizer.Inputs) (*Output, error) {
	emb, err := c.ef.EmbedQuery(ctx, inputs.Text)
	if err != nil {
		return nil, fmt.Errorf("chroma encoder: embedding: %w", err)
	}
	vec := emb.ContentAsFloat32()
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("chroma encoder: got %d dimensions, expected %d", len(vec), c.dimension)
	}
	c.logger.Debug("generated embedding via chroma", "dimension", len(vec))
	return &Output{TextEmbeds: vec}, nil
}

func (c *ChromaTextModel) Dimension() int {
	return c.dimension
}

// Close releases the runtime session.
func (c *ChromaTextModel) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}
