package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

const (
	openAIHTTPTimeout  = 30 * time.Second
	openAIDefaultModel = "text-embedding-3-small"
)

// OpenAITextModel implements TextModel using the OpenAI embeddings API.
// The dimensions parameter is forwarded so the output matches the
// configured projection size.
type OpenAITextModel struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *slog.Logger
}

// NewOpenAITextModel creates a new OpenAI-based encoder. An empty baseURL
// uses the public endpoint; model defaults to text-embedding-3-small.
func NewOpenAITextModel(apiKey, baseURL, model string, dimensions int, logger *slog.Logger) *OpenAITextModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: openAIHTTPTimeout}
	if model == "" {
		model = openAIDefaultModel
	}
	return &OpenAITextModel{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}
}

func (o *OpenAITextModel) Encode(ctx context.Context, inputs tokenizer.Inputs) (*Output, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{inputs.Text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai encoder: creating embedding: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("openai encoder: expected 1 embedding, got %d", len(resp.Data))
	}

	vec := resp.Data[0].Embedding
	if len(vec) == 0 {
		return nil, fmt.Errorf("openai encoder: empty embedding")
	}

	o.logger.Debug("generated embedding via OpenAI", "model", o.model, "dimension", len(vec))
	return &Output{TextEmbeds: vec}, nil
}

func (o *OpenAITextModel) Dimension() int {
	return o.dimensions
}
