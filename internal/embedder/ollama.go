package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

// OllamaTextModel implements TextModel using the Ollama HTTP API.
// It sends the text covered by the tokenizer's kept tokens.
type OllamaTextModel struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	logger    *slog.Logger
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaTextModel creates a new Ollama-based encoder. A dimension of 0
// accepts whatever size the server returns.
func NewOllamaTextModel(baseURL, model string, dimension int, logger *slog.Logger) *OllamaTextModel {
	return &OllamaTextModel{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{},
		logger:    logger,
	}
}

func (o *OllamaTextModel) Encode(ctx context.Context, inputs tokenizer.Inputs) (*Output, error) {
	reqBody := ollamaEmbedRequest{
		Model:  o.model,
		Prompt: inputs.Text,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	url := o.baseURL + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Ollama API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}
	if o.dimension > 0 && len(result.Embedding) != o.dimension {
		return nil, fmt.Errorf("ollama returned %d dimensions, expected %d", len(result.Embedding), o.dimension)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}

	o.logger.Debug("generated embedding", "model", o.model, "dimension", len(vec))
	return &Output{TextEmbeds: vec}, nil
}

func (o *OllamaTextModel) Dimension() int {
	return o.dimension
}
