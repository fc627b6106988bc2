package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ajitpratap0/clipembed/internal/config"
	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

// Files read from the model repository.
const (
	ModelConfigFile     = "config.json"
	TokenizerConfigFile = "tokenizer_config.json"
	TokenizerFile       = tokenizer.TokenizerFile
)

// FileFetcher resolves a model file by model identifier.
type FileFetcher interface {
	Fetch(ctx context.Context, modelID, file string) ([]byte, error)
}

// Loader resolves the text encoder and tokenizer of a pretrained model.
type Loader struct {
	files  FileFetcher
	cfg    *config.Config
	logger *slog.Logger

	// newTokenizer and newCLIP are replaced in tests to avoid native libraries.
	newTokenizer func(data []byte, cfg tokenizer.Config, libraryPath string) (Tokenizer, error)
	newCLIP      func(onnxData []byte, libraryPath string, dimension int, logger *slog.Logger) (TextModel, error)
}

// NewLoader creates a loader for the backend selected in cfg.
func NewLoader(files FileFetcher, cfg *config.Config, logger *slog.Logger) *Loader {
	return &Loader{
		files:  files,
		cfg:    cfg,
		logger: logger,
		newTokenizer: func(data []byte, cfg tokenizer.Config, libraryPath string) (Tokenizer, error) {
			tok, err := tokenizer.FromBytes(data, cfg, libraryPath)
			if err != nil {
				return nil, err
			}
			return tok, nil
		},
		newCLIP: func(onnxData []byte, libraryPath string, dimension int, logger *slog.Logger) (TextModel, error) {
			m, err := NewCLIPTextModel(onnxData, libraryPath, dimension, logger)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// LoadTokenizer fetches tokenizer.json and tokenizer_config.json of modelID.
// The config file is optional; CLIP defaults apply without it.
func (l *Loader) LoadTokenizer(ctx context.Context, modelID string) (Tokenizer, error) {
	data, err := l.files.Fetch(ctx, modelID, TokenizerFile)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	tcfg := tokenizer.DefaultConfig()
	if raw, err := l.files.Fetch(ctx, modelID, TokenizerConfigFile); err != nil {
		l.logger.Debug("tokenizer config unavailable, using defaults", "model", modelID, "error", err)
	} else if tcfg, err = tokenizer.ParseConfig(raw); err != nil {
		return nil, fmt.Errorf("parsing tokenizer config: %w", err)
	}

	tok, err := l.newTokenizer(data, tcfg, l.cfg.Runtime.TokenizersLibraryPath)
	if err != nil {
		return nil, fmt.Errorf("building tokenizer: %w", err)
	}
	l.logger.Info("tokenizer loaded", "model", modelID, "max_length", tcfg.MaxLength)
	return tok, nil
}

// LoadTextModel builds the encoder for modelID using the configured backend.
func (l *Loader) LoadTextModel(ctx context.Context, modelID string) (TextModel, error) {
	backend := l.cfg.Model.Backend
	var (
		m   TextModel
		err error
	)
	switch backend {
	case config.BackendONNX:
		dim := l.cfg.Model.Dimension
		if dim == 0 {
			dim, err = l.projectionDim(ctx, modelID)
			if err != nil {
				return nil, err
			}
		}
		var onnxData []byte
		onnxData, err = l.files.Fetch(ctx, modelID, l.cfg.Model.ONNXFile)
		if err != nil {
			return nil, fmt.Errorf("loading text model: %w", err)
		}
		m, err = l.newCLIP(onnxData, l.cfg.Runtime.ONNXLibraryPath, dim, l.logger)
		if err != nil {
			return nil, err
		}
	case config.BackendChroma:
		m, err = NewChromaTextModel(l.cfg.Model.Dimension, l.logger)
		if err != nil {
			return nil, err
		}
	case config.BackendOllama:
		m = NewOllamaTextModel(l.cfg.Ollama.BaseURL, l.cfg.Ollama.Model, l.cfg.Model.Dimension, l.logger)
	case config.BackendOpenAI:
		dim := l.cfg.Model.Dimension
		if dim == 0 {
			dim = config.DefaultDimension
		}
		m = NewOpenAITextModel(l.cfg.OpenAI.APIKey, l.cfg.OpenAI.BaseURL, l.cfg.OpenAI.Model, dim, l.logger)
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", backend)
	}

	l.logger.Info("text model loaded", "model", modelID, "backend", backend, "dimension", m.Dimension())
	return m, nil
}

// modelConfig is the subset of a CLIP config.json we read.
type modelConfig struct {
	ProjectionDim int `json:"projection_dim"`
	TextConfig    struct {
		ProjectionDim int `json:"projection_dim"`
	} `json:"text_config"`
}

func (l *Loader) projectionDim(ctx context.Context, modelID string) (int, error) {
	data, err := l.files.Fetch(ctx, modelID, ModelConfigFile)
	if err != nil {
		return 0, fmt.Errorf("loading model config: %w", err)
	}
	var mc modelConfig
	if err := json.Unmarshal(data, &mc); err != nil {
		return 0, fmt.Errorf("decoding model config: %w", err)
	}
	switch {
	case mc.ProjectionDim > 0:
		return mc.ProjectionDim, nil
	case mc.TextConfig.ProjectionDim > 0:
		return mc.TextConfig.ProjectionDim, nil
	default:
		return config.DefaultDimension, nil
	}
}
