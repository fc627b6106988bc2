package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/clipembed/internal/config"
	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

type mapFetcher map[string]string

func (m mapFetcher) Fetch(_ context.Context, modelID, file string) ([]byte, error) {
	data, ok := m[modelID+"/"+file]
	if !ok {
		return nil, fmt.Errorf("%s/%s: not found", modelID, file)
	}
	return []byte(data), nil
}

const (
	testModel     = "Xenova/clip-vit-base-patch32"
	testTokenizer = `{"version":"1.0","model":{"type":"BPE"}}`
	testGraph     = "onnx-graph-bytes"
)

func clipFiles() mapFetcher {
	return mapFetcher{
		testModel + "/config.json":               `{"projection_dim":512,"text_config":{"vocab_size":49408}}`,
		testModel + "/tokenizer_config.json":     `{"model_max_length":77,"pad_token":"<|endoftext|>"}`,
		testModel + "/tokenizer.json":            testTokenizer,
		testModel + "/" + config.DefaultONNXFile: testGraph,
	}
}

func onnxCfg() *config.Config {
	return &config.Config{
		Model: config.ModelConfig{ID: testModel, Backend: config.BackendONNX, ONNXFile: config.DefaultONNXFile},
		Runtime: config.RuntimeConfig{
			ONNXLibraryPath:       "/opt/ort/libonnxruntime.so",
			TokenizersLibraryPath: "/opt/tok/libtokenizers.so",
		},
	}
}

// builds records what the loader handed to the native constructors.
type builds struct {
	tokData    string
	tokCfg     tokenizer.Config
	tokLib     string
	graph      string
	onnxLib    string
	dimension  int
	clipCalled bool
}

func newTestLoader(files FileFetcher, cfg *config.Config) (*Loader, *builds) {
	b := &builds{}
	l := NewLoader(files, cfg, quietLogger())
	l.newTokenizer = func(data []byte, tcfg tokenizer.Config, libraryPath string) (Tokenizer, error) {
		b.tokData, b.tokCfg, b.tokLib = string(data), tcfg, libraryPath
		tok, err := tokenizer.New(&MockEncoder{Vocab: MockVocab()}, tcfg)
		if err != nil {
			return nil, err
		}
		return tok, nil
	}
	l.newCLIP = func(onnxData []byte, libraryPath string, dimension int, logger *slog.Logger) (TextModel, error) {
		b.clipCalled = true
		b.graph, b.onnxLib, b.dimension = string(onnxData), libraryPath, dimension
		return newCLIPTextModel(&fakeSession{dimension: dimension}, dimension, logger), nil
	}
	return l, b
}

func TestLoader_LoadTokenizer(t *testing.T) {
	l, b := newTestLoader(clipFiles(), onnxCfg())

	tok, err := l.LoadTokenizer(context.Background(), testModel)
	require.NoError(t, err)
	assert.Equal(t, testTokenizer, b.tokData)
	assert.Equal(t, tokenizer.Config{MaxLength: 77, PadToken: "<|endoftext|>"}, b.tokCfg)
	assert.Equal(t, "/opt/tok/libtokenizers.so", b.tokLib)

	in, err := tok.Encode("a cat", tokenizer.Options{Padding: true, Truncation: true})
	require.NoError(t, err)
	assert.Len(t, in.InputIDs, 77)
	assert.Equal(t, []int64{49406, 320, 2368, 49407}, in.InputIDs[:4])
}

func TestLoader_LoadTokenizer_ConfigOptional(t *testing.T) {
	files := clipFiles()
	delete(files, testModel+"/tokenizer_config.json")
	l, b := newTestLoader(files, onnxCfg())

	_, err := l.LoadTokenizer(context.Background(), testModel)
	require.NoError(t, err)
	assert.Equal(t, tokenizer.DefaultConfig(), b.tokCfg)
}

func TestLoader_LoadTokenizer_MissingTokenizerJSON(t *testing.T) {
	files := clipFiles()
	delete(files, testModel+"/tokenizer.json")
	l, _ := newTestLoader(files, onnxCfg())

	_, err := l.LoadTokenizer(context.Background(), testModel)
	assert.ErrorContains(t, err, "loading tokenizer")
}

func TestLoader_LoadTokenizer_BadConfig(t *testing.T) {
	files := clipFiles()
	files[testModel+"/tokenizer_config.json"] = `{`
	l, _ := newTestLoader(files, onnxCfg())

	_, err := l.LoadTokenizer(context.Background(), testModel)
	assert.ErrorContains(t, err, "parsing tokenizer config")
}

func TestLoader_LoadTextModel_ONNXRunsCLIPGraph(t *testing.T) {
	l, b := newTestLoader(clipFiles(), onnxCfg())

	m, err := l.LoadTextModel(context.Background(), testModel)
	require.NoError(t, err)
	assert.IsType(t, &CLIPTextModel{}, m)
	assert.Equal(t, 512, m.Dimension())
	assert.Equal(t, testGraph, b.graph)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", b.onnxLib)
	assert.Equal(t, 512, b.dimension)
}

func TestLoader_LoadTextModel_ONNXTextConfigFallback(t *testing.T) {
	files := mapFetcher{
		"m/config.json":               `{"text_config":{"projection_dim":768}}`,
		"m/" + config.DefaultONNXFile: testGraph,
	}
	l, _ := newTestLoader(files, onnxCfg())

	m, err := l.LoadTextModel(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, 768, m.Dimension())
}

func TestLoader_LoadTextModel_ONNXConfiguredDimensionSkipsConfig(t *testing.T) {
	cfg := onnxCfg()
	cfg.Model.Dimension = 128
	l, b := newTestLoader(mapFetcher{testModel + "/" + config.DefaultONNXFile: testGraph}, cfg)

	m, err := l.LoadTextModel(context.Background(), testModel)
	require.NoError(t, err)
	assert.Equal(t, 128, m.Dimension())
	assert.Equal(t, 128, b.dimension)
}

func TestLoader_LoadTextModel_ONNXCustomFile(t *testing.T) {
	cfg := onnxCfg()
	cfg.Model.ONNXFile = "onnx/text_model.onnx"
	files := clipFiles()
	files[testModel+"/onnx/text_model.onnx"] = "full-precision"
	l, b := newTestLoader(files, cfg)

	_, err := l.LoadTextModel(context.Background(), testModel)
	require.NoError(t, err)
	assert.Equal(t, "full-precision", b.graph)
}

func TestLoader_LoadTextModel_ONNXMissingGraph(t *testing.T) {
	files := clipFiles()
	delete(files, testModel+"/"+config.DefaultONNXFile)
	l, b := newTestLoader(files, onnxCfg())

	_, err := l.LoadTextModel(context.Background(), testModel)
	assert.ErrorContains(t, err, "loading text model")
	assert.False(t, b.clipCalled)
}

func TestLoader_LoadTextModel_ONNXMissingConfig(t *testing.T) {
	l, _ := newTestLoader(mapFetcher{}, onnxCfg())

	_, err := l.LoadTextModel(context.Background(), testModel)
	assert.ErrorContains(t, err, "loading model config")
}

func TestLoader_LoadTextModel_RemoteBackends(t *testing.T) {
	cfg := onnxCfg()
	cfg.Model.Backend = config.BackendOllama
	cfg.Ollama = config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "clip"}
	m, err := NewLoader(mapFetcher{}, cfg, quietLogger()).LoadTextModel(context.Background(), testModel)
	require.NoError(t, err)
	assert.IsType(t, &OllamaTextModel{}, m)

	cfg.Model.Backend = config.BackendOpenAI
	cfg.OpenAI = config.OpenAIConfig{APIKey: "sk-test"}
	m, err = NewLoader(mapFetcher{}, cfg, quietLogger()).LoadTextModel(context.Background(), testModel)
	require.NoError(t, err)
	assert.IsType(t, &OpenAITextModel{}, m)
	assert.Equal(t, config.DefaultDimension, m.Dimension())
}

func TestLoader_LoadTextModel_UnknownBackend(t *testing.T) {
	cfg := onnxCfg()
	cfg.Model.Backend = "hashed"
	_, err := NewLoader(mapFetcher{}, cfg, quietLogger()).LoadTextModel(context.Background(), testModel)
	assert.ErrorContains(t, err, "unknown encoder backend")
}
