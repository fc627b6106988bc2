package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	defaultef "github.com/amikos-tech/chroma-go/pkg/embeddings/default_ef"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

// Graph names of the exported CLIP text tower.
const (
	inputIDsName      = "input_ids"
	attentionMaskName = "attention_mask"
	positionIDsName   = "position_ids"
	textEmbedsName    = "text_embeds"
)

// textSession runs the text tower on one token sequence and returns the
// flattened text_embeds output.
type textSession interface {
	Run(inputIDs, attentionMask []int64) ([]float32, error)
	Destroy() error
}

// CLIPTextModel runs a pretrained CLIP text encoder with projection in-process
// through ONNX Runtime.
type CLIPTextModel struct {
	mu        sync.Mutex
	session   textSession
	dimension int
	logger    *slog.Logger
}

// NewCLIPTextModel starts an ONNX Runtime session over the serialized text
// model. libraryPath locates the onnxruntime shared library; when empty the
// library is downloaded into the shared chroma cache on first use.
func NewCLIPTextModel(onnxData []byte, libraryPath string, dimension int, logger *slog.Logger) (*CLIPTextModel, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("clip encoder: invalid dimension %d", dimension)
	}
	if err := initRuntime(libraryPath); err != nil {
		return nil, err
	}
	s, err := newORTSession(onnxData)
	if err != nil {
		return nil, err
	}
	logger.Debug("onnx session created", "inputs", s.inputs)
	return newCLIPTextModel(s, dimension, logger), nil
}

func newCLIPTextModel(s textSession, dimension int, logger *slog.Logger) *CLIPTextModel {
	return &CLIPTextModel{session: s, dimension: dimension, logger: logger}
}

func (m *CLIPTextModel) Encode(ctx context.Context, inputs tokenizer.Inputs) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(inputs.InputIDs) == 0 {
		return nil, fmt.Errorf("clip encoder: empty input")
	}
	if len(inputs.InputIDs) != len(inputs.AttentionMask) {
		return nil, fmt.Errorf("clip encoder: %d ids but %d mask entries", len(inputs.InputIDs), len(inputs.AttentionMask))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, fmt.Errorf("clip encoder: session closed")
	}
	vec, err := m.session.Run(inputs.InputIDs, inputs.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("clip encoder: running session: %w", err)
	}
	if len(vec) != m.dimension {
		return nil, fmt.Errorf("clip encoder: got %d dimensions, expected %d", len(vec), m.dimension)
	}
	m.logger.Debug("generated embedding via CLIP", "tokens", inputs.Len(), "dimension", len(vec))
	return &Output{TextEmbeds: vec}, nil
}

func (m *CLIPTextModel) Dimension() int {
	return m.dimension
}

// Close destroys the session. The runtime environment stays up for the
// lifetime of the process.
func (m *CLIPTextModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

var runtimeMu sync.Mutex

func initRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath == "" {
		var err error
		libraryPath, err = sharedRuntimeLibrary()
		if err != nil {
			return err
		}
	}
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("clip encoder: initializing onnxruntime from %s: %w", libraryPath, err)
	}
	return nil
}

// sharedRuntimeLibrary makes sure chroma's pinned onnxruntime build is
// cached and returns its path.
func sharedRuntimeLibrary() (string, error) {
	if err := defaultef.EnsureOnnxRuntimeSharedLibrary(); err != nil {
		return "", fmt.Errorf("clip encoder: fetching onnxruntime: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("clip encoder: locating home directory: %w", err)
	}
	ext := "so"
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "windows":
		ext = "dll"
	}
	name := "libonnxruntime." + defaultef.LibOnnxRuntimeVersion + "." + ext
	return filepath.Join(home, defaultef.ChromaCacheDir, "shared", "onnxruntime", name), nil
}

// ortSession feeds token tensors of shape [1, n] to the graph.
type ortSession struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
}

func newORTSession(onnxData []byte) (*ortSession, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfoWithONNXData(onnxData)
	if err != nil {
		return nil, fmt.Errorf("clip encoder: reading graph: %w", err)
	}

	var inputs []string
	for _, in := range inInfo {
		switch in.Name {
		case inputIDsName, attentionMaskName, positionIDsName:
			inputs = append(inputs, in.Name)
		default:
			return nil, fmt.Errorf("clip encoder: unsupported graph input %q", in.Name)
		}
	}
	hasEmbeds := false
	for _, out := range outInfo {
		if out.Name == textEmbedsName {
			hasEmbeds = true
		}
	}
	if !hasEmbeds {
		return nil, fmt.Errorf("clip encoder: graph has no %s output; export the text model with projection", textEmbedsName)
	}

	s, err := ort.NewDynamicAdvancedSessionWithONNXData(onnxData, inputs, []string{textEmbedsName}, nil)
	if err != nil {
		return nil, fmt.Errorf("clip encoder: creating session: %w", err)
	}
	return &ortSession{session: s, inputs: inputs}, nil
}

func (s *ortSession) Run(inputIDs, attentionMask []int64) ([]float32, error) {
	shape := ort.NewShape(1, int64(len(inputIDs)))

	values := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()
	for _, name := range s.inputs {
		data := inputIDs
		switch name {
		case attentionMaskName:
			data = attentionMask
		case positionIDsName:
			data = make([]int64, len(inputIDs))
			for i := range data {
				data[i] = int64(i)
			}
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("building %s tensor: %w", name, err)
		}
		values = append(values, t)
	}

	outputs := []ort.Value{nil}
	if err := s.session.Run(values, outputs); err != nil {
		return nil, err
	}
	defer func() { _ = outputs[0].Destroy() }()

	embeds, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%s is not a float32 tensor", textEmbedsName)
	}
	return append([]float32(nil), embeds.GetData()...), nil
}

func (s *ortSession) Destroy() error {
	return s.session.Destroy()
}
