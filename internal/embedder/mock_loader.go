package embedder

import (
	"context"
	"strings"
	"sync"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

// MockLoader is an in-memory loader for testing. It serves a hashed encoder
// and a tokenizer over a small CLIP-style vocabulary without touching the
// network or loading native libraries.
type MockLoader struct {
	mu        sync.Mutex
	dimension int
	err       error
	loads     int
}

// NewMockLoader creates a mock loader whose encoder emits vectors of the given size.
func NewMockLoader(dimension int) *MockLoader {
	return &MockLoader{dimension: dimension}
}

// FailWith makes every subsequent load return err.
func (m *MockLoader) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Loads returns how many handles have been loaded.
func (m *MockLoader) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// LoadTokenizer returns a tokenizer over MockVocab.
func (m *MockLoader) LoadTokenizer(_ context.Context, _ string) (Tokenizer, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	tok, err := NewMockTokenizer()
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// LoadTextModel returns a hashed encoder seeded by modelID.
func (m *MockLoader) LoadTextModel(_ context.Context, modelID string) (TextModel, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	return NewHashedTextModel(modelID, m.dimension), nil
}

func (m *MockLoader) record() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loads++
	return nil
}

// Special tokens of the CLIP vocabulary.
const (
	MockStartToken = "<|startoftext|>"
	MockEndToken   = "<|endoftext|>"
)

// MockVocab is a tiny CLIP-style vocabulary of word-final pieces.
func MockVocab() map[string]int64 {
	return map[string]int64{
		"a</w>":        320,
		"an</w>":       550,
		"the</w>":      518,
		"cat</w>":      2368,
		"dog</w>":      1929,
		"photo</w>":    1125,
		"of</w>":       539,
		MockStartToken: 49406,
		MockEndToken:   49407,
	}
}

// NewMockTokenizer returns a CLIP-shaped tokenizer over MockVocab that needs
// no native library.
func NewMockTokenizer() (*tokenizer.Tokenizer, error) {
	return tokenizer.New(&MockEncoder{Vocab: MockVocab()}, tokenizer.DefaultConfig())
}

// MockEncoder is a lowercase, whitespace-split word encoder. Words missing
// from Vocab map to the end-of-text ID, which CLIP also uses as unk.
type MockEncoder struct {
	Vocab map[string]int64
}

func (e *MockEncoder) Encode(text string, addSpecialTokens bool) ([]int64, error) {
	if id, ok := e.Vocab[text]; ok && (text == MockStartToken || text == MockEndToken) {
		return []int64{id}, nil
	}
	unk := e.Vocab[MockEndToken]
	var ids []int64
	if addSpecialTokens {
		ids = append(ids, e.Vocab[MockStartToken])
	}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		id, ok := e.Vocab[w+"</w>"]
		if !ok {
			id = unk
		}
		ids = append(ids, id)
	}
	if addSpecialTokens {
		ids = append(ids, e.Vocab[MockEndToken])
	}
	return ids, nil
}

func (e *MockEncoder) Decode(ids []int64, skipSpecialTokens bool) (string, error) {
	byID := make(map[int64]string, len(e.Vocab))
	for tok, id := range e.Vocab {
		byID[id] = tok
	}
	var sb strings.Builder
	for _, id := range ids {
		tok := byID[id]
		if skipSpecialTokens && (tok == MockStartToken || tok == MockEndToken) {
			continue
		}
		sb.WriteString(tok)
	}
	return sb.String(), nil
}
