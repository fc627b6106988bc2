package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

// HashedTextModel is a deterministic stand-in encoder for tests; it is not
// selectable as a backend. Each attended token contributes a pseudo-random
// vector derived from the model identifier and the token ID; the sum is
// L2-normalized. The vectors carry no semantics.
type HashedTextModel struct {
	modelID   string
	dimension int
	seed      uint64
}

// NewHashedTextModel creates a hashed encoder with the given projection size.
func NewHashedTextModel(modelID string, dimension int) *HashedTextModel {
	h := fnv.New64a()
	_, _ = h.Write([]byte(modelID))
	return &HashedTextModel{
		modelID:   modelID,
		dimension: dimension,
		seed:      h.Sum64(),
	}
}

func (m *HashedTextModel) Encode(ctx context.Context, inputs tokenizer.Inputs) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(inputs.InputIDs) != len(inputs.AttentionMask) {
		return nil, fmt.Errorf("hashed model: %d ids but %d mask entries", len(inputs.InputIDs), len(inputs.AttentionMask))
	}
	if inputs.Len() == 0 {
		return nil, fmt.Errorf("hashed model: no attended tokens")
	}

	acc := make([]float64, m.dimension)
	for i, id := range inputs.InputIDs {
		if inputs.AttentionMask[i] == 0 {
			continue
		}
		state := m.seed ^ (uint64(id) * 0x9E3779B97F4A7C15)
		for j := range acc {
			r := splitmix64(&state)
			acc[j] += float64(r>>11)/(1<<53)*2 - 1
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	vec := make([]float32, m.dimension)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return &Output{TextEmbeds: vec}, nil
}

func (m *HashedTextModel) Dimension() int {
	return m.dimension
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
