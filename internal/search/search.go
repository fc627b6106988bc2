// Package search scores image embeddings against the text embeddings the
// worker produces: cosine similarity to the positive text, gated by a
// minimum similarity and, when a negative text is given, by a maximum
// similarity to it.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ErrDimensionMismatch is returned when a vector does not match the query dimension.
var ErrDimensionMismatch = errors.New("search: dimension mismatch")

// parallelRows is the batch size from which candidate normalization is
// spread across goroutines.
const parallelRows = 1024

// Thresholds gate a score. Both are percentages of cosine similarity.
type Thresholds struct {
	Positive float64 `json:"positive_threshold" mapstructure:"positive_threshold"`
	Negative float64 `json:"negative_threshold" mapstructure:"negative_threshold"`
}

// DefaultThresholds returns the thresholds used when a caller sets none.
func DefaultThresholds() Thresholds {
	return Thresholds{Positive: 10, Negative: 10}
}

// Match is a candidate that passed both thresholds.
type Match struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Normalize returns a copy of v scaled to unit L2 norm. A zero vector is
// returned as zeros.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// NormalizeRows normalizes every row, splitting large batches across CPUs.
func NormalizeRows(ctx context.Context, rows [][]float32) ([][]float32, error) {
	out := make([][]float32, len(rows))
	if len(rows) < parallelRows {
		for i, r := range rows {
			out[i] = Normalize(r)
		}
		return out, nil
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(rows) + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				out[i] = Normalize(rows[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Score returns one score per candidate, in candidate order. The score is
// the cosine similarity between positive and the candidate; it is zeroed when
// below th.Positive percent, or, when negative is non-empty, when the
// candidate's similarity to negative is above th.Negative percent.
func Score(ctx context.Context, positive, negative []float32, candidates [][]float32, th Thresholds) ([]float32, error) {
	if len(positive) == 0 {
		return nil, fmt.Errorf("search: empty positive embedding")
	}
	if len(negative) > 0 && len(negative) != len(positive) {
		return nil, fmt.Errorf("%w: negative has %d dimensions, positive %d", ErrDimensionMismatch, len(negative), len(positive))
	}
	for i, c := range candidates {
		if len(c) != len(positive) {
			return nil, fmt.Errorf("%w: candidate %d has %d dimensions, positive %d", ErrDimensionMismatch, i, len(c), len(positive))
		}
	}

	rows, err := NormalizeRows(ctx, candidates)
	if err != nil {
		return nil, err
	}
	pos := Normalize(positive)
	var neg []float32
	if len(negative) > 0 {
		neg = Normalize(negative)
	}

	posMin := float32(th.Positive / 100)
	negMax := float32(th.Negative / 100)
	scores := make([]float32, len(rows))
	for i, r := range rows {
		s := dot(pos, r)
		if s < posMin {
			continue
		}
		if neg != nil && dot(neg, r) > negMax {
			continue
		}
		scores[i] = s
	}
	return scores, nil
}

// Rank drops zero scores and orders the rest by descending score, ties by
// index. limit <= 0 keeps every match.
func Rank(scores []float32, limit int) []Match {
	matches := make([]Match, 0, len(scores))
	for i, s := range scores {
		if s > 0 {
			matches = append(matches, Match{Index: i, Score: s})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Index < matches[j].Index
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}
