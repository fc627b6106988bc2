// Package tokenizer turns text into the token-input structure a CLIP text
// encoder consumes. Subword segmentation is delegated to an Encoder (the
// HuggingFace tokenizers runtime in production); this package applies the
// per-call padding and truncation flags on top of it.
package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CLIP text model defaults.
const (
	DefaultMaxLength = 77
	DefaultPadToken  = "<|endoftext|>"

	wordEnd = "</w>"
)

// ErrTooLong is returned when truncation is disabled and the text does not fit.
var ErrTooLong = errors.New("token sequence exceeds model max length")

// Encoder is a subword model. Encode with addSpecialTokens set must wrap the
// sequence in the model's start and end markers.
type Encoder interface {
	Encode(text string, addSpecialTokens bool) ([]int64, error)
	Decode(ids []int64, skipSpecialTokens bool) (string, error)
}

// Options mirrors the per-call tokenizer flags.
type Options struct {
	Padding    bool
	Truncation bool
}

// Inputs is the token-input structure consumed by a text encoder.
type Inputs struct {
	InputIDs      []int64
	AttentionMask []int64
	// Text is the text covered by the kept tokens.
	Text string
}

// Len returns the number of attended tokens.
func (in Inputs) Len() int {
	n := 0
	for _, m := range in.AttentionMask {
		if m != 0 {
			n++
		}
	}
	return n
}

// Config holds the context length and padding token of a model.
type Config struct {
	MaxLength int
	PadToken  string
}

// DefaultConfig returns the CLIP tokenizer configuration.
func DefaultConfig() Config {
	return Config{MaxLength: DefaultMaxLength, PadToken: DefaultPadToken}
}

// Tokenizer maps text to vocabulary IDs.
type Tokenizer struct {
	enc Encoder
	cfg Config
	pad int64
}

// New wraps enc. The pad token must encode to exactly one ID.
func New(enc Encoder, cfg Config) (*Tokenizer, error) {
	if cfg.MaxLength < 2 {
		return nil, fmt.Errorf("tokenizer: max length %d leaves no room for special tokens", cfg.MaxLength)
	}
	if cfg.PadToken == "" {
		cfg.PadToken = DefaultPadToken
	}
	ids, err := enc.Encode(cfg.PadToken, false)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: resolving pad token: %w", err)
	}
	if len(ids) != 1 {
		return nil, fmt.Errorf("tokenizer: pad token %q is not a single vocabulary entry", cfg.PadToken)
	}
	return &Tokenizer{enc: enc, cfg: cfg, pad: ids[0]}, nil
}

// MaxLength returns the model context length.
func (t *Tokenizer) MaxLength() int { return t.cfg.MaxLength }

// Encode tokenizes text. Truncation keeps the leading tokens and the
// end-of-text marker; padding fills the sequence up to MaxLength.
func (t *Tokenizer) Encode(text string, opts Options) (Inputs, error) {
	ids, err := t.enc.Encode(text, true)
	if err != nil {
		return Inputs{}, fmt.Errorf("tokenizer: encoding: %w", err)
	}

	covered := strings.Join(strings.Fields(text), " ")
	if len(ids) > t.cfg.MaxLength {
		if !opts.Truncation {
			return Inputs{}, fmt.Errorf("%w: %d > %d", ErrTooLong, len(ids), t.cfg.MaxLength)
		}
		kept := make([]int64, 0, t.cfg.MaxLength)
		kept = append(kept, ids[:t.cfg.MaxLength-1]...)
		ids = append(kept, ids[len(ids)-1])

		// Report only what survived the cut.
		decoded, err := t.enc.Decode(ids, true)
		if err != nil {
			return Inputs{}, fmt.Errorf("tokenizer: decoding kept tokens: %w", err)
		}
		covered = strings.Join(strings.Fields(strings.ReplaceAll(decoded, wordEnd, " ")), " ")
	}

	mask := make([]int64, len(ids), t.cfg.MaxLength)
	for i := range mask {
		mask[i] = 1
	}
	if opts.Padding {
		for len(ids) < t.cfg.MaxLength {
			ids = append(ids, t.pad)
			mask = append(mask, 0)
		}
	}

	return Inputs{
		InputIDs:      ids,
		AttentionMask: mask,
		Text:          covered,
	}, nil
}

// Close releases the underlying encoder when it holds native resources.
func (t *Tokenizer) Close() error {
	if c, ok := t.enc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// tokenizerConfig is the subset of tokenizer_config.json we read.
type tokenizerConfig struct {
	ModelMaxLength float64         `json:"model_max_length"`
	PadToken       json.RawMessage `json:"pad_token"`
}

// ParseConfig reads the context length and pad token from tokenizer_config.json.
// Missing fields keep the CLIP defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}
	var tc tokenizerConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return Config{}, fmt.Errorf("tokenizer: decoding config: %w", err)
	}
	// Some configs advertise an effectively unbounded length; keep the CLIP context then.
	if tc.ModelMaxLength >= 2 && tc.ModelMaxLength <= 1<<20 {
		cfg.MaxLength = int(tc.ModelMaxLength)
	}
	pad, err := specialToken(tc.PadToken)
	if err != nil {
		return Config{}, err
	}
	if pad != "" {
		cfg.PadToken = pad
	}
	return cfg, nil
}

// specialToken accepts either "token" or {"content": "token"}.
func specialToken(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("tokenizer: decoding special token: %w", err)
	}
	return obj.Content, nil
}
