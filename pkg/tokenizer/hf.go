package tokenizer

import (
	"fmt"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
)

// TokenizerFile is the serialized tokenizer shipped with HuggingFace models.
const TokenizerFile = "tokenizer.json"

// FromBytes loads the byte-level BPE model described by a tokenizer.json file.
// libraryPath points at the native tokenizers library; when empty it is
// resolved from TOKENIZERS_LIB_PATH or the shared cache and downloaded on
// first use.
func FromBytes(tokenizerJSON []byte, cfg Config, libraryPath string) (*Tokenizer, error) {
	var opts []tokenizers.TokenizerOption
	if libraryPath != "" {
		opts = append(opts, tokenizers.WithLibraryPath(libraryPath))
	}
	native, err := tokenizers.FromBytes(tokenizerJSON, opts...)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: loading %s: %w", TokenizerFile, err)
	}
	t, err := New(&hfEncoder{tk: native}, cfg)
	if err != nil {
		_ = native.Close()
		return nil, err
	}
	return t, nil
}

// hfEncoder adapts the tokenizers runtime to Encoder.
type hfEncoder struct {
	tk *tokenizers.Tokenizer
}

func (e *hfEncoder) Encode(text string, addSpecialTokens bool) ([]int64, error) {
	var opts []tokenizers.EncodeOption
	if addSpecialTokens {
		opts = append(opts, tokenizers.WithAddSpecialTokens())
	}
	res, err := e.tk.Encode(text, opts...)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(res.IDs))
	for i, id := range res.IDs {
		ids[i] = int64(id)
	}
	return ids, nil
}

func (e *hfEncoder) Decode(ids []int64, skipSpecialTokens bool) (string, error) {
	raw := make([]uint32, len(ids))
	for i, id := range ids {
		raw[i] = uint32(id)
	}
	return e.tk.Decode(raw, skipSpecialTokens)
}

func (e *hfEncoder) Close() error {
	return e.tk.Close()
}
