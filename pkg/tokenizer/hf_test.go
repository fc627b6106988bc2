package tokenizer

import (
	"os"
	"testing"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadTinyCLIP loads a CLIP-shaped byte-level BPE tokenizer with a handful of
// merges. It skips when the native tokenizers library is not installed.
func loadTinyCLIP(t *testing.T, maxLen int) *Tokenizer {
	t.Helper()
	if os.Getenv("TOKENIZERS_LIB_PATH") == "" && !tokenizers.IsLibraryCached() {
		t.Skip("native tokenizers library not available")
	}
	data, err := os.ReadFile("testdata/clip_tiny_tokenizer.json")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxLength = maxLen
	tok, err := FromBytes(data, cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tok.Close() })
	return tok
}

func TestFromBytes_AppliesMerges(t *testing.T) {
	tok := loadTinyCLIP(t, DefaultMaxLength)

	in, err := tok.Encode("cats", Options{})
	require.NoError(t, err)
	// One merged token, not "cat" followed by "s</w>".
	assert.Equal(t, []int64{49406, 10, 49407}, in.InputIDs)

	in, err = tok.Encode("A  CAT", Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{49406, 4, 9, 49407}, in.InputIDs)
}

func TestFromBytes_ByteLevelCoversNonLatinText(t *testing.T) {
	tok := loadTinyCLIP(t, DefaultMaxLength)

	in, err := tok.Encode("猫", Options{})
	require.NoError(t, err)
	// The three UTF-8 bytes merge into a vocabulary entry instead of unk.
	assert.Equal(t, []int64{49406, 15, 49407}, in.InputIDs)
}

func TestFromBytes_PaddingAndTruncation(t *testing.T) {
	tok := loadTinyCLIP(t, 3)

	in, err := tok.Encode("a cat cats", Options{Padding: true, Truncation: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{49406, 4, 49407}, in.InputIDs)
	assert.Equal(t, []int64{1, 1, 1}, in.AttentionMask)
	assert.Equal(t, "a", in.Text)

	tok = loadTinyCLIP(t, 6)
	in, err = tok.Encode("cat", Options{Padding: true, Truncation: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{49406, 9, 49407, 49407, 49407, 49407}, in.InputIDs)
	assert.Equal(t, 3, in.Len())
}

func TestFromBytes_InvalidJSON(t *testing.T) {
	if os.Getenv("TOKENIZERS_LIB_PATH") == "" && !tokenizers.IsLibraryCached() {
		t.Skip("native tokenizers library not available")
	}
	_, err := FromBytes([]byte(`{"model": 1}`), DefaultConfig(), "")
	assert.Error(t, err)
}

func TestFromBytes_MissingLibraryPath(t *testing.T) {
	_, err := FromBytes([]byte(`{}`), DefaultConfig(), "/nonexistent/libtokenizers.so")
	assert.ErrorContains(t, err, TokenizerFile)
}
