package material

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer_Tokens(t *testing.T) {
	t.Parallel()

	tokenizer := NewTokenizer()

	assert.Equal(t, []string{"sky", "cloud", "nature"}, tokenizer.Tokens("Sky, cloud & NATURE sky"))
	assert.Equal(t, []string{"4k", "city", "night"}, tokenizer.Tokens("4K city-night"))
	assert.Equal(t, []string{"蓝色天空", "sky"}, tokenizer.Tokens("蓝色天空 sky"))
	assert.Empty(t, tokenizer.Tokens(" ,.!? "))
}

func TestNewSegmentingTokenizer_MissingDictionary(t *testing.T) {
	t.Parallel()

	_, err := NewSegmentingTokenizer(filepath.Join(t.TempDir(), "dictionary.txt"))
	require.ErrorIs(t, err, ErrDictionaryMissing)
}

func TestSegmentingTokenizer_Tokens(t *testing.T) {
	t.Parallel()

	dictionary := filepath.Join(t.TempDir(), "dictionary.txt")
	require.NoError(t, os.WriteFile(dictionary, []byte("天空 10 n\n白云 10 n\n"), 0o600))

	tokenizer, err := NewSegmentingTokenizer(dictionary)
	require.NoError(t, err)

	tokens := tokenizer.Tokens("天空白云 Sky")
	assert.Equal(t, "天空白云", tokens[0])
	assert.Subset(t, tokens, []string{"天空", "白云", "sky"})
	assert.Equal(t, []string{"sky"}, tokenizer.Tokens("sky"), "latin fields are not segmented")
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	phrase := "Blue sky over 城市夜景, with clouds"
	m := newMatcher(phrase, NewTokenizer().Tokens(phrase))

	tests := []struct {
		tag  string
		want bool
	}{
		{tag: "sky", want: true},
		{tag: "blue sky", want: true},
		{tag: "sky blue", want: false},
		{tag: "cloud", want: false},
		{tag: "clouds", want: true},
		{tag: "夜景", want: true},
		{tag: "城市", want: true},
		{tag: "森林", want: false},
		{tag: "bl", want: false},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.want, m.matches(testCase.tag), "tag %q", testCase.tag)
	}
}

func TestReorder(t *testing.T) {
	t.Parallel()

	a := &Asset{Path: "a"}
	b := &Asset{Path: "b"}
	c := &Asset{Path: "c"}

	got := reorder([]*Asset{a, b, c}, []int{3, 3, 0, 9, 1})
	assert.Equal(t, []*Asset{c, a, b}, got)

	assert.Equal(t, []*Asset{a, b, c}, reorder([]*Asset{a, b, c}, nil))
}
