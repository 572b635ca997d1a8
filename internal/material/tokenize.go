package material

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/huichen/sego"
)

// ErrDictionaryMissing is returned when a segmenter dictionary path does not exist.
var ErrDictionaryMissing = errors.New("segmenter dictionary not found")

// Tokenizer turns a search phrase into candidate tags.
type Tokenizer struct {
	segmenter *sego.Segmenter
}

// NewTokenizer returns a tokenizer that splits on every rune that is neither
// a letter nor a digit.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{segmenter: nil}
}

// NewSegmentingTokenizer additionally splits runs of Han characters into
// words using the sego dictionary at dictionaryPath.
func NewSegmentingTokenizer(dictionaryPath string) (*Tokenizer, error) {
	// sego exits the process on a missing dictionary, so check first.
	_, err := os.Stat(dictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDictionaryMissing, err)
	}

	var segmenter sego.Segmenter

	segmenter.LoadDictionary(dictionaryPath)

	return &Tokenizer{segmenter: &segmenter}, nil
}

// Tokens returns the lower-cased, deduplicated tokens of phrase in order.
func (t *Tokenizer) Tokens(phrase string) []string {
	fields := splitWords(strings.ToLower(phrase))

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))

	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}

		if _, dup := seen[token]; dup {
			return
		}

		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	for _, field := range fields {
		add(field)

		if t.segmenter == nil || !containsHan(field) {
			continue
		}

		for _, word := range sego.SegmentsToSlice(t.segmenter.Segment([]byte(field)), true) {
			if hasLetterOrDigit(word) {
				add(word)
			}
		}
	}

	return tokens
}

// matcher decides whether an index tag matches a tokenized phrase.
type matcher struct {
	tokens  map[string]struct{}
	ordered []string
	compact string
}

func newMatcher(phrase string, tokens []string) *matcher {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}

	lowered := strings.ToLower(phrase)

	return &matcher{
		tokens:  set,
		ordered: splitWords(lowered),
		compact: strings.Join(splitWords(lowered), ""),
	}
}

// matches reports whether tag occurs in the phrase. A tag matches when it is
// one of the tokens, when its own words appear consecutively in the phrase,
// or, for Han tags, when it is a substring of the phrase.
func (m *matcher) matches(tag string) bool {
	if _, ok := m.tokens[tag]; ok {
		return true
	}

	if containsHan(tag) {
		return strings.Contains(m.compact, strings.Join(splitWords(tag), ""))
	}

	words := splitWords(tag)
	if len(words) < 2 {
		return false
	}

	return containsRun(m.ordered, words)
}

func containsRun(haystack, needle []string) bool {
	for start := 0; start+len(needle) <= len(haystack); start++ {
		found := true

		for offset, word := range needle {
			if haystack[start+offset] != word {
				found = false

				break
			}
		}

		if found {
			return true
		}
	}

	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !hasLetterOrDigitRune(r)
	})
}

func hasLetterOrDigitRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func hasLetterOrDigit(s string) bool {
	return strings.IndexFunc(s, hasLetterOrDigitRune) >= 0
}

func containsHan(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.Is(unicode.Han, r)
	}) >= 0
}
