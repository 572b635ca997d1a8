// Package text prepares narration text for speech synthesis and subtitle
// timing.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

// Regex patterns for text preprocessing.
const (
	referenceRegexPattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern = `\s+`
)

// Punctuation that ends a subtitle line, in both CJK and Latin forms.
const splitPunctuation = "，。！？；：、,!?;:\n…"

// Preprocessor cleans narration text before it is sent to the synthesizer.
type Preprocessor struct {
	referencePattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp
	quoteReplacer     *strings.Replacer
}

// NewPreprocessor creates a new text preprocessor with compiled patterns and replacers.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		quoteReplacer: strings.NewReplacer(
			"—", "-", "–", "-", "‒", "-",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Clean removes reference markers, normalizes quotes and dashes, collapses
// whitespace and trims the result. CJK punctuation is left untouched.
func (p *Preprocessor) Clean(text string) string {
	if text == "" {
		return text
	}

	cleaned := p.referencePattern.ReplaceAllString(text, "")
	cleaned = p.quoteReplacer.Replace(cleaned)
	cleaned = p.whitespacePattern.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned)
}

// SplitByPunctuation splits text into subtitle lines at sentence and clause
// punctuation. A period only splits when it is not between two digits, so
// "3.14" stays whole. Empty lines are dropped.
func SplitByPunctuation(text string) []string {
	runes := []rune(text)
	lines := make([]string, 0)

	var current strings.Builder

	flush := func() {
		line := strings.TrimSpace(current.String())
		if line != "" {
			lines = append(lines, line)
		}

		current.Reset()
	}

	for i, char := range runes {
		if isSplitRune(runes, i) {
			flush()

			continue
		}

		current.WriteRune(char)
	}

	flush()

	return lines
}

func isSplitRune(runes []rune, i int) bool {
	char := runes[i]

	if strings.ContainsRune(splitPunctuation, char) {
		return true
	}

	if char != '.' {
		return false
	}

	if i > 0 && i < len(runes)-1 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}

	return true
}
