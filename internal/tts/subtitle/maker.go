// Package subtitle builds SRT subtitles for synthesized narration whose
// engine reports no word timings.
package subtitle

import (
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/book-expert/material-service/internal/tts/text"
)

const cueFormat = "%d\n%s --> %s\n%s\n"

// Cue is one subtitle line with its display window.
type Cue struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Maker accumulates subtitle cues.
type Maker struct {
	cues []Cue
}

// NewMaker returns an empty Maker.
func NewMaker() *Maker {
	return &Maker{}
}

// Add appends a cue.
func (m *Maker) Add(start, end time.Duration, line string) {
	m.cues = append(m.cues, Cue{Start: start, End: end, Text: line})
}

// AddFromTextAndDuration splits text at punctuation and spreads duration
// over the lines in proportion to their character counts. Cues continue
// from the end of the last existing cue. Text made only of punctuation adds
// nothing.
func (m *Maker) AddFromTextAndDuration(narration string, duration time.Duration) {
	lines := text.SplitByPunctuation(narration)
	if len(lines) == 0 {
		return
	}

	totalChars := 0
	for _, line := range lines {
		totalChars += utf8.RuneCountInString(line)
	}

	perChar := float64(duration) / float64(totalChars)
	current := m.Duration()

	for _, line := range lines {
		lineDuration := time.Duration(float64(utf8.RuneCountInString(line)) * perChar)
		m.Add(current, current+lineDuration, line)
		current += lineDuration
	}
}

// Cues returns a copy of the accumulated cues.
func (m *Maker) Cues() []Cue {
	return append([]Cue(nil), m.cues...)
}

// Len returns the number of cues.
func (m *Maker) Len() int {
	return len(m.cues)
}

// Duration returns the end of the last cue.
func (m *Maker) Duration() time.Duration {
	if len(m.cues) == 0 {
		return 0
	}

	return m.cues[len(m.cues)-1].End
}

// WriteSRT writes the cues in SubRip format.
func (m *Maker) WriteSRT(w io.Writer) error {
	for i, cue := range m.cues {
		if i > 0 {
			_, err := io.WriteString(w, "\n")
			if err != nil {
				return fmt.Errorf("failed to write subtitle: %w", err)
			}
		}

		_, err := fmt.Fprintf(w, cueFormat, i+1, Timestamp(cue.Start), Timestamp(cue.End), cue.Text)
		if err != nil {
			return fmt.Errorf("failed to write subtitle: %w", err)
		}
	}

	return nil
}

// Timestamp formats d as HH:MM:SS,mmm.
func Timestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	millis := d.Milliseconds()
	hours := millis / int64(time.Hour/time.Millisecond)
	millis %= int64(time.Hour / time.Millisecond)
	minutes := millis / int64(time.Minute/time.Millisecond)
	millis %= int64(time.Minute / time.Millisecond)
	seconds := millis / int64(time.Second/time.Millisecond)
	millis %= int64(time.Second / time.Millisecond)

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
