package transcribe

import (
	"strings"
	"time"

	"golang.org/x/text/language"
)

type Word struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Segment is one timed span of speech as reported by the engine.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
	Words []Word
}

type Result struct {
	Segments []Segment
	Language language.Tag
}

// Text joins all segment texts with single spaces.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
