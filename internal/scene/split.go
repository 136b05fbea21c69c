// Package scene groups timed transcript segments into fixed-length scenes,
// one visual per scene.
package scene

import (
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/internal/transcribe"
)

const DefaultDuration = 5 * time.Second

type Scene struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

func (s Scene) Duration() time.Duration {
	return s.End - s.Start
}

// Split accumulates segments until the open scene spans at least target,
// then starts the next scene where the previous one ended. A trailing
// partial group becomes the last scene. Scenes are contiguous and their
// texts, joined with spaces, reproduce the segment texts.
func Split(segments []transcribe.Segment, target time.Duration) []Scene {
	if len(segments) == 0 {
		return nil
	}
	if target <= 0 {
		target = DefaultDuration
	}

	ret := make([]Scene, 0, len(segments))
	start := segments[0].Start
	end := start
	texts := make([]string, 0, 4)
	pending := false

	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			texts = append(texts, text)
		}
		if seg.End > end {
			end = seg.End
		}
		pending = true

		if end-start >= target {
			ret = append(ret, Scene{Start: start, End: end, Text: strings.Join(texts, " ")})
			start = end
			texts = texts[:0]
			pending = false
		}
	}

	if pending {
		ret = append(ret, Scene{Start: start, End: end, Text: strings.Join(texts, " ")})
	}
	return ret
}

// Texts returns the scene texts in order.
func Texts(scenes []Scene) []string {
	ret := make([]string, 0, len(scenes))
	for _, s := range scenes {
		ret = append(ret, s.Text)
	}
	return ret
}
