package subtitle

import (
	"strings"

	"github.com/MimeLyc/faceless-video/internal/transcribe"
)

// DefaultWordsPerCue keeps burned-in captions short enough to read at a glance.
const DefaultWordsPerCue = 5

// FromSegments builds cues from a transcript. Segments with word timings are
// split into cues of at most wordsPerCue words; the rest become one cue each.
func FromSegments(segments []transcribe.Segment, wordsPerCue int) *File {
	if wordsPerCue <= 0 {
		wordsPerCue = DefaultWordsPerCue
	}

	file := &File{Format: "SRT"}
	add := func(line Line) {
		line.Text = strings.TrimSpace(line.Text)
		if line.Text == "" {
			return
		}
		if line.EndTime < line.StartTime {
			line.EndTime = line.StartTime
		}
		line.Index = len(file.Lines) + 1
		file.Lines = append(file.Lines, line)
	}

	for _, seg := range segments {
		if len(seg.Words) == 0 {
			add(Line{StartTime: seg.Start, EndTime: seg.End, Text: seg.Text})
			continue
		}
		for start := 0; start < len(seg.Words); start += wordsPerCue {
			end := min(start+wordsPerCue, len(seg.Words))
			chunk := seg.Words[start:end]
			texts := make([]string, 0, len(chunk))
			for _, w := range chunk {
				if t := strings.TrimSpace(w.Text); t != "" {
					texts = append(texts, t)
				}
			}
			add(Line{
				StartTime: chunk[0].Start,
				EndTime:   chunk[len(chunk)-1].End,
				Text:      strings.Join(texts, " "),
			})
		}
	}

	texts := make([]string, 0, len(file.Lines))
	for _, l := range file.Lines {
		texts = append(texts, l.Text)
	}
	file.Language = transcribe.DetectLanguage(texts)
	return file
}
