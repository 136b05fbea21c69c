package media

import (
	"time"
)

type VisualKind string

const (
	// VisualSlideshow shows one still image per scene.
	VisualSlideshow VisualKind = "slideshow"
	// VisualWaveform renders the audio as an animated waveform.
	VisualWaveform VisualKind = "waveform"
	// VisualStaticText draws a single caption on a flat background.
	VisualStaticText VisualKind = "static_text"
)

// Frame is one still image held on screen for Duration.
type Frame struct {
	Path     string
	Duration time.Duration
}

type VisualSource struct {
	Kind   VisualKind
	Frames []Frame
	Text   string
}

func Slideshow(frames []Frame) VisualSource {
	return VisualSource{Kind: VisualSlideshow, Frames: frames}
}

func Waveform() VisualSource {
	return VisualSource{Kind: VisualWaveform}
}

func StaticText(text string) VisualSource {
	return VisualSource{Kind: VisualStaticText, Text: text}
}

// ComposeRequest describes one finished video. SubtitlePath is optional and
// burned into the picture when set. Duration is the audio length and is
// required by the generated visuals.
type ComposeRequest struct {
	Visual       VisualSource
	AudioPath    string
	SubtitlePath string
	OutputPath   string
	Duration     time.Duration
}
