package visual

import (
	"context"
	"time"
)

const (
	SourcePollinations = "pollinations"
	SourcePicsum       = "picsum"
	SourceGradient     = "gradient"
)

// Request identifies the image wanted for one scene.
type Request struct {
	Index  int
	Text   string
	Width  int
	Height int
}

// Provider returns raw image bytes for a scene.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Tier is one step of the cascade with its own retry budget and
// acceptance rule.
type Tier struct {
	Provider Provider
	Attempts int
	// Backoff[i] is waited after the (i+1)-th failed attempt; the last
	// entry repeats.
	Backoff  []time.Duration
	MinBytes int
}

// SceneAsset is the image chosen for one scene and the provider that
// produced it.
type SceneAsset struct {
	Index    int           `json:"index"`
	Path     string        `json:"path"`
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	Duration time.Duration `json:"duration"`
	Source   string        `json:"source"`
}
