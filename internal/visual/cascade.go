package visual

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MimeLyc/faceless-video/internal/metrics"
	"github.com/MimeLyc/faceless-video/internal/scene"
	"github.com/MimeLyc/faceless-video/pkg/log"
	"github.com/sony/gobreaker"
)

const DefaultRequestDelay = 1500 * time.Millisecond

var (
	errTooSmall = errors.New("response too small to be an image")
	errNotImage = errors.New("response is not an image")
)

// DefaultTiers is the production order: generated art, then stock photos.
// Empty base URLs select the public endpoints.
func DefaultTiers(pollinationsURL, picsumURL string, timeout time.Duration) []Tier {
	return []Tier{
		{
			Provider: NewPollinations(pollinationsURL, timeout),
			Attempts: 3,
			Backoff:  []time.Duration{3 * time.Second, 8 * time.Second, 15 * time.Second},
			MinBytes: 5000,
		},
		{
			Provider: NewPicsum(picsumURL, timeout),
			Attempts: 2,
			Backoff:  []time.Duration{3 * time.Second},
			MinBytes: 1000,
		},
	}
}

type Options struct {
	// Tiers are the network providers in priority order. Leave empty to
	// always use the local fallback.
	Tiers        []Tier
	Fallback     Provider
	Width        int
	Height       int
	RequestDelay time.Duration
	// Sleep waits between attempts; it returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
}

type tierState struct {
	Tier
	breaker *gobreaker.CircuitBreaker
}

// Cascade acquires one image per scene from the first tier that returns a
// valid image, ending with a local fallback that always succeeds.
type Cascade struct {
	tiers    []tierState
	fallback Provider
	width    int
	height   int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	usedNetwork bool
}

func NewCascade(opts Options) *Cascade {
	c := &Cascade{
		fallback: opts.Fallback,
		width:    opts.Width,
		height:   opts.Height,
		delay:    opts.RequestDelay,
		sleep:    opts.Sleep,
	}
	if c.fallback == nil {
		c.fallback = GradientProvider{}
	}
	if c.width <= 0 {
		c.width = 1280
	}
	if c.height <= 0 {
		c.height = 720
	}
	if c.delay < 0 {
		c.delay = 0
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	for _, t := range opts.Tiers {
		if t.Provider == nil {
			continue
		}
		if t.Attempts <= 0 {
			t.Attempts = 1
		}
		c.tiers = append(c.tiers, tierState{Tier: t, breaker: newBreaker(t.Provider.Name())})
	}
	return c
}

// newBreaker trips once most of the recent requests to a provider failed,
// so later scenes skip it instead of paying its full retry budget.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("image provider %s circuit %s -> %s", name, from, to)
		},
	})
}

// Acquire writes the image for scene index to outBase plus an extension
// matching the image format. Provider exhaustion is not an error; only a
// failure to produce or store the local fallback is.
func (c *Cascade) Acquire(ctx context.Context, index int, sc scene.Scene, outBase string) (SceneAsset, error) {
	req := Request{Index: index, Text: sc.Text, Width: c.width, Height: c.height}
	asset := SceneAsset{Index: index, Start: sc.Start, End: sc.End, Duration: sc.Duration()}

	if err := os.MkdirAll(filepath.Dir(outBase), 0o755); err != nil {
		return SceneAsset{}, fmt.Errorf("create image directory: %w", err)
	}

	if len(c.tiers) > 0 && ctx.Err() == nil {
		c.waitBetweenScenes(ctx)
		for i := range c.tiers {
			data, ok := c.tryTier(ctx, &c.tiers[i], req)
			if !ok {
				continue
			}
			c.markNetwork(true)
			path, err := writeImage(outBase, data)
			if err != nil {
				return SceneAsset{}, err
			}
			asset.Path, asset.Source = path, c.tiers[i].Provider.Name()
			metrics.IncVisualAsset(asset.Source)
			log.Info("Scene %d ready [%s]: %s", index+1, asset.Source, path)
			return asset, nil
		}
		c.markNetwork(true)
	}

	log.Info("Scene %d: generating local %s image", index+1, c.fallback.Name())
	data, err := c.fallback.Fetch(ctx, req)
	if err != nil {
		return SceneAsset{}, fmt.Errorf("local fallback image: %w", err)
	}
	path, err := writeImage(outBase, data)
	if err != nil {
		return SceneAsset{}, err
	}
	asset.Path, asset.Source = path, c.fallback.Name()
	metrics.IncVisualAsset(asset.Source)
	return asset, nil
}

func (c *Cascade) tryTier(ctx context.Context, t *tierState, req Request) ([]byte, bool) {
	name := t.Provider.Name()
	// In-flight requests are not interrupted by shutdown; the client
	// timeout bounds them instead.
	fetchCtx := context.WithoutCancel(ctx)

	for attempt := 0; attempt < t.Attempts; attempt++ {
		res, err := t.breaker.Execute(func() (interface{}, error) {
			data, err := t.Provider.Fetch(fetchCtx, req)
			if err != nil {
				return nil, err
			}
			if err := validateImage(data, t.MinBytes); err != nil {
				return nil, err
			}
			return data, nil
		})
		if err == nil {
			metrics.IncVisualFetch(name, "ok")
			return res.([]byte), true
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.IncVisualFetch(name, "open_circuit")
			log.Warn("Scene %d: %s skipped, circuit open", req.Index+1, name)
			return nil, false
		}
		if errors.Is(err, errTooSmall) || errors.Is(err, errNotImage) {
			metrics.IncVisualFetch(name, "invalid")
		} else {
			metrics.IncVisualFetch(name, "error")
		}
		log.Warn("Scene %d: %s attempt %d/%d failed: %v", req.Index+1, name, attempt+1, t.Attempts, err)

		if attempt < t.Attempts-1 {
			if err := c.sleep(ctx, backoff(t.Backoff, attempt)); err != nil {
				return nil, false
			}
		}
	}
	return nil, false
}

func (c *Cascade) waitBetweenScenes(ctx context.Context) {
	c.mu.Lock()
	wait := c.usedNetwork && c.delay > 0
	c.mu.Unlock()
	if wait {
		_ = c.sleep(ctx, c.delay)
	}
}

func (c *Cascade) markNetwork(used bool) {
	c.mu.Lock()
	c.usedNetwork = used
	c.mu.Unlock()
}

func backoff(steps []time.Duration, attempt int) time.Duration {
	if len(steps) == 0 {
		return 0
	}
	if attempt >= len(steps) {
		return steps[len(steps)-1]
	}
	return steps[attempt]
}

func validateImage(data []byte, minBytes int) error {
	if len(data) < minBytes {
		return fmt.Errorf("%w (%d bytes)", errTooSmall, len(data))
	}
	if imageExt(data) == "" {
		return errNotImage
	}
	return nil
}

// imageExt sniffs JPEG, PNG and WEBP signatures.
func imageExt(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xff, 0xd8}):
		return ".jpg"
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return ".png"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return ".webp"
	default:
		return ""
	}
}

func writeImage(outBase string, data []byte) (string, error) {
	ext := imageExt(data)
	if ext == "" {
		return "", errNotImage
	}
	path := outBase + ext
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write scene image: %w", err)
	}
	return path, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
