package visual

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
)

const (
	DefaultPollinationsURL = "https://image.pollinations.ai"
	styleSuffix            = ", cinematic lighting, digital art, vibrant colors, 4k, detailed background, no text, no watermark"
)

type pollinationsQuery struct {
	Width  int  `url:"width"`
	Height int  `url:"height"`
	NoLogo bool `url:"nologo"`
	Seed   int  `url:"seed"`
}

// Pollinations generates an image from the scene text.
type Pollinations struct {
	baseURL string
	client  *http.Client
}

func NewPollinations(baseURL string, timeout time.Duration) *Pollinations {
	if baseURL == "" {
		baseURL = DefaultPollinationsURL
	}
	return &Pollinations{baseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(timeout)}
}

func (p *Pollinations) Name() string { return SourcePollinations }

func (p *Pollinations) Fetch(ctx context.Context, req Request) ([]byte, error) {
	u, err := p.url(req)
	if err != nil {
		return nil, err
	}
	return download(ctx, p.client, u)
}

func (p *Pollinations) url(req Request) (string, error) {
	values, err := query.Values(pollinationsQuery{
		Width:  req.Width,
		Height: req.Height,
		NoLogo: true,
		Seed:   req.Index + 42,
	})
	if err != nil {
		return "", fmt.Errorf("encode pollinations query: %w", err)
	}
	return p.baseURL + "/prompt/" + url.PathEscape(visualPrompt(req.Text)) + "?" + values.Encode(), nil
}

func visualPrompt(text string) string {
	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		clean = fallbackPrompt
	}
	if r := []rune(clean); len(r) > maxPromptLength {
		clean = string(r[:maxPromptLength])
	}
	return clean + styleSuffix
}
