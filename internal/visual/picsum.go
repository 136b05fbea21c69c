package visual

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"
)

const DefaultPicsumURL = "https://picsum.photos"

// Picsum fetches a stock photo from the seeded endpoint. The seed comes from
// the scene text so the same transcript always gets the same pictures.
type Picsum struct {
	baseURL string
	client  *http.Client
}

func NewPicsum(baseURL string, timeout time.Duration) *Picsum {
	if baseURL == "" {
		baseURL = DefaultPicsumURL
	}
	return &Picsum{baseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(timeout)}
}

func (p *Picsum) Name() string { return SourcePicsum }

func (p *Picsum) Fetch(ctx context.Context, req Request) ([]byte, error) {
	return download(ctx, p.client, p.url(req))
}

func (p *Picsum) url(req Request) string {
	return fmt.Sprintf("%s/seed/%d/%d/%d", p.baseURL, textSeed(req.Text), req.Width, req.Height)
}

func textSeed(text string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(text)))
	return h.Sum32() % 1000
}
