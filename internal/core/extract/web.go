package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/beaconkb/beacon/internal/core"
)

// PageFetcher fetches a web page and strips it down to its readable text.
type PageFetcher struct {
	client *http.Client
}

var _ core.WebFetcher = (*PageFetcher)(nil)

func NewPageFetcher(client *http.Client) *PageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PageFetcher{client: client}
}

func (f *PageFetcher) Fetch(ctx context.Context, pageURL string) (*core.FetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "beacon-ingest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	page, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page.Find("script, style, noscript, iframe").Remove()

	title := strings.TrimSpace(page.Find("title").First().Text())

	var parts []string
	page.Find("body").Each(func(_ int, sel *goquery.Selection) {
		parts = append(parts, sel.Text())
	})
	text := collapseWhitespace(strings.Join(parts, "\n"))

	return &core.FetchedPage{Title: title, Text: text}, nil
}

// collapseWhitespace squeezes runs of blank lines and intra-line whitespace
// left behind by stripped markup.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
