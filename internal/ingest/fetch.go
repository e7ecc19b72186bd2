package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// minArticleLen is the extracted-text length below which a page is
// assumed to be script-rendered and retried through a headless browser.
const minArticleLen = 200

// Fetcher turns a URL into clean article text. Plain HTTP plus
// readability extraction handles most pages; script-rendered pages fall
// back to a headless Chrome render.
type Fetcher struct {
	UserAgent string
	Client    *http.Client

	// RenderFallback enables the headless-browser retry for pages
	// whose static HTML yields almost no text.
	RenderFallback bool
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Client:         &http.Client{Timeout: 30 * time.Second},
		RenderFallback: true,
	}
}

// FetchArticle returns the page title and sanitized article text.
func (f *Fetcher) FetchArticle(ctx context.Context, pageURL string) (string, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse URL: %w", err)
	}

	title, text, err := f.fetchStatic(ctx, pageURL, parsed)
	if err == nil && len(text) >= minArticleLen {
		return title, text, nil
	}

	if f.RenderFallback {
		if rTitle, rText, rErr := f.fetchRendered(ctx, pageURL, parsed); rErr == nil && len(rText) > len(text) {
			return rTitle, rText, nil
		}
	}

	if err != nil {
		return "", "", err
	}
	if text == "" {
		return "", "", fmt.Errorf("no article content found at %s", pageURL)
	}
	return title, text, nil
}

func (f *Fetcher) fetchStatic(ctx context.Context, pageURL string, parsed *url.URL) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse article: %w", err)
	}
	return article.Title, sanitize(article.TextContent), nil
}

// fetchRendered loads the page in headless Chrome and runs readability
// over the rendered DOM.
func (f *Fetcher) fetchRendered(ctx context.Context, pageURL string, parsed *url.URL) (string, string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	renderCtx, cancel := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancel()

	var html string
	err := chromedp.Run(renderCtx,
		chromedp.Navigate(pageURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to render page: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse rendered article: %w", err)
	}
	return article.Title, sanitize(article.TextContent), nil
}

// sanitize strips any markup readability left behind.
func sanitize(text string) string {
	p := bluemonday.StrictPolicy()
	return strings.TrimSpace(p.Sanitize(text))
}
