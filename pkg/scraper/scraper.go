package scraper

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/pkg/retry"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 5 << 20

type ScraperConfig struct {
	MaxDepth       int     // 0 fetches only the requested page
	RateLimit      float64 // requests per second
	Timeout        time.Duration
	Retries        int
	RetryWait      time.Duration
	UserAgent      string
	IgnorePatterns []string
	OnProgress     func(url string)
	Logger         *slog.Logger
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RetryWait == 0 {
		config.RetryWait = time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; jobimport/1.0)"
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     log,
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{Retries: 1})
}

// Fetch retrieves rawURL and, up to MaxDepth, same-host pages it links to.
// Only a failure on rawURL itself is returned; linked pages that fail are skipped.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) ([]models.SourceDocument, error) {
	base, err := parseHTTPURL(rawURL)
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}

	c := &crawl{
		scraper:  s,
		baseHost: base.Host,
		visited:  make(map[string]bool),
	}
	if err := c.visit(ctx, base.String(), 0); err != nil {
		return nil, err
	}
	return c.documents, nil
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &models.ValidationError{Field: "url", Message: err.Error()}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &models.ValidationError{Field: "url", Message: "must be an absolute http or https URL"}
	}
	u.Fragment = ""
	return u, nil
}

// crawl holds the state of a single Fetch call.
type crawl struct {
	scraper   *Scraper
	baseHost  string
	visited   map[string]bool
	documents []models.SourceDocument
}

func (c *crawl) visit(ctx context.Context, urlStr string, depth int) error {
	s := c.scraper
	if depth > s.config.MaxDepth || c.visited[urlStr] {
		return nil
	}
	c.visited[urlStr] = true

	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	policy := retry.Once(s.config.RetryWait)
	policy.MaxAttempts = s.config.Retries + 1
	policy.Retryable = models.IsRetryable
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		s.log.Warn("retrying fetch", "url", urlStr, "attempt", attempt, "delay", wait, "error", err)
	}

	p, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*page, error) {
		return s.get(ctx, urlStr)
	})
	if err != nil {
		return err
	}
	doc, resp := p.doc, p.resp

	content := s.extractMainContent(doc)
	document := models.SourceDocument{
		ID:      contentID(urlStr),
		URL:     urlStr,
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Content: content,
		Metadata: map[string]interface{}{
			"depth":        depth,
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}
	c.documents = append(c.documents, document)

	if depth >= s.config.MaxDepth {
		return nil
	}

	// Find and follow links
	for _, link := range c.links(doc, urlStr) {
		if err := c.visit(ctx, link, depth+1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("skipping linked page", "url", link, "error", err)
		}
	}
	return nil
}

type page struct {
	doc  *goquery.Document
	resp *http.Response
}

func (s *Scraper) get(ctx context.Context, urlStr string) (*page, error) {
	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &models.FetchError{URL: urlStr, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &models.FetchError{URL: urlStr, Err: err}
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &models.FetchError{URL: urlStr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &models.FetchError{URL: urlStr, StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &models.FetchError{URL: urlStr, Err: fmt.Errorf("parse html: %w", err)}
	}
	return &page{doc: doc, resp: resp}, nil
}

func (c *crawl) links(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var out []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, exists := selection.Attr("href")
		if !exists {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			c.scraper.log.Debug("error parsing link", "href", href, "error", err)
			return
		}

		// Make sure the URL is absolute
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if c.shouldProcessURL(abs) {
			out = append(out, abs.String())
		}
	})
	return out
}

var skippedExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".zip": true, ".css": true, ".js": true, ".ico": true,
}

func (c *crawl) shouldProcessURL(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	// Check if URL is from the same host
	if u.Host != c.baseHost {
		return false
	}

	if skippedExtensions[strings.ToLower(path.Ext(u.Path))] {
		return false
	}

	// Check ignore patterns
	urlStr := u.String()
	for _, pattern := range c.scraper.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template, svg, iframe, nav, footer").Remove()

	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		"[role=main]",
		".job-description",
		"#content",
		".content",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = blockText(selected)
			if strings.TrimSpace(content) != "" {
				break
			}
		}
	}

	// Fallback to body if no main content found
	if strings.TrimSpace(content) == "" {
		content = blockText(doc.Find("body"))
	}

	return cleanContent(content)
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true, "figure": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// blockText is Selection.Text with line breaks around block elements,
// so "<h1>a</h1><p>b</p>" reads as two lines rather than "ab".
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			block := blockElements[n.Data]
			if block {
				b.WriteByte('\n')
			}
			for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
				walk(ch)
			}
			if block {
				b.WriteByte('\n')
			}
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}

var noiseLines = map[string]bool{
	"cookie policy":    true,
	"accept cookies":   true,
	"privacy policy":   true,
	"terms of service": true,
}

func cleanContent(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		// Remove extra whitespace
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || noiseLines[strings.ToLower(line)] {
			continue
		}
		lines = append(lines, line)
	}
	return strings.ToValidUTF8(strings.Join(lines, "\n"), "")
}

func contentID(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
