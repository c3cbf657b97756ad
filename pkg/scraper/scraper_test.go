package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/jobimport/internal/models"
)

func testScraper(config ScraperConfig) *Scraper {
	if config.RateLimit == 0 {
		config.RateLimit = 100
	}
	if config.RetryWait == 0 {
		config.RetryWait = time.Millisecond
	}
	return NewWithConfig(config)
}

func TestScraperConfig(t *testing.T) {
	s := NewWithConfig(ScraperConfig{MaxDepth: 2, IgnorePatterns: []string{"/ignore/"}})
	assert.Equal(t, 2, s.config.MaxDepth)
	assert.Equal(t, 10*time.Second, s.config.Timeout)
	assert.Equal(t, 10*time.Second, s.client.Timeout)
	assert.NotEmpty(t, s.config.UserAgent)
}

func TestShouldProcessURL(t *testing.T) {
	s := NewWithConfig(ScraperConfig{IgnorePatterns: []string{"/ignore/", "private"}})
	c := &crawl{scraper: s, baseHost: "example.com", visited: map[string]bool{}}

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/docs/", true},
		{"https://example.com/page.html", true},
		{"https://example.com/jobs/42", true},
		{"https://example.com/ignore/page.html", false},
		{"https://example.com/private/page.html", false},
		{"https://other-domain.com/page.html", false},
		{"https://example.com/file.pdf", false},
		{"mailto:jobs@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.shouldProcessURL(u))
		})
	}
}

func TestFetchWithMockServer(t *testing.T) {
	// Create a mock server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`
			<html>
				<head><title>Test Page</title><script>var x = 1;</script></head>
				<body>
					<nav>Home | Jobs</nav>
					<main>
						<h1>Test Content</h1>
						<p>This is a   test paragraph.</p>
						<a href="/page2.html">Link</a>
					</main>
					<footer>Privacy Policy</footer>
				</body>
			</html>
		`))
	}))
	defer server.Close()

	s := testScraper(ScraperConfig{})

	docs, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, server.URL, doc.URL)
	assert.Equal(t, "Test Page", doc.Title)
	assert.NotEmpty(t, doc.ID)
	assert.Contains(t, doc.Content, "Test Content\nThis is a test paragraph.")
	assert.NotContains(t, doc.Content, "var x")
	assert.NotContains(t, doc.Content, "Home | Jobs")
	assert.NotContains(t, doc.Content, "Privacy Policy")
	assert.Equal(t, 0, doc.Metadata["depth"])
}

func TestFetchSeparatesBlockElements(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<h1>Senior Engineer</h1><p>Acme Corp</p>`))
	}))
	defer server.Close()

	docs, err := testScraper(ScraperConfig{}).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Senior Engineer\nAcme Corp", docs[0].Content)
}

func TestFetchDropsInvalidUTF8(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<h1>Senior Engineer</h1><p>Acme \xff Corp</p>"))
	}))
	defer server.Close()

	docs, err := testScraper(ScraperConfig{}).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, utf8.ValidString(docs[0].Content))
	assert.Contains(t, docs[0].Content, "Senior Engineer")
	assert.Contains(t, docs[0].Content, "Corp")
}

func TestFetchFollowsLinksToMaxDepth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<main><p>root</p><p><a href="/a">a</a></p><p><a href="https://elsewhere.test/x">x</a></p></main>`))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<main><p>page a</p><a href="/b">b</a><a href="/">root</a></main>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<main><p>page b</p></main>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var progress int32
	s := testScraper(ScraperConfig{
		MaxDepth:   1,
		OnProgress: func(string) { atomic.AddInt32(&progress, 1) },
	})

	docs, err := s.Fetch(context.Background(), server.URL+"/")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "root\na\nx", docs[0].Content)
	assert.Equal(t, server.URL+"/a", docs[1].URL)
	assert.Equal(t, int32(2), atomic.LoadInt32(&progress))
}

func TestFetchNonSuccessStatus(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := testScraper(ScraperConfig{Retries: 1}).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFetch)

	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	// 404 is not retried
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchRetriesServerErrorOnce(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<p>second time lucky</p>`))
	}))
	defer server.Close()

	docs, err := testScraper(ScraperConfig{Retries: 1}).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "second time lucky", docs[0].Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := testScraper(ScraperConfig{}).Fetch(context.Background(), addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFetch)
}

func TestFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := testScraper(ScraperConfig{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFetch)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com/job", "/relative/path"} {
		t.Run(raw, func(t *testing.T) {
			_, err := New().Fetch(context.Background(), raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrFetch)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}
