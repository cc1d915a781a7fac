// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher(allowPrivate bool) *Fetcher {
	log, _ := test.NewNullLogger()
	return NewFetcher(FetchConfig{AllowPrivate: allowPrivate, MaxBytes: 4096}, log)
}

// =============================================================================
// FETCHER
// =============================================================================

func TestValidateURL(t *testing.T) {
	f := testFetcher(false)
	tests := []struct {
		url  string
		kind ErrorKind
	}{
		{"https://go.dev/doc/", ""},
		{"http://example.com:8080/x?y=1", ""},
		{"ftp://example.com/file", KindInvalidInput},
		{"file:///etc/passwd", KindInvalidInput},
		{"https:///nohost", KindInvalidInput},
		{"http://localhost:8080/", KindBlocked},
		{"http://api.localhost/", KindBlocked},
		{"http://metadata.google.internal/computeMetadata/v1/", KindBlocked},
		{"http://169.254.169.254/latest/meta-data/", KindBlocked},
		{"http://127.0.0.1/", KindBlocked},
		{"http://10.1.2.3/", KindBlocked},
		{"http://192.168.0.10/", KindBlocked},
		{"http://[::1]/", KindBlocked},
		{"http://[fd00::1]/", KindBlocked},
		{"http://[::ffff:127.0.0.1]/", KindBlocked},
		{"http://8.8.8.8/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := f.validateURL(tt.url)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			var he *HandlerError
			require.True(t, errors.As(err, &he), "got %v", err)
			assert.Equal(t, tt.kind, he.Kind)
		})
	}
}

func TestFetcher_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "hello")
		case "/big":
			fmt.Fprint(w, strings.Repeat("x", 5000))
		case "/redirect":
			http.Redirect(w, r, "/ok", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := testFetcher(true)
	ctx := context.Background()

	page, err := f.Get(ctx, srv.URL+"/ok", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(page.Body))
	assert.Equal(t, "text/plain", page.ContentType)

	page, err = f.Get(ctx, srv.URL+"/redirect", nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/ok", page.URL)

	_, err = f.Get(ctx, srv.URL+"/missing", nil)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	var he *HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.Status)
	assert.Equal(t, "http_status", he.ErrorKind())

	_, err = f.Get(ctx, srv.URL+"/big", nil)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetcher_BlocksLoopbackServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("blocked request reached the server")
	}))
	defer srv.Close()

	_, err := testFetcher(false).Get(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrBlocked)
}

// =============================================================================
// EXTRACTION AND SCRAPING
// =============================================================================

const articlePage = `<!DOCTYPE html>
<html><head><title> Go  Blog </title><style>p { color: red }</style></head>
<body><nav>Home | About</nav>
<article><h1>Generics</h1><p>Type   parameters
arrived in <b>Go 1.18</b>.</p><ul><li>one</li><li>two</li></ul>
<script>alert(1)</script><p hidden>secret</p></article>
<footer>copyright</footer></body></html>`

func TestExtractText(t *testing.T) {
	doc, err := ExtractText(strings.NewReader(articlePage))
	require.NoError(t, err)
	assert.Equal(t, "Go Blog", doc.Title)
	assert.Equal(t, "Generics\n\nType parameters arrived in Go 1.18.\n\n- one\n- two", doc.Text)
}

func TestExtractText_BodyFallback(t *testing.T) {
	doc, err := ExtractText(strings.NewReader(
		`<body><nav>menu</nav><div>first</div><div style="display: none">gone</div><div>second<br>third</div><footer>f</footer></body>`))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\nthird", doc.Text)
}

func TestScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, articlePage)
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"a":1}`)
		case "/empty":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><script>x()</script></body></html>`)
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			fmt.Fprint(w, "\x89PNG")
		}
	}))
	defer srv.Close()

	s := NewScraper(testFetcher(true), 20)
	ctx := context.Background()

	out, err := s.Scrape(ctx, srv.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, out, "URL: "+srv.URL+"/article\n")
	assert.Contains(t, out, "Title: Go Blog\n")
	assert.Contains(t, out, "Generics\n\nType param\n[truncated:")

	out, err = s.Scrape(ctx, srv.URL+"/json")
	require.NoError(t, err)
	assert.Contains(t, out, "\"a\": 1")

	out, err = s.Scrape(ctx, srv.URL+"/empty")
	require.NoError(t, err)
	assert.Contains(t, out, "No readable content found")

	_, err = s.Scrape(ctx, srv.URL+"/image")
	var he *HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, KindUpstream, he.Kind)
}

// =============================================================================
// SEARCH
// =============================================================================

const ddgPage = `<html><body>
<div class="result"><h2 class="result__title">
<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc">The <b>Go</b> docs</a></h2>
<a class="result__snippet" href="x">Documentation for <b>Go</b>.</a></div>
<div class="result"><a class="result__a" href="https://example.com/direct">Direct</a></div>
<div class="result"><a class="result__a" href="/relative">Skipped</a></div>
</body></html>`

func TestParseDuckDuckGo(t *testing.T) {
	results, err := parseDuckDuckGo([]byte(ddgPage))
	require.NoError(t, err)
	assert.Equal(t, []SearchResult{
		{Title: "The Go docs", Link: "https://go.dev/doc/", Snippet: "Documentation for Go."},
		{Title: "Direct", Link: "https://example.com/direct"},
	}, results)
}

func TestSearcher_Google(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/customsearch/v1":
			q := r.URL.Query()
			assert.Equal(t, "key-1", q.Get("key"))
			assert.Equal(t, "cx-1", q.Get("cx"))
			assert.Equal(t, "go generics", q.Get("q"))
			assert.Equal(t, "2", q.Get("num"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"items":[
				{"title":"Generics","link":"%[1]s/page","snippet":"Type\nparameters"},
				{"title":"Second","link":"%[1]s/missing","snippet":"two"},
				{"title":"Third","link":"https://example.com","snippet":"three"}]}`, srvURL)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, articlePage)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	log, _ := test.NewNullLogger()
	s := NewSearcher(SearchConfig{
		APIKey:     "key-1",
		EngineID:   "cx-1",
		Endpoint:   srv.URL + "/customsearch/v1",
		MaxResults: 2,
		Excerpts:   2,
	}, testFetcher(true), log)
	require.Equal(t, "google", s.Provider())

	results, err := s.Search(context.Background(), " go generics ")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Type parameters", results[0].Snippet)
	assert.True(t, strings.HasPrefix(results[0].Excerpt, "Generics Type parameters"))
	assert.Empty(t, results[1].Excerpt)

	out := FormatResults("go generics", s.Provider(), results)
	assert.Contains(t, out, `Search results for "go generics" (google):`)
	assert.Contains(t, out, "1. Generics\n   "+srv.URL+"/page\n   Type parameters\n   > Generics")
	assert.Contains(t, out, "2. Second")
}

func TestSearcher_DuckDuckGoFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang docs", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, ddgPage)
	}))
	defer srv.Close()

	s := NewSearcher(SearchConfig{DuckDuckGo: srv.URL + "/html/"}, testFetcher(true), nil)
	require.Equal(t, "duckduckgo", s.Provider())

	results, err := s.Search(context.Background(), "golang docs")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://go.dev/doc/", results[0].Link)

	_, err = s.Search(context.Background(), "   ")
	var he *HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, KindInvalidInput, he.Kind)
}

func TestFormatResults_Empty(t *testing.T) {
	assert.Equal(t, `No results found for "zzz".`, FormatResults("zzz", "google", nil))
}
