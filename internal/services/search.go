// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/aicli/internal/tools"
	"github.com/jeranaias/aicli/internal/util"
)

const (
	DefaultSearchEndpoint = "https://www.googleapis.com/customsearch/v1"
	DefaultDuckDuckGoURL  = "https://html.duckduckgo.com/html/"
)

// SearchConfig configures search_online. Without an API key and engine
// ID the DuckDuckGo HTML endpoint is used instead of Google.
type SearchConfig struct {
	APIKey     string
	EngineID   string
	Endpoint   string
	DuckDuckGo string

	// MaxResults caps the results returned (1-10, default 5).
	MaxResults int

	// Excerpts is how many top results are fetched to attach a short
	// excerpt of the page text. Zero disables it.
	Excerpts int
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Excerpt string `json:"-"`
}

// Searcher runs web searches.
type Searcher struct {
	cfg   SearchConfig
	fetch *Fetcher
	log   logrus.FieldLogger
}

// NewSearcher returns a searcher using f for all requests.
func NewSearcher(cfg SearchConfig, f *Fetcher, log logrus.FieldLogger) *Searcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultSearchEndpoint
	}
	if cfg.DuckDuckGo == "" {
		cfg.DuckDuckGo = DefaultDuckDuckGoURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.MaxResults > 10 {
		cfg.MaxResults = 10
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Searcher{cfg: cfg, fetch: f, log: log}
}

// Provider names the backend in use.
func (s *Searcher) Provider() string {
	if s.cfg.APIKey != "" && s.cfg.EngineID != "" {
		return "google"
	}
	return "duckduckgo"
}

// Search returns up to MaxResults hits for query.
func (s *Searcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &HandlerError{Kind: KindInvalidInput, Service: "search", Msg: "query is empty"}
	}

	var (
		results []SearchResult
		err     error
	)
	if s.Provider() == "google" {
		results, err = s.google(ctx, query)
	} else {
		results, err = s.duckduckgo(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	if len(results) > s.cfg.MaxResults {
		results = results[:s.cfg.MaxResults]
	}
	s.attachExcerpts(ctx, results)
	return results, nil
}

// ===== GOOGLE CUSTOM SEARCH =====

type googleResponse struct {
	Items []SearchResult `json:"items"`
}

func (s *Searcher) google(ctx context.Context, query string) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("key", s.cfg.APIKey)
	q.Set("cx", s.cfg.EngineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(s.cfg.MaxResults))

	page, err := s.fetch.Get(ctx, s.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, withService(err, "google search")
	}
	var resp googleResponse
	if err := json.Unmarshal(page.Body, &resp); err != nil {
		return nil, &HandlerError{Kind: KindUpstream, Service: "google search", Msg: "malformed reply", Err: err}
	}
	for i := range resp.Items {
		resp.Items[i].Snippet = collapseSpace(resp.Items[i].Snippet)
	}
	return resp.Items, nil
}

// ===== DUCKDUCKGO =====

func (s *Searcher) duckduckgo(ctx context.Context, query string) ([]SearchResult, error) {
	page, err := s.fetch.Get(ctx, s.cfg.DuckDuckGo+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, withService(err, "duckduckgo")
	}
	results, err := parseDuckDuckGo(page.Body)
	if err != nil {
		return nil, &HandlerError{Kind: KindUpstream, Service: "duckduckgo", Msg: "parse results", Err: err}
	}
	return results, nil
}

// parseDuckDuckGo reads the result__a and result__snippet anchors of the
// HTML results page. A snippet belongs to the title link before it.
func parseDuckDuckGo(body []byte) ([]SearchResult, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			switch {
			case hasClass(n, "result__a"):
				link := ddgTarget(attr(n, "href"))
				title := collapseSpace(allText(n))
				if link != "" && title != "" {
					results = append(results, SearchResult{Title: title, Link: link})
				}
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = collapseSpace(allText(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results, nil
}

// ddgTarget unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=<url> redirect.
func ddgTarget(href string) string {
	if strings.Contains(href, "uddg=") {
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		return u.Query().Get("uddg")
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func allText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// ===== EXCERPTS =====

const excerptRunes = 500

// attachExcerpts fetches the first Excerpts results in parallel. A page
// that cannot be read keeps an empty excerpt.
func (s *Searcher) attachExcerpts(ctx context.Context, results []SearchResult) {
	n := min(s.cfg.Excerpts, len(results))
	if n <= 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(3)
	for i := range n {
		g.Go(func() error {
			page, err := s.fetch.Get(ctx, results[i].Link, nil)
			if err != nil {
				s.log.WithError(err).WithField("link", results[i].Link).Debug("excerpt skipped")
				return nil
			}
			doc, err := pageText(page)
			if err != nil {
				return nil
			}
			results[i].Excerpt = util.TruncateRunes(collapseSpace(doc.Text), excerptRunes)
			return nil
		})
	}
	_ = g.Wait()
}

// FormatResults renders hits for the model.
func FormatResults(query, provider string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q (%s):\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n", i+1, r.Title, r.Link)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", util.TruncateRunes(r.Snippet, 300))
		}
		if r.Excerpt != "" {
			fmt.Fprintf(&sb, "   > %s\n", r.Excerpt)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SearchArgs are the arguments of search_online.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"minLength=1" jsonschema_description:"The search query. Use keywords or a natural language question."`
}

// SearchTool is search_online. Searching is safe.
func SearchTool(s *Searcher) tools.ToolSpec {
	spec := tools.NewTool("search_online",
		"Search the web and return the top results as title, link and snippet. "+
			"Use scrape_url to read a result in full.",
		tools.TierSafe,
		func(ctx context.Context, args SearchArgs) (string, error) {
			results, err := s.Search(ctx, args.Query)
			if err != nil {
				return "", err
			}
			return FormatResults(args.Query, s.Provider(), results), nil
		})
	spec.Summarize = func(_ context.Context, raw json.RawMessage) string {
		var args SearchArgs
		_ = json.Unmarshal(raw, &args)
		return fmt.Sprintf("search %s for %q", s.Provider(), args.Query)
	}
	return spec
}

// withService tags a fetch error with the calling service.
func withService(err error, service string) error {
	if he, ok := err.(*HandlerError); ok && he.Service == "" {
		cp := *he
		cp.Service = service
		return &cp
	}
	return err
}
