// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/jeranaias/aicli/internal/tools"
)

// DefaultPageChars bounds the text scrape_url returns.
const DefaultPageChars = 12000

// ScrapeArgs are the arguments of scrape_url.
type ScrapeArgs struct {
	URL string `json:"url" jsonschema:"minLength=1" jsonschema_description:"The http or https URL of the page to read."`
}

// Scraper reads web pages as plain text.
type Scraper struct {
	fetch    *Fetcher
	maxChars int
}

// NewScraper returns a scraper that truncates page text to maxChars runes.
func NewScraper(f *Fetcher, maxChars int) *Scraper {
	if maxChars <= 0 {
		maxChars = DefaultPageChars
	}
	return &Scraper{fetch: f, maxChars: maxChars}
}

// Scrape fetches rawURL and returns its readable text.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (string, error) {
	page, err := s.fetch.Get(ctx, rawURL, nil)
	if err != nil {
		return "", err
	}
	doc, err := pageText(page)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", page.URL)
	if doc.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
	}
	sb.WriteString("\n")
	if doc.Text == "" {
		sb.WriteString("No readable content found on this page.")
		return sb.String(), nil
	}
	if n := utf8.RuneCountInString(doc.Text); n > s.maxChars {
		sb.WriteString(string([]rune(doc.Text)[:s.maxChars]))
		fmt.Fprintf(&sb, "\n[truncated: %d more characters]", n-s.maxChars)
	} else {
		sb.WriteString(doc.Text)
	}
	return sb.String(), nil
}

// pageText converts a fetched page by media type.
func pageText(page Page) (Document, error) {
	mediaType, _, err := mime.ParseMediaType(page.ContentType)
	if err != nil {
		mediaType = "text/plain"
	}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		doc, err := ExtractText(bytes.NewReader(page.Body))
		if err != nil {
			return Document{}, &HandlerError{Kind: KindUpstream, Msg: "parse HTML", Err: err}
		}
		return doc, nil
	case mediaType == "application/json":
		var out bytes.Buffer
		if json.Indent(&out, page.Body, "", "  ") == nil {
			return Document{Text: out.String()}, nil
		}
		return Document{Text: string(page.Body)}, nil
	case strings.HasPrefix(mediaType, "text/"):
		return Document{Text: strings.TrimSpace(string(page.Body))}, nil
	default:
		return Document{}, &HandlerError{Kind: KindUpstream, Msg: "unsupported content type " + mediaType}
	}
}

// ScrapeTool is scrape_url. Reading a page is safe.
func ScrapeTool(s *Scraper) tools.ToolSpec {
	spec := tools.NewTool("scrape_url",
		"Fetch a web page and return its readable text (title and main content, navigation stripped). "+
			"Long pages are truncated. Private and local network addresses are refused.",
		tools.TierSafe,
		func(ctx context.Context, args ScrapeArgs) (string, error) {
			return s.Scrape(ctx, args.URL)
		})
	spec.Summarize = func(_ context.Context, raw json.RawMessage) string {
		var args ScrapeArgs
		_ = json.Unmarshal(raw, &args)
		return "read " + args.URL
	}
	return spec
}
