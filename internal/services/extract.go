// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the readable part of an HTML page.
type Document struct {
	Title string
	Text  string
}

// skipped elements contribute no text.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Button:   true,
}

// paragraphs are separated from their neighbours by a blank line.
var paragraphs = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Pre: true, atom.Blockquote: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Table: true, atom.Tr: true,
	atom.Pre: true, atom.Blockquote: true, atom.Figcaption: true,
}

// ExtractText parses HTML and returns its title and readable text. When the
// page has an <article> or <main> element only that subtree is used;
// otherwise the whole body. Navigation, scripts and forms are dropped.
func ExtractText(r io.Reader) (Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if t := findFirst(root, atom.Title); t != nil {
		doc.Title = collapseSpace(nodeText(t))
	}

	content := findFirst(root, atom.Article)
	if content == nil {
		content = findFirst(root, atom.Main)
	}
	if content == nil {
		content = findFirst(root, atom.Body)
	}
	if content == nil {
		content = root
	}

	w := &textWriter{}
	w.walk(content)
	doc.Text = tidyLines(w.sb.String())
	return doc, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// ===== TEXT WRITER =====

type textWriter struct {
	sb    strings.Builder
	space bool
	pre   int
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		if isHidden(n) {
			return
		}
	case html.CommentNode, html.DoctypeNode:
		return
	}

	breaks := 0
	if n.Type == html.ElementNode {
		switch {
		case paragraphs[n.DataAtom]:
			breaks = 2
		case blocks[n.DataAtom]:
			breaks = 1
		}
	}
	w.lineBreak(breaks)
	switch n.DataAtom {
	case atom.Li:
		w.sb.WriteString("- ")
	case atom.Pre:
		w.pre++
		defer func() { w.pre-- }()
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}

	w.lineBreak(breaks)
	if n.DataAtom == atom.Td || n.DataAtom == atom.Th {
		w.space = true
	}
}

func (w *textWriter) text(s string) {
	if w.pre > 0 {
		w.sb.WriteString(s)
		return
	}
	if s != "" && unicode.IsSpace(rune(s[0])) {
		w.space = true
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return
	}
	if w.space && w.sb.Len() > 0 && !strings.HasSuffix(w.sb.String(), "\n") {
		w.sb.WriteByte(' ')
	}
	w.sb.WriteString(strings.Join(fields, " "))
	w.space = unicode.IsSpace(rune(s[len(s)-1]))
}

// lineBreak ends the current line so that at least n-1 blank lines
// follow the last text.
func (w *textWriter) lineBreak(n int) {
	if n == 0 || w.sb.Len() == 0 {
		return
	}
	s := w.sb.String()
	have := len(s) - len(strings.TrimRight(s, "\n"))
	for ; have < n; have++ {
		w.sb.WriteByte('\n')
	}
	w.space = false
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			return a.Val == "true"
		case "style":
			if strings.Contains(strings.ReplaceAll(a.Val, " ", ""), "display:none") {
				return true
			}
		}
	}
	return false
}

// tidyLines trims trailing space and collapses runs of blank lines.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := true
	for _, l := range lines {
		l = strings.TrimRightFunc(l, unicode.IsSpace)
		if strings.TrimSpace(l) == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, l)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
