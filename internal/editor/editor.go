// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/containerd/continuity"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/diff"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// Mode selects what an Operation does.
type Mode string

const (
	ModeRead          Mode = "read"
	ModeReplaceExact  Mode = "replace_exact"
	ModeApplyPatch    Mode = "apply_patch"
	ModeOverwrite     Mode = "overwrite"
	ModeSearch        Mode = "search"
	ModeSearchReplace Mode = "search_replace"
	ModeDelete        Mode = "delete"
)

// Modes lists every mode in presentation order.
var Modes = []Mode{
	ModeRead, ModeSearch, ModeReplaceExact, ModeApplyPatch,
	ModeSearchReplace, ModeOverwrite, ModeDelete,
}

// modeAliases maps older subcommand names onto modes.
var modeAliases = map[string]Mode{
	"write":              ModeOverwrite,
	"apply_diff":         ModeApplyPatch,
	"search_and_replace": ModeSearchReplace,
}

// ParseMode returns the mode named s, accepting legacy aliases.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m, ok := modeAliases[s]; ok {
		return m, nil
	}
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown editor mode %q", s)
	}
	return m, nil
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// Mutates reports whether the mode writes to disk.
func (m Mode) Mutates() bool {
	switch m {
	case ModeRead, ModeSearch:
		return false
	default:
		return true
	}
}

// Operation is one edit request.
type Operation struct {
	Path string
	Mode Mode

	// ExpectedHash, when set, must equal the on-disk content hash or the
	// operation fails with a conflict. Required to overwrite an existing file.
	ExpectedHash string

	// Payload is the exact text (replace_exact), unified diff (apply_patch),
	// full content (overwrite) or regular expression (search, search_replace).
	Payload string

	// Replacement is the new text for replace_exact and search_replace.
	Replacement string
}

// Match is one search hit. Line and Column are 1-based; Column counts runes.
type Match struct {
	Line   int
	Column int
	Text   string
}

// Result describes the file after the operation. For a Preview nothing was
// written and Content is what would be written.
type Result struct {
	// Path is relative to the root when the file lies inside it.
	Path string

	Content   string
	Hash      string
	PriorHash string

	Matches []Match
	Diff    string

	Created bool
	Deleted bool
}

// =============================================================================
// EDITOR
// =============================================================================

const (
	// DefaultFuzzLines is how far a hunk may drift from its recorded line.
	DefaultFuzzLines = 3

	// DefaultMaxFileSize refuses to load larger files.
	DefaultMaxFileSize = 10 * 1024 * 1024

	maxMatches  = 500
	defaultPerm = 0o644
)

// Editor applies Operations to files under a root directory.
type Editor struct {
	root    string
	rawRoot string

	fuzzLines        int
	allowOutsideRoot bool
	maxFileSize      int64
	log              logrus.FieldLogger
}

// Option configures an Editor.
type Option func(*Editor)

// WithFuzzLines sets how many lines a hunk may drift. Negative values are
// treated as zero.
func WithFuzzLines(n int) Option {
	return func(e *Editor) { e.fuzzLines = max(0, n) }
}

// WithAllowOutsideRoot permits paths outside the root.
func WithAllowOutsideRoot(allow bool) Option {
	return func(e *Editor) { e.allowOutsideRoot = allow }
}

// WithMaxFileSize sets the largest file the editor will load.
func WithMaxFileSize(n int64) Option {
	return func(e *Editor) {
		if n > 0 {
			e.maxFileSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Editor) { e.log = l }
}

// New returns an Editor rooted at root. The root must be an existing
// directory.
func New(root string, opts ...Option) (*Editor, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve editor root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve editor root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolve editor root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("editor root %s is not a directory", resolved)
	}

	e := &Editor{
		root:        resolved,
		rawRoot:     abs,
		fuzzLines:   DefaultFuzzLines,
		maxFileSize: DefaultMaxFileSize,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Root returns the canonical root directory.
func (e *Editor) Root() string {
	return e.root
}

// Apply performs op. On error the file is untouched.
func (e *Editor) Apply(ctx context.Context, op Operation) (Result, error) {
	return e.run(ctx, op, true)
}

// Preview computes the result of op, including its diff, without writing.
func (e *Editor) Preview(ctx context.Context, op Operation) (Result, error) {
	return e.run(ctx, op, false)
}

func (e *Editor) run(ctx context.Context, op Operation, write bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &EditError{Kind: KindIOFailure, Path: op.Path, Msg: "cancelled", Err: err}
	}
	if !op.Mode.Valid() {
		return Result{}, newError(KindInvalidPatch, op.Path, "unknown mode %q", op.Mode)
	}

	full, err := e.Resolve(op.Path)
	if err != nil {
		return Result{}, err
	}
	display := e.display(full)

	prior, info, err := e.load(display, full)
	if err != nil {
		return Result{}, err
	}
	exists := info != nil

	switch op.Mode {
	case ModeRead:
		if !exists {
			return Result{}, notFound(display)
		}
		return Result{Path: display, Content: prior, Hash: Hash(prior), PriorHash: Hash(prior)}, nil
	case ModeSearch:
		if !exists {
			return Result{}, notFound(display)
		}
		matches, err := search(display, prior, op.Payload)
		if err != nil {
			return Result{}, err
		}
		return Result{Path: display, Content: prior, Hash: Hash(prior), PriorHash: Hash(prior), Matches: matches}, nil
	}

	if !exists {
		if op.Mode != ModeOverwrite {
			return Result{}, notFound(display)
		}
		if op.ExpectedHash != "" {
			return Result{}, newError(KindConflict, display, "file no longer exists; expected_hash %s cannot match", op.ExpectedHash)
		}
	} else if err := checkHash(display, op.ExpectedHash, prior); err != nil {
		return Result{}, err
	}

	updated, err := e.transform(display, prior, exists, op)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Path:    display,
		Content: updated,
		Hash:    Hash(updated),
		Created: !exists,
		Deleted: op.Mode == ModeDelete,
	}
	if exists {
		res.PriorHash = Hash(prior)
	}
	res.Diff = diff.Compute(display, prior, updated).Unified()

	if !write {
		return res, nil
	}
	if err := e.commit(ctx, display, full, prior, info, res); err != nil {
		return Result{}, err
	}

	e.log.WithFields(logrus.Fields{
		"path":    display,
		"mode":    op.Mode,
		"created": res.Created,
		"hash":    res.Hash,
	}).Debug("edit applied")
	return res, nil
}

// transform returns the content the operation leaves behind.
func (e *Editor) transform(path, prior string, exists bool, op Operation) (string, error) {
	switch op.Mode {
	case ModeReplaceExact:
		return replaceExact(path, prior, op.Payload, op.Replacement)
	case ModeApplyPatch:
		return applyPatch(path, prior, op.Payload, e.fuzzLines)
	case ModeSearchReplace:
		return searchReplace(path, prior, op.Payload, op.Replacement)
	case ModeOverwrite:
		if exists && op.ExpectedHash == "" {
			return "", newError(KindConflict, path,
				"overwriting an existing file requires expected_hash; read the file first (current hash %s)", Hash(prior))
		}
		return op.Payload, nil
	case ModeDelete:
		return "", nil
	default:
		return "", newError(KindInvalidPatch, path, "mode %q does not modify files", op.Mode)
	}
}

// commit re-checks the on-disk content and writes atomically.
func (e *Editor) commit(ctx context.Context, display, full, prior string, info os.FileInfo, res Result) error {
	if err := ctx.Err(); err != nil {
		return &EditError{Kind: KindIOFailure, Path: display, Msg: "cancelled before write", Err: err}
	}

	current, currentInfo, err := e.load(display, full)
	if err != nil {
		return err
	}
	switch {
	case (info == nil) != (currentInfo == nil):
		return newError(KindConflict, display, "file was created or removed while editing")
	case info != nil && current != prior:
		return newError(KindConflict, display, "file changed while editing; read it again")
	}

	if res.Deleted {
		if err := os.Remove(full); err != nil {
			return ioError(display, err)
		}
		return nil
	}

	perm := fs.FileMode(defaultPerm)
	if info != nil {
		perm = info.Mode().Perm()
	} else if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ioError(display, err)
	}
	if err := continuity.AtomicWriteFile(full, []byte(res.Content), perm); err != nil {
		return ioError(display, err)
	}
	return nil
}

// load reads path. A missing file yields a nil FileInfo and no error.
func (e *Editor) load(display, full string) (string, os.FileInfo, error) {
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, ioError(display, err)
	}
	if info.IsDir() {
		return "", nil, newError(KindIOFailure, display, "is a directory")
	}
	if info.Size() > e.maxFileSize {
		return "", nil, newError(KindIOFailure, display, "file too large (%s, max %s)",
			units.BytesSize(float64(info.Size())), units.BytesSize(float64(e.maxFileSize)))
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", nil, ioError(display, err)
	}
	return string(data), info, nil
}

func notFound(path string) *EditError {
	return newError(KindNotFound, path, "no such file")
}

// =============================================================================
// PATHS
// =============================================================================

// Resolve maps a user-supplied path to an absolute path. Paths inside the
// root are joined with securejoin so symlinks cannot lead out of it. Paths
// outside the root are refused unless the editor allows them.
func (e *Editor) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", newError(KindIOFailure, path, "path is required")
	}
	if strings.ContainsRune(path, 0) {
		return "", newError(KindIOFailure, path, "path contains a NUL byte")
	}

	rel, inside := e.relative(path)
	if !inside {
		if !e.allowOutsideRoot {
			return "", newError(KindIOFailure, path, "path is outside the working root %s", e.root)
		}
		if filepath.IsAbs(path) {
			return filepath.Clean(path), nil
		}
		return filepath.Join(e.root, path), nil
	}

	full, err := securejoin.SecureJoin(e.root, rel)
	if err != nil {
		return "", ioError(path, err)
	}
	return full, nil
}

// OutsideRoot reports whether path lexically leaves the root.
func (e *Editor) OutsideRoot(path string) bool {
	_, inside := e.relative(path)
	return !inside
}

// relative returns path relative to the root and whether it stays inside.
func (e *Editor) relative(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		rel := filepath.Clean(path)
		return rel, !escapes(rel)
	}
	clean := filepath.Clean(path)
	for _, root := range []string{e.root, e.rawRoot} {
		rel, err := filepath.Rel(root, clean)
		if err == nil && !escapes(rel) {
			return rel, true
		}
	}
	return "", false
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// display returns full relative to the root when possible.
func (e *Editor) display(full string) string {
	rel, err := filepath.Rel(e.root, full)
	if err != nil || escapes(rel) {
		return full
	}
	return filepath.ToSlash(rel)
}

// =============================================================================
// TEXT OPERATIONS
// =============================================================================

func replaceExact(path, content, old, replacement string) (string, error) {
	if old == "" {
		return "", newError(KindInvalidPatch, path, "payload must not be empty")
	}
	switch n := strings.Count(content, old); n {
	case 1:
		return strings.Replace(content, old, replacement, 1), nil
	case 0:
		msg := "payload not found in file; the exact text was not found"
		if strings.Contains(strings.ToLower(content), strings.ToLower(old)) {
			msg += ". A case-insensitive match exists; check capitalization"
		}
		if trimmed := strings.TrimSpace(old); trimmed != old && strings.Contains(content, trimmed) {
			msg += ". The text exists with different leading or trailing whitespace"
		} else if collapse(content) != "" && strings.Contains(collapse(content), collapse(old)) {
			msg += ". The text exists with different internal whitespace"
		}
		return "", newError(KindInvalidPatch, path, "%s", msg)
	default:
		return "", newError(KindInvalidPatch, path,
			"payload found %d times; include more surrounding context so it matches exactly once", n)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func compilePattern(path, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, newError(KindInvalidPatch, path, "a regular expression is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &EditError{Kind: KindInvalidPatch, Path: path, Msg: "invalid regular expression", Err: err}
	}
	return re, nil
}

func search(path, content, pattern string) ([]Match, error) {
	re, err := compilePattern(path, pattern)
	if err != nil {
		return nil, err
	}

	var matches []Match
	line, lineStart, scanned := 1, 0, 0
	for _, loc := range re.FindAllStringIndex(content, maxMatches) {
		for scanned < loc[0] {
			if content[scanned] == '\n' {
				line++
				lineStart = scanned + 1
			}
			scanned++
		}
		matches = append(matches, Match{
			Line:   line,
			Column: utf8.RuneCountInString(content[lineStart:loc[0]]) + 1,
			Text:   content[loc[0]:loc[1]],
		})
	}
	return matches, nil
}

func searchReplace(path, content, pattern, replacement string) (string, error) {
	re, err := compilePattern(path, pattern)
	if err != nil {
		return "", err
	}
	if !re.MatchString(content) {
		return "", newError(KindInvalidPatch, path, "pattern %q matched nothing", pattern)
	}
	return re.ReplaceAllString(content, replacement), nil
}
