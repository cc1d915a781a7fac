// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// =============================================================================
// STATIC CONFINEMENT
// =============================================================================

// CheckConfinement parses command as a POSIX shell program and rejects
// directory changes whose literal target resolves outside root. Targets that
// are only known at run time (variables, substitutions) are let through, as
// are commands the parser cannot read; the shell reports those itself.
func CheckConfinement(command, root string) error {
	if root == "" {
		return nil
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(normalizeCommand(command)), "")
	if err != nil {
		return nil
	}

	cwd := root
	var violation error
	syntax.Walk(file, func(node syntax.Node) bool {
		if violation != nil {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}

		for _, target := range directoryTargets(call.Args) {
			dest, known := resolveTarget(cwd, target)
			if !known {
				continue
			}
			if !within(root, dest) {
				violation = policyViolation(command, "%q resolves outside the sandbox root %s", target.raw, root)
				return false
			}
			if target.moves {
				cwd = dest
			}
		}
		return true
	})
	return violation
}

type dirTarget struct {
	raw   string
	word  *syntax.Word
	moves bool
}

// directoryTargets returns the directory operands of cd, pushd and git -C.
func directoryTargets(args []*syntax.Word) []dirTarget {
	name := args[0].Lit()
	switch name {
	case "cd", "pushd", "chdir":
		for _, arg := range args[1:] {
			lit := arg.Lit()
			if strings.HasPrefix(lit, "-") && lit != "-" {
				continue
			}
			return []dirTarget{{raw: literalOrDynamic(arg), word: arg, moves: true}}
		}
		// Bare cd goes to $HOME.
		return []dirTarget{{raw: "~", moves: true}}
	case "git":
		var targets []dirTarget
		for i := 1; i < len(args)-1; i++ {
			if args[i].Lit() == "-C" {
				targets = append(targets, dirTarget{raw: literalOrDynamic(args[i+1]), word: args[i+1]})
			}
		}
		return targets
	}
	return nil
}

func literalOrDynamic(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	return "<dynamic>"
}

// resolveTarget turns a target into an absolute path. known is false when the
// target cannot be determined without running the shell.
func resolveTarget(cwd string, t dirTarget) (dest string, known bool) {
	raw := t.raw
	if t.word != nil {
		raw = unquotedLiteral(t.word)
		if raw == "" {
			return "", false
		}
	}

	switch {
	case raw == "-":
		// cd - returns to OLDPWD, which is not tracked.
		return "", false
	case raw == "~" || strings.HasPrefix(raw, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", true
		}
		return filepath.Join(home, strings.TrimPrefix(raw, "~")), true
	case filepath.IsAbs(raw):
		return filepath.Clean(raw), true
	default:
		return filepath.Join(cwd, raw), true
	}
}

// unquotedLiteral flattens a word made only of literal and quoted-literal
// parts. Anything with expansions yields "".
func unquotedLiteral(w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return ""
				}
				sb.WriteString(lit.Value)
			}
		default:
			return ""
		}
	}
	return sb.String()
}

// within reports whether path is root or lies below it. An empty path (the
// home directory) never does.
func within(root, path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
