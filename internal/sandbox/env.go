// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// ENVIRONMENT
// =============================================================================

// DefaultEnvAllowlist is passed through to commands when the policy sets none.
var DefaultEnvAllowlist = []string{
	"PATH",
	"HOME",
	"USER",
	"LOGNAME",
	"SHELL",
	"TERM",
	"LANG",
	"LC_*",
	"TZ",
	"TMPDIR",
	// Windows essentials
	"TEMP",
	"TMP",
	"USERPROFILE",
	"SYSTEMROOT",
	"COMSPEC",
	"PATHEXT",
	"WINDIR",
	// Toolchains
	"GOPATH",
	"GOROOT",
	"GOMODCACHE",
	"CARGO_HOME",
	"RUSTUP_HOME",
}

// deniedEnv never reaches a child, allowlisted or not.
var deniedEnv = []string{
	"BASH_ENV",
	"ENV",
	"SHELLOPTS",
	"BASHOPTS",
	"CDPATH",
	"GLOBIGNORE",
	"PROMPT_COMMAND",
	"IFS",
}

var deniedEnvPrefixes = []string{"LD_", "DYLD_", "BASH_FUNC_"}

// getEnviron is swapped in tests.
var getEnviron = os.Environ

// BuildEnv returns the child environment: allowlisted variables from the
// parent, normalized, with PWD pinned to root. Entries ending in "*" match by
// prefix. Matching is case-insensitive so Windows spellings line up.
func BuildEnv(allowlist []string, root string) []string {
	if len(allowlist) == 0 {
		allowlist = DefaultEnvAllowlist
	}

	exact := make(map[string]bool, len(allowlist))
	var prefixes []string
	for _, name := range allowlist {
		upper := strings.ToUpper(name)
		if strings.HasSuffix(upper, "*") {
			prefixes = append(prefixes, strings.TrimSuffix(upper, "*"))
			continue
		}
		exact[upper] = true
	}

	denied := make(map[string]bool, len(deniedEnv))
	for _, name := range deniedEnv {
		denied[name] = true
	}

	current := getEnviron()
	env := make([]string, 0, len(allowlist)+1)
	for _, kv := range current {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			continue
		}
		key, value := kv[:idx], kv[idx+1:]
		upper := strings.ToUpper(key)

		if upper == "PWD" || denied[upper] || hasAnyPrefix(upper, deniedEnvPrefixes) {
			continue
		}
		if !exact[upper] && !hasAnyPrefix(upper, prefixes) {
			continue
		}
		env = append(env, key+"="+sanitizeEnvValue(value))
	}

	if root != "" {
		env = append(env, "PWD="+root)
	}
	return env
}

// sanitizeEnvValue folds lookalike characters to NFKC and drops control
// characters, which have no business in an environment value.
func sanitizeEnvValue(value string) string {
	value = norm.NFKC.String(value)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, value)
}

// normalizeCommand folds unicode lookalikes to NFKC so pattern matching and
// confinement see what the shell will see.
func normalizeCommand(cmd string) string {
	return norm.NFKC.String(cmd)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
