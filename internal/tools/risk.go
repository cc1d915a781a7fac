// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/aicli/internal/sandbox"
)

// =============================================================================
// DEFAULT PATTERNS
// =============================================================================

// cmdStart anchors a pattern at the start of a simple command: the beginning
// of the line, or after a separator, pipe, subshell or substitution.
const cmdStart = `(?:^|[;&|(\x60{]|\$\()\s*(?:sudo\s+(?:-\S+\s+)*)?`

// DefaultDangerousPatterns are always destructive. Matching is
// case-insensitive and multi-line on the NFKC-normalized command.
var DefaultDangerousPatterns = []string{
	// Deleting files
	cmdStart + `(?:rm|rmdir|unlink|shred|srm|wipefs)(?:\s|$)`,
	`\bfind\b.*\s-delete\b`,
	`\bfind\b.*-exec\s+rm\b`,
	`\bgit\s+clean\s+-\w*f`,
	`\btruncate\s+-s\s*0\b`,

	// Disks and partitions
	`\bmkfs(?:\.\w+)?\b`, `\bmke2fs\b`, `\bmkswap\b`,
	`\b(?:fdisk|gdisk|sfdisk|cfdisk|parted)\b`,
	`\bdd\b.*\bof=`,
	`>\s*/dev/(?:sd|hd|vd|nvme|disk)`,

	// Fork bombs
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,

	// Remote code piped into an interpreter
	`\b(?:curl|wget)\b[^|]*\|\s*(?:sudo\s+)?(?:ba|z|da|k)?sh\b`,
	`\b(?:curl|wget)\b[^|]*\|\s*(?:python3?|perl|ruby)\b`,
	`\b(?:ba|z)?sh\s+<\(\s*(?:curl|wget)\b`,
	`\bbase64\s+(?:-d|--decode)\b.*\|\s*(?:ba|z)?sh\b`,

	// Permissions on system paths
	`\bchmod\s+(?:-R\s+)?0*777\s+/(?:\s|$)`,
	`\bchown\s+-R\b`,
	`\bchattr\s+[+-]i\b`,

	// System control
	cmdStart + `(?:shutdown|reboot|poweroff|halt)\b`,
	`\binit\s+[06]\b`,
	`\bsystemctl\s+(?:poweroff|reboot|halt)\b`,
	`\b(?:insmod|rmmod)\b`, `\bmodprobe\s+-r\b`,
	`\bsysctl\s+-w\b`,
	`\biptables\s+(?:-F|--flush)\b`,
	`\bufw\s+disable\b`,

	// Reverse shells
	`/dev/(?:tcp|udp)/`,
	`\bn(?:c|cat)\b.*\s-[ec]\b`,

	// History rewriting in git
	`\bgit\s+push\b.*(?:\s-f\b|--force)`,
	`\bgit\s+reset\s+--hard\b`,

	// Windows
	`\bformat\s+[a-z]:`,
	cmdStart + `(?:del|erase)\s+/[fsq]`,
	cmdStart + `(?:rd|rmdir)\s+/s\b`,
	`\bremove-item\b`,
	`\b(?:diskpart|bcdedit|bootrec)\b`,
	`\bcipher\s+/w:`,
	`\breg\s+(?:add|delete|import)\b`,
}

// DestructiveCommands are programs that are destructive wherever they run in
// a command line, however they are spelled: /bin/rm, \rm, env rm, xargs rm
// and sh -c 'rm ...' all count.
var DestructiveCommands = []string{
	"rm", "rmdir", "unlink", "shred", "srm", "wipefs",
	"mkfs", "mke2fs", "mkswap", "fdisk", "gdisk", "sfdisk", "cfdisk", "parted",
	"shutdown", "reboot", "poweroff", "halt",
}

// DefaultAmbiguousPatterns need confirmation unless auto-approve is on.
var DefaultAmbiguousPatterns = []string{
	// Moving, copying and creating files
	cmdStart + `(?:mv|cp|ln|mkdir|touch|install|rsync)(?:\s|$)`,
	`(?:^|[^0-9&>])>{1,2}\s*[^&\s>]`,
	`\btee\b`,
	`\bsed\s+(?:-\w*i|--in-place)`,
	`\bperl\s+-\w*i`,

	// Permissions
	cmdStart + `(?:chmod|chown|chgrp)\b`,
	`\bsudo\s`,

	// Package managers and builds that fetch or install
	`\b(?:pip3?|npm|pnpm|yarn|gem|cargo|apt|apt-get|dnf|yum|brew|pacman|choco|winget)\s+(?:install|uninstall|remove|add|upgrade|update)\b`,
	`\bgo\s+(?:install|get)\b`,

	// Version control that changes state
	`\bgit\s+(?:commit|push|pull|merge|rebase|checkout|switch|reset|stash|tag|branch\s+-[dD]|rm|mv|restore|apply|am|cherry-pick)\b`,

	// Processes and services
	cmdStart + `(?:kill|pkill|killall|taskkill)\b`,
	`\bsystemctl\s+(?:start|stop|restart|enable|disable)\b`,
	`\bdocker\s+(?:run|rm|rmi|stop|kill|exec|compose)\b`,
	`\bkubectl\s+(?:apply|delete|exec|scale|edit)\b`,

	// Network access
	`\b(?:curl|wget|scp|sftp|ssh|nc|ncat)\b`,

	// Indirect execution
	`\beval\b`,
	`\bxargs\b`,
	`\bcrontab\b`,
	`\bschtasks\b`,
}

// =============================================================================
// RISK POLICY
// =============================================================================

// devNullRe strips discarding redirections before matching, so they do not
// read as writes.
var devNullRe = regexp.MustCompile(`(?:\d|&)?>{1,2}\s*/dev/null\b`)

type riskPattern struct {
	source string
	re     *regexp.Regexp
}

// RiskPolicy raises tiers from configured patterns and per-tool overrides.
type RiskPolicy struct {
	commands  map[string]bool
	dangerous []riskPattern
	ambiguous []riskPattern
	overrides map[string]Tier
}

// DefaultRiskPolicy returns the policy built from the default patterns.
func DefaultRiskPolicy() *RiskPolicy {
	p, err := NewRiskPolicy(DefaultDangerousPatterns, DefaultAmbiguousPatterns, nil)
	if err != nil {
		panic(err)
	}
	return p
}

// NewRiskPolicy compiles the pattern lists. Nil lists mean the defaults; an
// empty non-nil list disables that tier's patterns. DestructiveCommands
// apply regardless. Overrides map tool names
// to tier names.
func NewRiskPolicy(dangerous, ambiguous []string, overrides map[string]string) (*RiskPolicy, error) {
	if dangerous == nil {
		dangerous = DefaultDangerousPatterns
	}
	if ambiguous == nil {
		ambiguous = DefaultAmbiguousPatterns
	}

	p := &RiskPolicy{
		commands:  make(map[string]bool, len(DestructiveCommands)),
		overrides: make(map[string]Tier, len(overrides)),
	}
	for _, name := range DestructiveCommands {
		p.commands[name] = true
	}
	var err error
	if p.dangerous, err = compilePatterns(dangerous); err != nil {
		return nil, fmt.Errorf("dangerous_patterns: %w", err)
	}
	if p.ambiguous, err = compilePatterns(ambiguous); err != nil {
		return nil, fmt.Errorf("ambiguous_patterns: %w", err)
	}
	for tool, name := range overrides {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("tier_overrides.%s: %w", tool, err)
		}
		p.overrides[tool] = tier
	}
	return p, nil
}

func compilePatterns(sources []string) ([]riskPattern, error) {
	out := make([]riskPattern, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile("(?im)" + src)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", src, err)
		}
		out = append(out, riskPattern{source: src, re: re})
	}
	return out, nil
}

// Apply returns the effective tier of a call. An override replaces the
// tool's classified tier but never lowers a destructive classification;
// pattern matches on subject can only raise the result.
func (p *RiskPolicy) Apply(tool string, classified Tier, subject string) Tier {
	tier := classified
	if p == nil {
		return tier
	}
	if o, ok := p.overrides[tool]; ok && classified != TierDestructive {
		tier = o
	}
	if matched, _ := p.Match(subject); matched > tier {
		tier = matched
	}
	return tier
}

// Match returns the highest tier that subject reaches and what matched it:
// a program from DestructiveCommands anywhere in the parsed command line, or
// one of the patterns. No match returns TierSafe and "".
func (p *RiskPolicy) Match(subject string) (Tier, string) {
	if p == nil || strings.TrimSpace(subject) == "" {
		return TierSafe, ""
	}
	for _, name := range sandbox.CommandNames(subject) {
		if p.commands[name] || strings.HasPrefix(name, "mkfs.") {
			return TierDestructive, "command " + name
		}
	}
	normalized := devNullRe.ReplaceAllString(norm.NFKC.String(subject), "")
	for _, rp := range p.dangerous {
		if rp.re.MatchString(normalized) {
			return TierDestructive, rp.source
		}
	}
	for _, rp := range p.ambiguous {
		if rp.re.MatchString(normalized) {
			return TierAmbiguous, rp.source
		}
	}
	return TierSafe, ""
}
