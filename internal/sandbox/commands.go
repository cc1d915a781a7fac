// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// =============================================================================
// COMMAND NAMES
// =============================================================================

// wrappers run their operand as a command. The value lists the options that
// take a separate argument.
var wrappers = map[string][]string{
	"command": nil,
	"builtin": nil,
	"exec":    {"-a"},
	"env":     {"-u", "-C", "-S", "--unset", "--chdir", "--split-string"},
	"nice":    {"-n", "--adjustment"},
	"ionice":  {"-c", "-n", "-p"},
	"time":    {"-f", "-o", "--format", "--output"},
	"timeout": {"-s", "-k", "--signal", "--kill-after"},
	"nohup":   nil,
	"stdbuf":  {"-i", "-o", "-e"},
	"sudo":    {"-u", "-g", "-C", "-D", "-h", "-p", "-r", "-t", "-U"},
	"doas":    {"-u", "-C"},
	"busybox": nil,
	"xargs":   {"-a", "-d", "-E", "-I", "-L", "-n", "-P", "-s"},
	"chroot":  nil,
}

// shells run the -c operand as a script.
var shells = map[string]bool{
	"sh": true, "bash": true, "dash": true, "zsh": true, "ksh": true, "ash": true,
}

// CommandNames returns the base name of every program the command line
// runs, looking through wrappers such as env, sudo or xargs, path prefixes,
// backslash escapes and literal sh -c scripts. Names that are only known at
// run time are skipped. A command the parser cannot read yields nil.
func CommandNames(command string) []string {
	return commandNames(normalizeCommand(command), 0)
}

func commandNames(command string, depth int) []string {
	if depth > 3 {
		return nil
	}
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return nil
	}

	var names []string
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		args := call.Args
		for len(args) > 0 {
			name := programName(args[0])
			if name == "" {
				break
			}
			names = append(names, name)

			if shells[name] {
				if script, ok := shellScript(args[1:]); ok {
					names = append(names, commandNames(script, depth+1)...)
				}
				break
			}
			valued, wraps := wrappers[name]
			if !wraps {
				break
			}
			args = skipOptions(name, args[1:], valued)
		}
		return true
	})
	return names
}

// programName flattens a literal word and strips its directory and any
// backslash escapes, so /usr/bin/rm and \rm both read as rm.
func programName(w *syntax.Word) string {
	lit := unquotedLiteral(w)
	if lit == "" {
		return ""
	}
	lit = strings.ReplaceAll(lit, `\`, "")
	if lit == "" {
		return ""
	}
	return strings.ToLower(filepath.Base(filepath.ToSlash(lit)))
}

// skipOptions drops a wrapper's options and, for env, its VAR=value
// assignments. nice and timeout also take a bare leading number or duration.
func skipOptions(wrapper string, args []*syntax.Word, valued []string) []*syntax.Word {
	for len(args) > 0 {
		lit := unquotedLiteral(args[0])
		switch {
		case lit == "--":
			return args[1:]
		case strings.HasPrefix(lit, "-") && len(lit) > 1:
			takesValue := false
			for _, v := range valued {
				if lit == v {
					takesValue = true
					break
				}
			}
			args = args[1:]
			if takesValue && len(args) > 0 {
				args = args[1:]
			}
		case wrapper == "env" && strings.Contains(lit, "="):
			args = args[1:]
		case wrapper == "timeout" && lit != "" && strings.IndexAny(lit[:1], "0123456789") == 0:
			return args[1:]
		case wrapper == "chroot" && lit != "":
			// The first operand is the new root.
			return args[1:]
		default:
			return args
		}
	}
	return args
}

// shellScript returns the literal operand of -c.
func shellScript(args []*syntax.Word) (string, bool) {
	for i, arg := range args {
		lit := unquotedLiteral(arg)
		if !strings.HasPrefix(lit, "-") {
			return "", false
		}
		if strings.Contains(lit, "c") && !strings.HasPrefix(lit, "--") && i+1 < len(args) {
			script := unquotedLiteral(args[i+1])
			return script, script != ""
		}
	}
	return "", false
}
