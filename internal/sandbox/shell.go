// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// =============================================================================
// SHELL RESOLUTION
// =============================================================================

// Shell is the interpreter commands are handed to.
type Shell struct {
	// Name is the short interpreter name ("bash", "sh", "cmd", ...).
	Name string

	// Path is the executable to spawn.
	Path string

	// Flags precede the command string, e.g. ["-c"] or ["/C"].
	Flags []string

	// POSIX reports whether the shell accepts POSIX syntax.
	POSIX bool

	// Environment names the host flavour for display ("Git Bash (MINGW64)").
	Environment string
}

// Argv returns the argument vector that runs command through the shell.
func (s Shell) Argv(command string) []string {
	argv := make([]string, 0, len(s.Flags)+1)
	argv = append(argv, s.Flags...)
	return append(argv, command)
}

// Describe returns a one-line description for the system prompt.
func (s Shell) Describe() string {
	if s.Environment != "" {
		return s.Environment + " (" + s.Path + ")"
	}
	return s.Name + " (" + s.Path + ")"
}

var posixShells = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true, "ash": true,
}

var (
	shellOnce     sync.Once
	resolvedShell Shell
)

// ResolveShell returns the platform shell. The lookup runs once per process.
func ResolveShell() Shell {
	shellOnce.Do(func() {
		resolvedShell = resolveShell(runtime.GOOS, os.Getenv, exec.LookPath)
	})
	return resolvedShell
}

func resolveShell(goos string, getenv func(string) string, lookPath func(string) (string, error)) Shell {
	if goos == "windows" {
		return resolveWindowsShell(getenv, lookPath)
	}

	if sh := getenv("SHELL"); sh != "" {
		name := filepath.Base(sh)
		if posixShells[name] {
			if path, err := lookPath(sh); err == nil {
				return Shell{Name: name, Path: path, Flags: []string{"-c"}, POSIX: true}
			}
		}
	}
	return Shell{Name: "sh", Path: "/bin/sh", Flags: []string{"-c"}, POSIX: true}
}

func resolveWindowsShell(getenv func(string) string, lookPath func(string) (string, error)) Shell {
	// MSYS2 and Git Bash export MSYSTEM; prefer their bash so POSIX syntax works.
	if msystem := getenv("MSYSTEM"); msystem != "" {
		if path, err := lookPath("bash"); err == nil {
			env := "MSYS/MINGW"
			switch msystem {
			case "MINGW64":
				env = "Git Bash (MINGW64)"
			case "MINGW32":
				env = "Git Bash (MINGW32)"
			case "MSYS":
				env = "MSYS"
			}
			return Shell{Name: "bash", Path: path, Flags: []string{"-c"}, POSIX: true, Environment: env}
		}
	}

	comspec := getenv("ComSpec")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	name := strings.TrimSuffix(strings.ToLower(filepath.Base(comspec)), ".exe")
	return Shell{Name: name, Path: comspec, Flags: []string{"/C"}, Environment: "Windows Command Prompt"}
}
