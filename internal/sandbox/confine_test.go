// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfinement(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deeper"), 0o755))

	tests := []struct {
		name    string
		command string
		escapes bool
	}{
		{"plain command", "ls -la", false},
		{"cd into subdirectory", "cd sub && ls", false},
		{"cd to root itself", "cd " + root, false},
		{"cd to parent", "cd .. && ls", true},
		{"cd absolute outside", "cd /etc", true},
		{"quoted escape", `cd "../x"`, true},
		{"single quoted inside", `cd 'sub/deeper'`, false},
		{"sequential cds tracked", "cd sub; cd ../..", true},
		{"sequential cds stay inside", "cd sub/deeper; cd ../..", false},
		{"dynamic target allowed", "cd $TARGET", false},
		{"command substitution allowed", "cd $(mktemp -d)", false},
		{"cd dash ignored", "cd -", false},
		{"pushd outside", "pushd /var", true},
		{"git -C outside", "git -C / status", true},
		{"git -C inside", "git -C sub status", false},
		{"cd inside subshell", "(cd /) && ls", true},
		{"cd as echo argument", "echo cd /", false},
		{"unparseable passes through", "if then fi (", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConfinement(tt.command, root)
			if tt.escapes {
				assert.ErrorIs(t, err, ErrPolicyViolation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckConfinement_NoRoot(t *testing.T) {
	assert.NoError(t, CheckConfinement("cd /", ""))
}

func TestWithin(t *testing.T) {
	root := filepath.FromSlash("/work/project")
	assert.True(t, within(root, root))
	assert.True(t, within(root, filepath.Join(root, "a", "b")))
	assert.True(t, within(root, filepath.Join(root, "..project-notes")))
	assert.False(t, within(root, filepath.FromSlash("/work")))
	assert.False(t, within(root, filepath.FromSlash("/work/project2")))
	assert.False(t, within(root, ""))
}

func TestCommandNames(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"ls -la", []string{"ls"}},
		{"/usr/bin/rm -rf build", []string{"rm"}},
		{`\rm -rf build`, []string{"rm"}},
		{"command rm x", []string{"command", "rm"}},
		{"env -i PATH=/bin rm x", []string{"env", "rm"}},
		{"sudo -u root nice -n 5 rm x", []string{"sudo", "nice", "rm"}},
		{"timeout 5s rm x", []string{"timeout", "rm"}},
		{"time rm x", []string{"rm"}},
		{"ls | xargs -0 -n 1 rm", []string{"ls", "xargs", "rm"}},
		{"cd src && make; echo done", []string{"cd", "make", "echo"}},
		{"sh -c 'cd /tmp && rm -f x'", []string{"sh", "cd", "rm"}},
		{"echo $(whoami)", []string{"echo", "whoami"}},
		{"$TOOL --help", nil},
		{"if then fi (", nil},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.want, CommandNames(tt.command))
		})
	}
}
