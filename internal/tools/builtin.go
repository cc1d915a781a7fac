// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/jeranaias/aicli/internal/editor"
	"github.com/jeranaias/aicli/internal/sandbox"
	"github.com/jeranaias/aicli/internal/util"
)

// maxPreviewBytes bounds the diff shown in a confirmation prompt.
const maxPreviewBytes = 8 * 1024

// CommandRunner runs a shell command under a policy.
type CommandRunner interface {
	Execute(ctx context.Context, command string, policy sandbox.Policy) (sandbox.Result, error)
}

// FileEditor applies editor operations.
type FileEditor interface {
	Apply(ctx context.Context, op editor.Operation) (editor.Result, error)
	Preview(ctx context.Context, op editor.Operation) (editor.Result, error)
	OutsideRoot(path string) bool
}

// RegisterBuiltins registers execute_command and file_editor.
func RegisterBuiltins(r *Registry, runner CommandRunner, policy sandbox.Policy, ed FileEditor) error {
	if err := r.Register(ExecuteCommandTool(runner, policy)); err != nil {
		return err
	}
	return r.Register(FileEditorTool(ed))
}

// =============================================================================
// EXECUTE COMMAND
// =============================================================================

// CommandArgs are the arguments of execute_command.
type CommandArgs struct {
	Command string `json:"command" jsonschema:"minLength=1" jsonschema_description:"The shell command line to run in the working directory."`
}

// ExecuteCommandTool runs shell commands through runner. Its tier is safe
// and raised by the risk policy patterns.
func ExecuteCommandTool(runner CommandRunner, policy sandbox.Policy) ToolSpec {
	desc := fmt.Sprintf("Run a shell command in the working directory (%s) and return its output. "+
		"Stdout comes first, then stderr; a non-zero exit status is reported. "+
		"Commands are killed after %s. Use file_editor rather than shell redirection to change files.",
		policy.Root, policy.Timeout)

	spec := NewTool("execute_command", desc, TierSafe, func(ctx context.Context, args CommandArgs) (string, error) {
		res, err := runner.Execute(ctx, args.Command, policy)
		return formatCommandResult(res, err), err
	})
	spec.Subject = func(raw json.RawMessage) string {
		return decodeArgs[CommandArgs](raw).Command
	}
	spec.Summarize = func(_ context.Context, raw json.RawMessage) string {
		return fmt.Sprintf("run %s in %s", decodeArgs[CommandArgs](raw).Command, shellescape.Quote(policy.Root))
	}
	return spec
}

func formatCommandResult(res sandbox.Result, err error) string {
	out := res.Combined()
	if err != nil {
		// The error message says what happened; keep whatever was captured.
		return strings.TrimRight(out, "\n")
	}
	if res.ExitCode != 0 {
		if out == "" {
			return fmt.Sprintf("exit status %d (no output)", res.ExitCode)
		}
		return fmt.Sprintf("exit status %d\n%s", res.ExitCode, out)
	}
	if out == "" {
		return "command completed (no output)"
	}
	return out
}

// =============================================================================
// FILE EDITOR
// =============================================================================

// FileEditorArgs are the arguments of file_editor.
type FileEditorArgs struct {
	Subcommand   string `json:"subcommand" jsonschema:"enum=read,enum=search,enum=replace_exact,enum=apply_patch,enum=search_replace,enum=overwrite,enum=delete,enum=write,enum=apply_diff,enum=search_and_replace" jsonschema_description:"read: return content and hash. search: regex matches with line numbers. replace_exact: replace data (which must occur exactly once) with replacement. apply_patch: apply the unified diff in data. search_replace: regex replace-all of data with replacement. overwrite: replace the whole file with data (existing files need expected_hash). delete: remove the file."`
	Filename     string `json:"filename" jsonschema:"minLength=1" jsonschema_description:"File path, relative to the working directory."`
	Data         string `json:"data,omitempty" jsonschema_description:"Text to find, unified diff, regular expression or new content, depending on subcommand."`
	Replacement  string `json:"replacement,omitempty" jsonschema_description:"Replacement text for replace_exact and search_replace."`
	ExpectedHash string `json:"expected_hash,omitempty" jsonschema_description:"Hash returned by the last read. The edit fails with a conflict if the file changed since."`
}

func (a FileEditorArgs) operation() (editor.Operation, error) {
	mode, err := editor.ParseMode(a.Subcommand)
	if err != nil {
		return editor.Operation{}, &SchemaError{Tool: "file_editor", Msg: err.Error()}
	}
	return editor.Operation{
		Path:         a.Filename,
		Mode:         mode,
		ExpectedHash: a.ExpectedHash,
		Payload:      a.Data,
		Replacement:  a.Replacement,
	}, nil
}

// FileEditorTool edits files through ed. Reads are safe, edits ambiguous,
// and deletes or edits outside the root destructive.
func FileEditorTool(ed FileEditor) ToolSpec {
	desc := "Read, search and edit files under the working directory. " +
		"Read a file first and pass its hash as expected_hash when editing. " +
		"Prefer replace_exact or apply_patch over overwrite for existing files."

	spec := NewTool("file_editor", desc, TierAmbiguous, func(ctx context.Context, args FileEditorArgs) (string, error) {
		op, err := args.operation()
		if err != nil {
			return "", err
		}
		res, err := ed.Apply(ctx, op)
		if err != nil {
			return "", err
		}
		return formatEditResult(op, res), nil
	})

	spec.Classify = func(raw json.RawMessage) Tier {
		op, err := decodeArgs[FileEditorArgs](raw).operation()
		if err != nil {
			return TierAmbiguous
		}
		outside := ed.OutsideRoot(op.Path)
		switch {
		case op.Mode == editor.ModeDelete:
			return TierDestructive
		case outside && op.Mode.Mutates():
			return TierDestructive
		case outside:
			return TierAmbiguous
		case !op.Mode.Mutates():
			return TierSafe
		default:
			return TierAmbiguous
		}
	}

	spec.Precheck = func(ctx context.Context, raw json.RawMessage) error {
		op, err := decodeArgs[FileEditorArgs](raw).operation()
		if err != nil || !op.Mode.Mutates() || op.Mode == editor.ModeDelete {
			return nil
		}
		_, err = ed.Preview(ctx, op)
		if errors.Is(err, editor.ErrConflict) || errors.Is(err, editor.ErrNotFound) || errors.Is(err, editor.ErrInvalidPatch) {
			return err
		}
		return nil
	}

	spec.Summarize = func(ctx context.Context, raw json.RawMessage) string {
		op, err := decodeArgs[FileEditorArgs](raw).operation()
		if err != nil {
			return ""
		}
		head := fmt.Sprintf("%s %s", op.Mode, shellescape.Quote(op.Path))
		if !op.Mode.Mutates() || op.Mode == editor.ModeDelete {
			return head
		}
		preview, err := ed.Preview(ctx, op)
		if err != nil {
			return fmt.Sprintf("%s (preview failed: %v)", head, err)
		}
		d, dropped := util.TruncateBytes(preview.Diff, maxPreviewBytes)
		if dropped > 0 {
			d += fmt.Sprintf("\n[diff truncated: %d bytes omitted]", dropped)
		}
		return head + "\n" + d
	}
	return spec
}

func formatEditResult(op editor.Operation, res editor.Result) string {
	var sb strings.Builder
	switch op.Mode {
	case editor.ModeRead:
		fmt.Fprintf(&sb, "File: %s\nHash: %s\n\n%s", res.Path, res.Hash, res.Content)
	case editor.ModeSearch:
		if len(res.Matches) == 0 {
			fmt.Fprintf(&sb, "No matches for %q in %s", op.Payload, res.Path)
			break
		}
		fmt.Fprintf(&sb, "%d matches for %q in %s:\n", len(res.Matches), op.Payload, res.Path)
		for _, m := range res.Matches {
			fmt.Fprintf(&sb, "  %d:%d %s\n", m.Line, m.Column, util.TruncateRunes(m.Text, 200))
		}
		fmt.Fprintf(&sb, "Hash: %s", res.Hash)
	case editor.ModeDelete:
		fmt.Fprintf(&sb, "Deleted %s", res.Path)
	default:
		verb := "Updated"
		if res.Created {
			verb = "Created"
		}
		fmt.Fprintf(&sb, "%s %s\nHash: %s", verb, res.Path, res.Hash)
		if res.Diff != "" {
			sb.WriteString("\n\n")
			sb.WriteString(res.Diff)
		} else {
			sb.WriteString("\n(no changes)")
		}
	}
	return sb.String()
}
