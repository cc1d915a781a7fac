// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sandbox runs shell commands on behalf of the model.
//
// A command runs through the platform shell, resolved once per process, with
// its working directory pinned to the policy root, an allowlisted environment,
// a hard timeout and a shared output budget.
//
// # Key Types
//
//   - Policy: root, environment allowlist, timeout and output budget
//   - Executor: spawns the shell and captures output
//   - Result: exit code, stdout, stderr and duration
//   - ExecutionError: timeout, spawn_failure, output_overflow or policy_violation
//
// # Confinement
//
// Literal cd, pushd and git -C targets are resolved before anything is
// spawned and rejected when they leave the root. Arbitrary shell semantics
// (variables, subshells, absolute paths in arguments) are not contained; this
// is a best-effort boundary, not a security sandbox.
package sandbox
