// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the aicli command line.
//
// The root command runs the agent: with -p it answers one prompt and
// exits, otherwise it starts an interactive session. Subcommands manage
// configuration (config), stored transcripts (history) and list the
// available tools (tools).
//
// # Interactive Session
//
//   - !cmd runs cmd in the sandbox and adds its output to the conversation
//   - ! alone toggles shell mode
//   - clear starts a new conversation
//   - /tools and /history list tools and recent tool calls
//   - Ctrl+C cancels the running turn; at an empty prompt it offers to exit
//
// # Exit Codes
//
//   - 0 success
//   - 1 general error or a run that ended without an answer
//   - 2 usage or configuration error
//   - 130 interrupted
//
// # Usage
//
//	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
package cli
