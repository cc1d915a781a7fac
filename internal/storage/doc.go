// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation transcripts in SQLite.
//
// A Store implements agent.Recorder: attach it to a session with
// agent.WithRecorder and every appended message is written as it happens.
// Sessions are listed, searched and exported for `aicli history`.
//
// # Usage
//
//	store, err := storage.Open(path, storage.WithModel("gpt-4o-mini"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	session := agent.NewSession(prompt, agent.WithRecorder(store))
//
//	metas, err := store.List(ctx, 20)
//	t, err := store.Get(ctx, metas[0].ID)
//	fmt.Print(t.ExportMarkdown())
package storage
