// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/continuity"
)

// AtomicWriteFile writes data to path through a synced temporary file in the
// same directory, creating parent directories with dirPerm. Readers see
// either the old file or the complete new one.
func AtomicWriteFile(path string, data []byte, perm, dirPerm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := continuity.AtomicWriteFile(absPath, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", absPath, err)
	}
	return nil
}
