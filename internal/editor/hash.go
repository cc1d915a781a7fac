// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	_ "crypto/sha256"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Hash returns the content hash of data as an OCI digest ("sha256:<hex>").
func Hash(data string) string {
	return digest.Canonical.FromString(data).String()
}

// normalizeHash accepts a full digest or a bare sha256 hex string.
func normalizeHash(h string) (digest.Digest, error) {
	h = strings.TrimSpace(h)
	if !strings.Contains(h, ":") {
		h = string(digest.Canonical) + ":" + strings.ToLower(h)
	}
	return digest.Parse(h)
}

// checkHash compares the expected hash with the on-disk content. An empty
// expectation always passes.
func checkHash(path, expected, content string) error {
	if expected == "" {
		return nil
	}
	want, err := normalizeHash(expected)
	if err != nil {
		return newError(KindConflict, path, "expected_hash %q is not a valid digest: %v", expected, err)
	}
	got := want.Algorithm().FromString(content)
	if got != want {
		return newError(KindConflict, path,
			"file changed since it was read (expected %s, found %s); read it again", want, got)
	}
	return nil
}
