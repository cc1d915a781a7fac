// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
)

// capture collects stdout and stderr against one shared byte budget. Bytes
// past the budget are drained and counted so the child never blocks on a
// full pipe.
type capture struct {
	mu        sync.Mutex
	max       int64
	written   int64
	discarded int64
	stdout    bytes.Buffer
	stderr    bytes.Buffer
}

func newCapture(max int64) *capture {
	return &capture{max: max}
}

// streamWriter routes writes for one stream into the shared capture.
type streamWriter struct {
	c   *capture
	buf *bytes.Buffer
}

func (w streamWriter) Write(p []byte) (int, error) {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(p)
	remaining := c.max - c.written
	if remaining <= 0 {
		c.discarded += int64(n)
		return n, nil
	}
	if int64(n) > remaining {
		w.buf.Write(p[:remaining])
		c.written += remaining
		c.discarded += int64(n) - remaining
		return n, nil
	}
	w.buf.Write(p)
	c.written += int64(n)
	return n, nil
}

func (c *capture) stdoutWriter() io.Writer { return streamWriter{c: c, buf: &c.stdout} }
func (c *capture) stderrWriter() io.Writer { return streamWriter{c: c, buf: &c.stderr} }

// pump copies r into w until EOF. A closed pipe after a forced kill is not
// an error.
func pump(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func (c *capture) overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded > 0
}

func (c *capture) snapshot() (stdout, stderr string, discarded int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String(), c.stderr.String(), c.discarded
}
