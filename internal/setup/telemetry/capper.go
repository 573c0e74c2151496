package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// LineCapper is an io.Writer that keeps a log file to roughly the last
// maxLines lines. The file is rewritten with the retained lines every time
// maxLines new lines have been written past the cap.
type LineCapper struct {
	mu       sync.Mutex
	writer   io.Writer
	path     string
	lines    []string // Ring of the most recent lines
	next     int      // Next write position in lines
	filled   bool     // Whether lines has wrapped at least once
	pending  int      // Lines written since the last rewrite
	maxLines int
}

// NewLineCapper wraps writer, which must be the file at path. A maxLines of
// zero or less disables capping.
func NewLineCapper(writer io.Writer, maxLines int, path string) *LineCapper {
	c := &LineCapper{
		writer:   writer,
		path:     path,
		maxLines: maxLines,
	}

	if maxLines > 0 {
		c.lines = make([]string, maxLines)
	}

	return c
}

// Write implements io.Writer.
func (c *LineCapper) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.writer.Write(p)
	if err != nil || c.maxLines <= 0 {
		return n, err
	}

	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}

		c.lines[c.next] = line
		c.next = (c.next + 1) % c.maxLines
		c.filled = c.filled || c.next == 0
		c.pending++

		if c.filled && c.pending >= 2*c.maxLines {
			if err := c.rewrite(); err != nil {
				return n, fmt.Errorf("failed to rotate log file: %w", err)
			}

			c.pending = c.maxLines
		}
	}

	return n, nil
}

// Retained returns the retained lines, oldest first.
func (c *LineCapper) Retained() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.retained()
}

func (c *LineCapper) retained() []string {
	if !c.filled {
		return slices.Clone(c.lines[:c.next])
	}

	out := make([]string, 0, c.maxLines)
	out = append(out, c.lines[c.next:]...)

	return append(out, c.lines[:c.next]...)
}

// rewrite replaces the file with the retained lines and reopens it.
func (c *LineCapper) rewrite() error {
	temp, err := os.CreateTemp(filepath.Dir(c.path), "temp-log-")
	if err != nil {
		return err
	}

	tempPath := temp.Name()

	if _, err := temp.WriteString(strings.Join(c.retained(), "\n") + "\n"); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	if closer, ok := c.writer.(io.Closer); ok {
		closer.Close()
	}

	// Windows cannot rename over an existing file.
	os.Remove(c.path)

	if err := os.Rename(tempPath, c.path); err != nil {
		return err
	}

	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	c.writer = file

	return nil
}
