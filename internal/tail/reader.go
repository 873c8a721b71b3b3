// Package tail polls the daemon log and drives a cooperative tick schedule.
package tail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const (
	readChunk    = 8 * 1024
	maxTailBytes = 1 << 20
)

// FileReader returns the most recent lines of a log file.
type FileReader struct {
	Path  string
	Lines int
}

// NewFileReader creates a FileReader for the last lines of path.
func NewFileReader(path string, lines int) *FileReader {
	return &FileReader{Path: path, Lines: lines}
}

// ReadTail returns the last r.Lines lines of the file. A missing file yields
// an empty string and no error. At most 1 MiB is read from the end.
func (r *FileReader) ReadTail() (string, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log: %w", err)
	}

	size := info.Size()
	if size == 0 || r.Lines <= 0 {
		return "", nil
	}

	var buf []byte
	offset := size
	for offset > 0 && int64(len(buf)) < maxTailBytes {
		n := int64(readChunk)
		if offset < n {
			n = offset
		}
		offset -= n

		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read log: %w", err)
		}
		buf = append(chunk, buf...)

		// One extra newline is needed to know the first kept line is whole.
		if bytes.Count(buf, []byte{'\n'}) > r.Lines {
			break
		}
	}

	return lastLines(buf, r.Lines, offset == 0), nil
}

// lastLines keeps the trailing n lines of buf. When buf does not start at the
// beginning of the file the leading partial line is dropped.
func lastLines(buf []byte, n int, fromStart bool) string {
	buf = bytes.TrimRight(buf, "\n")
	lines := bytes.Split(buf, []byte{'\n'})
	if !fromStart && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte{'\n'}))
}
