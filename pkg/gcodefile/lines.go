// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package gcodefile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LineReader enumerates a preprocessed file's command lines in order:
// full-line comments and blank lines are skipped, trailing comments are
// truncated at the first ';'. Each file can be enumerated any number of
// times; every Lines call starts from the beginning.
type LineReader struct {
	f   *os.File
	r   *bufio.Reader
	pos int64
}

// Lines opens a fresh enumeration of the file's command lines.
func (f *File) Lines() (*LineReader, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open print file: %w", err)
	}
	return &LineReader{f: file, r: bufio.NewReader(file)}, nil
}

// Next returns the next command line and the byte position in the file
// consumed so far, including skipped comments and blanks, so that progress
// estimation lines up with the preprocessing checkpoints. It returns io.EOF
// when the file is exhausted.
func (lr *LineReader) Next() (string, int64, error) {
	for {
		raw, err := lr.r.ReadString('\n')
		lr.pos += int64(len(raw))
		if err != nil && err != io.EOF {
			return "", lr.pos, fmt.Errorf("read print file: %w", err)
		}
		if raw == "" && err == io.EOF {
			return "", lr.pos, io.EOF
		}

		line := raw
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)

		if line != "" {
			return line, lr.pos, nil
		}
		if err == io.EOF {
			return "", lr.pos, io.EOF
		}
	}
}

// Position returns the byte position consumed so far.
func (lr *LineReader) Position() int64 {
	return lr.pos
}

// Close releases the underlying file handle.
func (lr *LineReader) Close() error {
	return lr.f.Close()
}
