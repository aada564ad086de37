// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package dcproto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUploadInProgress is returned by Start while another upload is still
// open on the same session: at most one upload is open per session at
// a time, and concurrent start requests are rejected with a textual
// warning on the text channel.
var ErrUploadInProgress = errors.New("dcproto: an upload is already in progress")

// ErrUploadsDisabled is returned when no upload directory is configured.
var ErrUploadsDisabled = errors.New("dcproto: file uploads are disabled")

// UploadManager receives one session's file uploads: a
// FILE_UPLOAD_START control message opens a destination file under the
// configured directory, binary chunks append to it, and
// FILE_UPLOAD_END/FILE_UPLOAD_ERROR finalize or abort it.
type UploadManager struct {
	dir string

	activePath   string
	activeFile   *os.File
	expectedSize int64
	writtenSize  int64
}

// NewUploadManager creates an upload manager writing into dir. An empty
// dir disables uploads entirely.
func NewUploadManager(dir string) *UploadManager {
	return &UploadManager{dir: dir}
}

// Start opens a new upload destination. relPath is the peer-supplied
// relative path, sanitized against traversal out of the upload
// directory. size is the peer's declared total size; chunks beyond it
// abort the upload. A declared size of 0 disables the size check.
func (m *UploadManager) Start(relPath string, size int64) error {
	if m.dir == "" {
		return ErrUploadsDisabled
	}
	if m.activeFile != nil {
		return ErrUploadInProgress
	}

	dest, err := m.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("dcproto: creating upload directory: %w", err)
	}
	file, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("dcproto: opening upload destination: %w", err)
	}

	m.activePath = dest
	m.activeFile = file
	m.expectedSize = size
	m.writtenSize = 0
	return nil
}

// Chunk appends one binary chunk to the open upload. Chunks with no
// open upload are dropped silently — the peer may still be flushing
// after an abort.
func (m *UploadManager) Chunk(data []byte) error {
	if m.activeFile == nil {
		return nil
	}
	if next := m.writtenSize + int64(len(data)); m.expectedSize > 0 && next > m.expectedSize {
		m.Abort()
		return fmt.Errorf("dcproto: upload exceeded declared size %d", m.expectedSize)
	}
	if _, err := m.activeFile.Write(data); err != nil {
		m.Abort()
		return fmt.Errorf("dcproto: writing upload chunk: %w", err)
	}
	m.writtenSize += int64(len(data))
	return nil
}

// Finish closes the open upload, keeping the file. The path argument is
// the peer's echo of the upload path and is informational only — there
// is at most one open upload to finalize.
func (m *UploadManager) Finish(relPath string) error {
	if m.activeFile == nil {
		return fmt.Errorf("dcproto: no upload in progress for %q", relPath)
	}
	err := m.activeFile.Close()
	m.activeFile = nil
	m.activePath = ""
	return err
}

// Abort closes and removes the open upload's partial file. Safe to call
// with no upload open.
func (m *UploadManager) Abort() {
	if m.activeFile == nil {
		return
	}
	m.activeFile.Close()
	os.Remove(m.activePath)
	m.activeFile = nil
	m.activePath = ""
}

// Active reports whether an upload is currently open.
func (m *UploadManager) Active() bool {
	return m.activeFile != nil
}

// resolve joins relPath under the upload directory, rejecting absolute
// paths and any traversal that would escape it.
func (m *UploadManager) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", errors.New("dcproto: empty upload path")
	}
	cleaned := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dcproto: upload path %q escapes the upload directory", relPath)
	}
	return filepath.Join(m.dir, cleaned), nil
}
