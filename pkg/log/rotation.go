// Log file rotation for the tool X endstop host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the size in megabytes before rotation. Default 10.
	MaxSize int

	// MaxBackups is the number of numbered backups kept. Default 3.
	MaxBackups int
}

// RotatingWriter is an io.Writer that rolls the log file over to
// numbered backups (toolx.log.1, toolx.log.2, ...) once it grows past
// MaxSize, the same scheme klippy.log uses.
type RotatingWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64
	maxBackups  int
	currentSize int64
	file        *os.File
}

// NewRotatingWriter opens (or creates) the log file for appending.
func NewRotatingWriter(cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log: filename is required")
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	w := &RotatingWriter{
		filename:   cfg.Filename,
		maxSize:    int64(maxSize) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0755); err != nil {
		return fmt.Errorf("log: create directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("log: open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("log: stat file: %w", err)
	}
	w.file = f
	w.currentSize = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// rotate shifts name.N-1 to name.N, drops anything beyond maxBackups,
// and reopens an empty file.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("log: close file: %w", err)
	}
	for _, old := range w.backups() {
		if old.index >= w.maxBackups {
			os.Remove(old.path)
		}
	}
	for i := w.maxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.filename, i)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, fmt.Sprintf("%s.%d", w.filename, i+1))
		}
	}
	if err := os.Rename(w.filename, w.filename+".1"); err != nil {
		w.open()
		return fmt.Errorf("log: rename file: %w", err)
	}
	return w.open()
}

type backupFile struct {
	path  string
	index int
}

// backups lists numbered backups sorted by index.
func (w *RotatingWriter) backups() []backupFile {
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []backupFile
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), base+".")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(suffix)
		if err != nil || idx < 1 {
			continue
		}
		out = append(out, backupFile{path: filepath.Join(dir, e.Name()), index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// CurrentSize returns the size of the active log file.
func (w *RotatingWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSize
}

// NewFileLogger returns a root logger writing to a rotating file and,
// when console is set, to stderr as well.
func NewFileLogger(prefix string, cfg RotationConfig, console bool) (*Logger, *RotatingWriter, error) {
	fw, err := NewRotatingWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetColorize(false)
	if console {
		logger.SetWriter(io.MultiWriter(os.Stderr, fw))
	} else {
		logger.SetWriter(fw)
	}
	return logger, fw, nil
}
