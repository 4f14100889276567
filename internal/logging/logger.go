// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging implements the A2 sink: a bounded-channel, single-thread
// drained slog backend with an advisory exclusive lock on the log file and
// size-based rotation of rotated segments through gzip.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nishisan-dev/stashd/internal/config"
)

// sinkCapacity matches original_source/src/log.rs's sync_channel(100): the
// sender blocks once this many unwritten entries are queued.
const sinkCapacity = 100

type entry struct {
	t     time.Time
	level config.LogLevel
	msg   string
}

// Sink drains formatted log lines from a bounded channel on a single
// goroutine, writing to a locked file and optionally echoing to stdout.
type Sink struct {
	entries    chan entry
	fileLevel  config.LogLevel
	termLevel  *config.LogLevel
	rotateSize int64

	mu   sync.Mutex // guards file, written below; only touched by the drain loop (including rotation) and Close
	path string
	file *os.File

	wg sync.WaitGroup
}

// NewSink opens cfg.LogPath (truncating if cfg.OverwriteLog), takes an
// advisory exclusive lock on it for the run, and starts the drain goroutine.
func NewSink(cfg *config.ServerConfig) (*Sink, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if cfg.OverwriteLog {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(cfg.LogPath, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", cfg.LogPath, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking log file %s: %w", cfg.LogPath, err)
	}

	s := &Sink{
		entries:    make(chan entry, sinkCapacity),
		fileLevel:  cfg.LogLevel,
		termLevel:  cfg.TermLogLevel,
		rotateSize: cfg.LogRotateSize,
		path:       cfg.LogPath,
		file:       f,
	}
	s.wg.Add(1)
	go s.drain()
	return s, nil
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for e := range s.entries {
		line := fmt.Sprintf("[%s] [%s] %s\n", e.t.Format(time.RFC3339), levelTag(e.level), e.msg)

		if e.level >= s.fileLevel {
			s.mu.Lock()
			if _, err := s.file.WriteString(line); err != nil {
				fmt.Fprintf(os.Stderr, "stashd: writing to log file: %v\n", err)
			}
			s.maybeRotateLocked()
			s.mu.Unlock()
		}
		if s.termLevel != nil && e.level >= *s.termLevel {
			fmt.Fprint(os.Stdout, line)
		}
	}
}

// maybeRotateLocked rotates s.file once it crosses s.rotateSize, gzip
// compressing the rotated segment. Called with s.mu held.
func (s *Sink) maybeRotateLocked() {
	if s.rotateSize <= 0 {
		return
	}
	info, err := s.file.Stat()
	if err != nil || info.Size() < s.rotateSize {
		return
	}

	rotatedPath := fmt.Sprintf("%s.%d", s.path, time.Now().UnixNano())
	syscall.Flock(int(s.file.Fd()), syscall.LOCK_UN)
	s.file.Close()

	if err := os.Rename(s.path, rotatedPath); err != nil {
		fmt.Fprintf(os.Stderr, "stashd: rotating log file: %v\n", err)
	} else {
		go compressRotated(rotatedPath)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stashd: reopening log file after rotation: %v\n", err)
		return
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		fmt.Fprintf(os.Stderr, "stashd: re-locking log file after rotation: %v\n", err)
	}
	s.file = f
}

func compressRotated(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return
	}
	if err := gw.Close(); err != nil {
		return
	}
	os.Remove(path)
}

func levelTag(l config.LogLevel) string {
	switch l {
	case config.LevelDebug:
		return "debug"
	case config.LevelInfo:
		return "info"
	case config.LevelWarning:
		return "Warning"
	case config.LevelError:
		return "Error"
	case config.LevelCritical:
		return "CRITICAL"
	default:
		return "unknown"
	}
}

// Close stops accepting entries, waits for the drain goroutine to finish,
// and releases the file lock.
func (s *Sink) Close() error {
	close(s.entries)
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	syscall.Flock(int(s.file.Fd()), syscall.LOCK_UN)
	return s.file.Close()
}

// Handler adapts Sink into a slog.Handler, so the rest of the codebase uses
// *slog.Logger pervasively while the wire format stays the line-oriented
// `[<timestamp>] [<LEVEL>] <message>` of spec.md §6.3.
type Handler struct {
	sink  *Sink
	attrs []slog.Attr
	group string
}

// NewLogger builds a *slog.Logger backed by sink. Flushing and releasing
// the log file is left to sink.Close.
func NewLogger(sink *Sink) *slog.Logger {
	return slog.New(&Handler{sink: sink})
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return slogToConfigLevel(level) >= h.minLevel()
}

func (h *Handler) minLevel() config.LogLevel {
	if h.sink.termLevel != nil && *h.sink.termLevel < h.sink.fileLevel {
		return *h.sink.termLevel
	}
	return h.sink.fileLevel
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)
	if h.group != "" {
		sb.WriteString(" ")
		sb.WriteString(h.group)
		sb.WriteString("={")
	}
	for _, a := range h.attrs {
		sb.WriteString(" ")
		sb.WriteString(a.Key)
		sb.WriteString("=")
		sb.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		sb.WriteString(" ")
		sb.WriteString(a.Key)
		sb.WriteString("=")
		sb.WriteString(a.Value.String())
		return true
	})
	if h.group != "" {
		sb.WriteString(" }")
	}

	h.sink.entries <- entry{t: r.Time, level: slogToConfigLevel(r.Level), msg: sb.String()}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = name
	return &next
}

func slogToConfigLevel(l slog.Level) config.LogLevel {
	switch {
	case l < slog.LevelInfo:
		return config.LevelDebug
	case l < slog.LevelWarn:
		return config.LevelInfo
	case l < slog.LevelError:
		return config.LevelWarning
	default:
		return config.LevelError
	}
}
