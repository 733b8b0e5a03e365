package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes caps a single log file before same-day rollover.
const DefaultMaxBytes int64 = 64 << 20

// RotatingWriter appends to a dated log file, starting a fresh file each
// UTC day and rolling over within the day once maxBytes is reached.
//
// For a base path of logs/docsense.log the active file is
// logs/docsense-2026-08-30.log, then logs/docsense-2026-08-30-2.log after a
// size rollover. The base path itself is maintained as a symlink to the
// active file so `tail -F logs/docsense.log` keeps working across rotations.
type RotatingWriter struct {
	basePath string
	maxBytes int64

	mu   sync.Mutex
	day  string // YYYY-MM-DD of the open file
	seq  int    // 1-based rollover sequence within the day
	file *os.File
	size int64
}

// NewRotatingWriter opens a rotating writer rooted at basePath. A basePath
// of "-" disables file output and returns a writer backed by io.Discard.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &RotatingWriter{basePath: basePath, maxBytes: maxBytes}
	if err := w.ensureOpen(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

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

// ensureOpen opens the file for the current UTC day, rolling the sequence
// forward when the pending write would push the file past maxBytes.
func (w *RotatingWriter) ensureOpen(pending int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.day != today:
		w.day = today
		w.seq = 1
	case w.size+pending > w.maxBytes:
		w.seq++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir, name := filepath.Split(w.basePath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	dated := fmt.Sprintf("%s-%s%s", stem, w.day, ext)
	if w.seq > 1 {
		dated = fmt.Sprintf("%s-%s-%d%s", stem, w.day, w.seq, ext)
	}
	path := filepath.Join(dir, dated)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = f
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.relink(dated, path)
	return nil
}

// relink points the base path at the active dated file. The symlink target
// is the bare file name so it resolves relative to the link's own directory
// regardless of the process working directory. On filesystems without
// symlinks a hard link or a plain pointer file is used instead.
func (w *RotatingWriter) relink(name, path string) {
	base := strings.TrimSpace(w.basePath)
	if base == "" || base == "-" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, derr := os.Readlink(base); derr == nil && dest == name {
				return
			}
		}
		_ = os.Remove(base)
	}
	if err := os.Symlink(name, base); err == nil {
		return
	}
	if err := os.Link(path, base); err == nil {
		return
	}
	if f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		defer f.Close()
		_, _ = fmt.Fprintf(f, "current log file: %s\n", name)
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
