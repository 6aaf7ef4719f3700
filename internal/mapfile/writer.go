// Package mapfile implements the compressed map stream: newline-separated
// UTF-8 lines, grouped per file as one path line followed by delta lines.
package mapfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Writer serializes per-file groups into a single gzip stream. Workers
// scan concurrently and take the writer lock only to emit a finished
// group, so groups are contiguous in the output.
type Writer struct {
	mu    sync.Mutex
	gz    *gzip.Writer
	bw    *bufio.Writer
	f     *os.File
	tmp   string
	final string
	buf   []byte
}

// Create opens a map writer targeting path. Output goes to a sibling
// temporary file and is renamed over path on Close, so a crashed dump
// never leaves a truncated map behind. Compression level 1 favors speed;
// the residency scan is the bottleneck, not the codec.
func Create(path string, level int) (*Writer, error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	gz, err := gzip.NewWriterLevel(bw, level)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &Writer{
		gz:    gz,
		bw:    bw,
		f:     f,
		tmp:   f.Name(),
		final: path,
	}, nil
}

// WriteGroup emits one file group: the path line followed by its deltas.
// Deltas must be in emission order (strictly increasing page index).
// An empty delta list writes nothing, so a file with no resident pages
// contributes nothing to the map.
func (w *Writer) WriteGroup(path string, deltas []uint64) error {
	if len(deltas) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = w.buf[:0]
	w.buf = append(w.buf, path...)
	w.buf = append(w.buf, '\n')
	for _, d := range deltas {
		w.buf = strconv.AppendUint(w.buf, d, 10)
		w.buf = append(w.buf, '\n')
	}
	_, err := w.gz.Write(w.buf)
	return err
}

// Close flushes the stream and atomically renames the temporary file over
// the target path.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.gz.Close(); err != nil {
		w.discard()
		return err
	}
	if err := w.bw.Flush(); err != nil {
		w.discard()
		return err
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return err
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("renaming map file: %w", err)
	}
	return nil
}

// Abort discards the temporary file without touching the target path.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.discard()
}

func (w *Writer) discard() {
	if w.f != nil {
		w.f.Close()
		os.Remove(w.tmp)
		w.f = nil
	}
}
