package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	lines   uint64
	closed  bool

	onClosed func(path string)
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("journal: writer closed")

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnClosed registers fn to run with the path of every file the writer
// finishes, on rotation and on Close. fn runs on the writing goroutine after
// the writer lock is released.
func (w *JSONLZstdWriter) OnClosed(fn func(path string)) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

// Close finishes the current file. Later writes fail with ErrClosed.
func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	done, err := w.closeLocked()
	fn := w.onClosed
	w.mu.Unlock()
	notify(fn, done)
	return err
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	done, err := w.writeLocked(v)
	fn := w.onClosed
	w.mu.Unlock()
	notify(fn, done)
	return err
}

// writeLocked returns the path of a file finished by rotation, if any.
func (w *JSONLZstdWriter) writeLocked(v any) (string, error) {
	if w.closed {
		return "", ErrClosed
	}
	var done string
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		var err error
		if done, err = w.rotateLocked(hour); err != nil {
			return done, err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return done, err
	}
	if _, err := w.w.Write(b); err != nil {
		return done, err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return done, err
	}
	if err := w.w.Flush(); err != nil {
		return done, err
	}
	w.lines++
	// Flush ends a zstd block so a crash loses at most the current line.
	return done, w.enc.Flush()
}

func notify(fn func(string), path string) {
	if fn != nil && path != "" {
		fn(path)
	}
}

// Lines counts entries written since the writer was created.
func (w *JSONLZstdWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *JSONLZstdWriter) rotateLocked(hour string) (string, error) {
	done, err := w.closeLocked()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return done, err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return done, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return done, err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return done, nil
}

// closeLocked returns the path of the file it finished cleanly.
func (w *JSONLZstdWriter) closeLocked() (string, error) {
	var (
		err1   error
		closed string
	)
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		closed = w.f.Name()
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	if err1 != nil {
		return "", err1
	}
	return closed, nil
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Journal writes one JSONL entry per relayed message (compressed).
type Journal struct{ w *JSONLZstdWriter }

func NewJournal(dataDir string) *Journal {
	return &Journal{w: NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), "messages")}
}

func (j *Journal) Write(v any) error { return j.w.Write(v) }
func (j *Journal) Lines() uint64     { return j.w.Lines() }
func (j *Journal) Close() error      { return j.w.Close() }

// OnClosed see JSONLZstdWriter.OnClosed.
func (j *Journal) OnClosed(fn func(path string)) { j.w.OnClosed(fn) }

// ListFiles returns the journal files of prefix in dir, oldest first.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadFile calls fn for every line of a journal file. A file cut short by a
// crash ends at its last complete line.
func ReadFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}
