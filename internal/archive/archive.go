package archive

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	// DefaultMaxBuffer is the number of appended rows held before a merge.
	DefaultMaxBuffer = 500

	// DefaultMaxRows is the row ceiling of one chunk file.
	DefaultMaxRows = 50000

	// Extension is the suffix of every chunk file.
	Extension = ".jsonl.br"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("archive is closed")

// settings holds the options shared by every archive type.
type settings struct {
	maxBuffer int
	maxRows   int
	logger    *slog.Logger
	onWrite   func(rows int)
}

// Option configures an Archive.
type Option func(*settings)

// WithMaxBuffer sets how many appended rows are buffered before a merge.
func WithMaxBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBuffer = n
		}
	}
}

// WithMaxRows sets the row ceiling of a chunk.
func WithMaxRows(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWriteHook registers fn to be called after every chunk write.
func WithWriteHook(fn func(rows int)) Option {
	return func(s *settings) {
		s.onWrite = fn
	}
}

// Archive is an append-only sink that writes rows of T to rotating,
// brotli-compressed JSON lines files named <name>-NNNN.jsonl.br.
//
// Appended rows are buffered. A buffer longer than the configured maximum is
// merged into the active table, replacing rows with the same key
// (keep-last). A table longer than the row ceiling is written to the active
// chunk and a new, empty table with the next chunk index is started.
type Archive[T any] struct {
	mu sync.Mutex

	dir  string
	name string
	key  func(T) string
	settings

	buffer []T
	table  []T
	index  map[string]int
	chunk  int
	closed bool
}

// Open opens the archive name in dir. The highest numbered chunk becomes the
// active table unless it already reached the row ceiling, in which case a new
// chunk is started.
func Open[T any](dir, name string, key func(T) string, opts ...Option) (*Archive[T], error) {
	s := settings{
		maxBuffer: DefaultMaxBuffer,
		maxRows:   DefaultMaxRows,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	a := &Archive[T]{
		dir:      dir,
		name:     name,
		key:      key,
		settings: s,
		index:    make(map[string]int),
	}

	chunks, err := Chunks(dir, name)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return a, nil
	}

	last := chunks[len(chunks)-1]
	a.chunk = last.Index
	rows, err := ReadChunk[T](last.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load active chunk: %w", err)
	}
	if len(rows) >= a.maxRows {
		a.chunk++
		return a, nil
	}
	a.mergeRows(rows)
	a.logger.Debug("archive chunk loaded", "archive", name, "chunk", a.chunk, "rows", len(a.table))
	return a, nil
}

// Append adds v to the archive.
func (a *Archive[T]) Append(v T) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	a.buffer = append(a.buffer, v)
	if len(a.buffer) <= a.maxBuffer {
		return nil
	}

	a.mergeRows(a.buffer)
	a.buffer = a.buffer[:0]
	if len(a.table) <= a.maxRows {
		return nil
	}
	if err := a.writeActive(); err != nil {
		return err
	}
	a.chunk++
	a.table = nil
	a.index = make(map[string]int)
	return nil
}

// Close merges and writes the remaining rows. It is safe to call twice.
func (a *Archive[T]) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	a.mergeRows(a.buffer)
	a.buffer = nil
	if len(a.table) == 0 {
		return nil
	}
	return a.writeActive()
}

// ActiveChunk returns the index of the chunk currently being filled.
func (a *Archive[T]) ActiveChunk() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunk
}

// Pending returns the number of rows not yet written to disk.
func (a *Archive[T]) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer) + len(a.table)
}

// mergeRows folds rows into the table; a later row replaces an earlier row
// with the same key in place.
func (a *Archive[T]) mergeRows(rows []T) {
	for _, r := range rows {
		k := a.key(r)
		if i, ok := a.index[k]; ok {
			a.table[i] = r
			continue
		}
		a.index[k] = len(a.table)
		a.table = append(a.table, r)
	}
}

func (a *Archive[T]) writeActive() error {
	path := ChunkPath(a.dir, a.name, a.chunk)
	if err := writeChunk(path, a.table); err != nil {
		return err
	}
	a.logger.Info("archive chunk written", "archive", a.name, "chunk", a.chunk, "rows", len(a.table), "path", path)
	if a.onWrite != nil {
		a.onWrite(len(a.table))
	}
	return nil
}

// ChunkPath returns the file path of chunk index of archive name.
func ChunkPath(dir, name string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%04d%s", name, index, Extension))
}

// Chunk is one chunk file on disk.
type Chunk struct {
	Index int
	Path  string
}

// Chunks lists the chunks of archive name in dir in index order.
func Chunks(dir, name string) ([]Chunk, error) {
	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+Extension))
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(matches))
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), Extension)
		n, err := strconv.Atoi(strings.TrimPrefix(base, name+"-"))
		if err != nil {
			continue // another archive sharing the prefix
		}
		chunks = append(chunks, Chunk{Index: n, Path: m})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// ErrInvalidRow wraps a chunk row that does not decode or validate.
var ErrInvalidRow = errors.New("invalid archive row")

// maxLine bounds a single encoded row.
const maxLine = 16 << 20

// validator is implemented by rows that check their own fields once decoded.
type validator interface {
	Validate() error
}

// ReadChunk decodes every row of a chunk file and stops at the first row
// that fails to decode or validate.
func ReadChunk[T any](path string) ([]T, error) {
	var rows []T
	err := ScanChunk(path, func(_ int, v T, rowErr error) error {
		if rowErr != nil {
			return rowErr
		}
		rows = append(rows, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ScanChunk decodes a chunk file one row at a time and calls fn with the
// 1-based row number. Rows carrying unknown fields, or failing Validate when
// T implements it, reach fn with an error wrapping ErrInvalidRow; returning
// nil from fn moves on to the next row.
func ScanChunk[T any](path string, fn func(row int, v T, err error) error) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open chunk: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(brotli.NewReader(bufio.NewReader(f)))
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	row := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		row++
		v, rowErr := decodeRow[T](line)
		if rowErr != nil {
			rowErr = fmt.Errorf("%w: %s row %d: %w", ErrInvalidRow, path, row, rowErr)
		}
		if err := fn(row, v, rowErr); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read %s after row %d: %w", path, row, err)
	}
	return nil
}

func decodeRow[T any](line []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if dec.More() {
		return v, errors.New("trailing data after row")
	}
	if val, ok := any(v).(validator); ok {
		if err := val.Validate(); err != nil {
			return v, err
		}
	}
	return v, nil
}

// writeChunk replaces path with rows, going through a temporary file so an
// interrupted write leaves the previous chunk intact.
func writeChunk[T any](path string, rows []T) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create chunk: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	zw := brotli.NewWriterLevel(bw, brotli.DefaultCompression)
	enc := json.NewEncoder(zw)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode chunk row: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress chunk: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close chunk: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move chunk into place: %w", err)
	}
	return nil
}
