// Package snapshot persists the display-ready seminar list.
//
// A snapshot is always replaced as a whole: the new content is written to a
// temp file in the target directory, synced and renamed over the old file, so
// readers see either the previous or the new snapshot, never a partial one.
// A sidecar lock file keeps concurrent writers (manual upload racing the
// daily run, or two processes) from interleaving.
package snapshot

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"smartsign/internal/atomicfile"
	appLog "smartsign/internal/log"
	"smartsign/internal/model"
)

const lockFileSuffix = ".lock"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrBadHeader is returned when a snapshot file does not start with the
// expected column header.
var ErrBadHeader = errors.New("snapshot header does not match")

// Writer replaces the CSV snapshot at Path. The file lock is held per
// process handle, so mu serializes goroutines sharing one Writer.
type Writer struct {
	path string
	bom  bool

	mu   sync.Mutex
	lock *flock.Flock
}

// NewWriter returns a Writer for path. bom prefixes the file with a UTF-8
// byte order mark.
func NewWriter(path string, bom bool) *Writer {
	return &Writer{
		path: path,
		bom:  bom,
		lock: flock.New(path + lockFileSuffix),
	}
}

// Path returns the snapshot location.
func (w *Writer) Path() string {
	return w.path
}

// Encode writes seminars as CSV with the fixed snapshot header.
func Encode(out io.Writer, seminars []model.Seminar, bom bool) error {
	if bom {
		if _, err := out.Write(utf8BOM); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(out)
	if err := cw.Write(model.SnapshotColumns); err != nil {
		return err
	}
	for _, s := range seminars {
		if err := cw.Write(s.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write atomically replaces the snapshot with seminars. An empty slice
// produces a header-only file.
func (w *Writer) Write(seminars []model.Seminar) error {
	var buf bytes.Buffer
	if err := Encode(&buf, seminars, w.bom); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.acquire(); err != nil {
		return err
	}
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			appLog.Error("snapshot unlock failed", err, "path", w.path)
		}
	}()

	if err := atomicfile.Write(w.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	appLog.Info("snapshot written", "path", w.path, "seminars", len(seminars), "bytes", buf.Len())
	return nil
}

// acquire takes the writer lock, logging when another writer holds it.
func (w *Writer) acquire() error {
	locked, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", w.lock.Path(), err)
	}
	if locked {
		return nil
	}
	appLog.Info("another snapshot writer is active, waiting", "lock", w.lock.Path())
	if err := w.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s after waiting: %w", w.lock.Path(), err)
	}
	return nil
}

// ReadFile loads a snapshot written by Writer.
func ReadFile(path string) ([]model.Seminar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}

// Decode parses snapshot CSV, tolerating a leading BOM.
func Decode(r io.Reader) ([]model.Seminar, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = len(model.SnapshotColumns)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrBadHeader
	}
	for i, col := range model.SnapshotColumns {
		if records[0][i] != col {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, records[0][i], col)
		}
	}

	out := make([]model.Seminar, 0, len(records)-1)
	for _, rec := range records[1:] {
		out = append(out, model.SeminarFromRecord(rec))
	}
	return out, nil
}
