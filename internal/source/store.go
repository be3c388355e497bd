// Package source keeps the most recent seminar workbook on disk and fetches
// new ones from a configured URL.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"smartsign/internal/atomicfile"
	appLog "smartsign/internal/log"
)

const (
	workbookFile = "source.xlsx"
	metaFile     = "meta.json"
)

// ErrNoSource is returned by Latest before any workbook has been stored.
var ErrNoSource = errors.New("no source workbook stored")

// Meta describes the stored workbook.
type Meta struct {
	OriginalName string    `json:"original_name"`
	SHA256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Set when the workbook came from a URL.
	URL          string `json:"url,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Store holds a single workbook plus its metadata under dir.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore returns a Store rooted at dir. The directory is created on the
// first Save.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "./var/data"
	}
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// WorkbookPath is where the current workbook lives.
func (s *Store) WorkbookPath() string { return filepath.Join(s.dir, workbookFile) }

// Save replaces the stored workbook with the content of r. meta carries the
// caller-known fields (name, URL, cache validators); hash, size and time are
// filled in here.
func (s *Store) Save(r io.Reader, meta Meta) (Meta, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Meta{}, fmt.Errorf("read workbook: %w", err)
	}
	return s.SaveBytes(body, meta)
}

// SaveBytes is Save for an in-memory body.
func (s *Store) SaveBytes(body []byte, meta Meta) (Meta, error) {
	if len(body) == 0 {
		return Meta{}, errors.New("workbook is empty")
	}

	sum := sha256.Sum256(body)
	meta.SHA256 = hex.EncodeToString(sum[:])
	meta.Size = int64(len(body))
	meta.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return Meta{}, err
	}

	// Body first so meta never points at a missing or older workbook.
	if err := atomicfile.Write(s.WorkbookPath(), body, 0o600); err != nil {
		return Meta{}, fmt.Errorf("store workbook: %w", err)
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return Meta{}, err
	}
	if err := atomicfile.Write(filepath.Join(s.dir, metaFile), data, 0o600); err != nil {
		return Meta{}, fmt.Errorf("store workbook meta: %w", err)
	}

	appLog.Info("source workbook stored",
		"name", meta.OriginalName,
		"size", meta.Size,
		"sha256", meta.SHA256[:12],
	)
	return meta, nil
}

// Latest returns the path and metadata of the stored workbook.
func (s *Store) Latest() (string, Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.WorkbookPath()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", Meta{}, ErrNoSource
		}
		return "", Meta{}, err
	}

	var meta Meta
	data, err := os.ReadFile(filepath.Join(s.dir, metaFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Workbook dropped in by hand.
		meta.OriginalName = workbookFile
	case err != nil:
		return "", Meta{}, err
	default:
		if err := json.Unmarshal(data, &meta); err != nil {
			return "", Meta{}, fmt.Errorf("parse %s: %w", metaFile, err)
		}
	}
	return path, meta, nil
}
