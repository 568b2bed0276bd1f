// Package store implements atomic, directory-backed JSON document
// persistence for the crew, chore, and user tables. Each document is a
// single JSON file, rewritten in full on every save via a temp-file-then-
// rename so a reader never observes a half-written file.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/hugodecasta/captain/pkg/log"
)

// Document wraps a single JSON file under a mutex. Callers embed or compose
// it to get atomic load/save for one table.
type Document struct {
	mu   sync.Mutex
	path string
}

// NewDocument returns a Document backed by path. The containing directory
// must already exist.
func NewDocument(path string) *Document {
	return &Document{path: path}
}

// Load decodes the document into v. A missing file is not an error — v is
// left untouched so the caller's zero value (typically an empty slice or
// map) stands in for "nothing persisted yet". A corrupt file is logged and
// treated the same way: Captain never crashes on a bad document, it starts
// empty and lets the next Save repair it.
func (d *Document) Load(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Logger.Warn().Err(err).Str("path", d.path).Msg("store: read failed, starting empty")
		}
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Logger.Warn().Err(err).Str("path", d.path).Msg("store: decode failed, starting empty")
	}
}

// Save serializes v and atomically replaces the document on disk.
func (d *Document) Save(v any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(v)
}

func (d *Document) writeLocked(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, d.path)
}

// WithLock runs fn while holding the document's mutex, letting a caller
// perform a load-mutate-save cycle without another goroutine interleaving.
// fn takes no arguments; it loads and (optionally) saves through
// LoadLocked and SaveLocked.
func (d *Document) WithLock(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

// LoadLocked and SaveLocked are load/save variants for use inside WithLock,
// where the mutex is already held.
func (d *Document) LoadLocked(v any) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Logger.Warn().Err(err).Str("path", d.path).Msg("store: read failed, starting empty")
		}
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Logger.Warn().Err(err).Str("path", d.path).Msg("store: decode failed, starting empty")
	}
}

func (d *Document) SaveLocked(v any) error {
	return d.writeLocked(v)
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
