package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/CreativeUnicorns/prefstore"
)

// FileFormat selects the document encoding of a FileStorage.
type FileFormat string

// Supported file formats.
const (
	FormatJSON FileFormat = "json"
	FormatYAML FileFormat = "yaml"
	FormatTOML FileFormat = "toml"
)

// FormatFromPath picks the format from the file extension, defaulting to JSON.
func FormatFromPath(path string) FileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatJSON
}

// fileEntry is the on-disk shape of one preference.
type fileEntry struct {
	Kind  prefstore.Kind `json:"kind" yaml:"kind" toml:"kind"`
	Value any            `json:"value" yaml:"value" toml:"value"`
}

// FileStorage implements prefstore.Storage on a single JSON, YAML or TOML document.
//
// Writes replace the file atomically through a temporary file and rename. While at
// least one listener is registered the containing directory is watched, and edits made
// by other processes are diffed against the in-memory copy to raise per-key events.
type FileStorage struct {
	path     string
	format   FileFormat
	fileMode os.FileMode
	logger   prefstore.Logger

	mu     sync.RWMutex
	values map[string]prefstore.Value
	closed bool

	listeners listenerSet

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
}

// NewFileStorage opens the document at path, creating its directory if needed.
// A missing file is treated as empty and created on the first write.
func NewFileStorage(path string, opts ...Option) (*FileStorage, error) {
	o := applyOptions(opts)

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("file: failed to resolve path %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("file: failed to create directory for %q: %w", abs, err)
	}

	s := &FileStorage{
		path:     abs,
		format:   FormatFromPath(abs),
		fileMode: 0o644,
		logger:   o.logger,
	}
	values, err := s.load()
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

// Path returns the absolute path of the backing document.
func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) load() (map[string]prefstore.Value, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]prefstore.Value{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: failed to read %q: %w", s.path, err)
	}
	values, err := decodeDocument(s.format, data)
	if err != nil {
		return nil, fmt.Errorf("file: failed to parse %q: %w", s.path, err)
	}
	return values, nil
}

func decodeDocument(format FileFormat, data []byte) (map[string]prefstore.Value, error) {
	values := map[string]prefstore.Value{}
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}

	entries := map[string]fileEntry{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &entries)
	case FormatTOML:
		err = toml.Unmarshal(data, &entries)
	default:
		err = unmarshalNumbers(data, &entries)
	}
	if err != nil {
		return nil, err
	}

	for k, e := range entries {
		v, err := prefstore.ParseValue(e.Kind, e.Value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		values[k] = v
	}
	return values, nil
}

func encodeDocument(format FileFormat, values map[string]prefstore.Value) ([]byte, error) {
	entries := make(map[string]fileEntry, len(values))
	for k, v := range values {
		entries[k] = fileEntry{Kind: v.Kind, Value: v.Interface()}
	}
	switch format {
	case FormatYAML:
		return yaml.Marshal(entries)
	case FormatTOML:
		return toml.Marshal(entries)
	default:
		return json.MarshalIndent(entries, "", "  ")
	}
}

// write persists values and swaps them in. It must be called with s.mu held.
func (s *FileStorage) writeLocked(values map[string]prefstore.Value) error {
	data, err := encodeDocument(s.format, values)
	if err != nil {
		return fmt.Errorf("file: failed to encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".prefstore-*.tmp")
	if err != nil {
		return fmt.Errorf("file: failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file: failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, s.fileMode); err != nil {
		return fmt.Errorf("file: failed to set file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("file: failed to rename temporary file to %q: %w", s.path, err)
	}

	success = true
	s.values = values
	return nil
}

// Get retrieves the value stored under key.
func (s *FileStorage) Get(_ context.Context, key string) (prefstore.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return prefstore.Value{}, prefstore.ErrStorageUnavailable
	}
	v, ok := s.values[key]
	if !ok {
		return prefstore.Value{}, prefstore.ErrNotFound
	}
	return cloneValue(v), nil
}

// Set writes value under key and rewrites the document.
func (s *FileStorage) Set(_ context.Context, key string, value prefstore.Value) error {
	return s.update(prefstore.KeyChanged(key), func(values map[string]prefstore.Value) {
		values[key] = cloneValue(value)
	})
}

// Delete removes key and rewrites the document.
func (s *FileStorage) Delete(_ context.Context, key string) error {
	return s.update(prefstore.KeyChanged(key), func(values map[string]prefstore.Value) {
		delete(values, key)
	})
}

// Clear empties the document.
func (s *FileStorage) Clear(_ context.Context) error {
	return s.update(prefstore.AllChanged(), func(values map[string]prefstore.Value) {
		clear(values)
	})
}

func (s *FileStorage) update(ev prefstore.ChangeEvent, mutate func(map[string]prefstore.Value)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return prefstore.ErrStorageUnavailable
	}
	next := maps.Clone(s.values)
	mutate(next)
	err := s.writeLocked(next)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.listeners.notify(ev)
	return nil
}

// Contains reports whether key is present in the document.
func (s *FileStorage) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, prefstore.ErrStorageUnavailable
	}
	_, ok := s.values[key]
	return ok, nil
}

// Keys returns the document's keys in ascending order.
func (s *FileStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, prefstore.ErrStorageUnavailable
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Listen registers fn and starts watching the document for external edits.
func (s *FileStorage) Listen(_ context.Context, fn prefstore.ListenFunc) (prefstore.StopFunc, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, prefstore.ErrStorageUnavailable
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher == nil {
		if err := s.startWatchLocked(); err != nil {
			return nil, err
		}
	}
	remove := s.listeners.add(fn)

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			_ = remove()
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			if s.listeners.len() == 0 {
				err = s.stopWatchLocked()
			}
		})
		return err
	}, nil
}

func (s *FileStorage) startWatchLocked() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file: failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file so atomic replacements are seen.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("file: failed to watch directory %q: %w", dir, err)
	}
	s.watcher = w
	go s.watch(w)
	return nil
}

func (s *FileStorage) stopWatchLocked() error {
	if s.watcher == nil {
		return nil
	}
	w := s.watcher
	s.watcher = nil
	return w.Close()
}

func (s *FileStorage) watch(w *fsnotify.Watcher) {
	filename := filepath.Base(s.path)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error("file: watcher failed", "path", s.path, "error", err)
			// Detach the broken watcher first so the next Listen starts a fresh one.
			s.watchMu.Lock()
			if s.watcher == w {
				s.watcher = nil
			}
			s.watchMu.Unlock()
			_ = w.Close()
			s.listeners.notify(prefstore.StorageFailed(fmt.Errorf("file: watcher failed: %w", err)))
			return
		}
	}
}

// reload re-reads the document and raises an event for every key whose value differs.
// A document that cannot be parsed is ignored until the next change.
func (s *FileStorage) reload() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	values, err := s.load()
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("file: ignoring unreadable document", "path", s.path, "error", err)
		return
	}
	changed := diffKeys(s.values, values)
	s.values = values
	s.mu.Unlock()

	if len(changed) > 0 {
		s.logger.Debug("file: document reloaded", "path", s.path, "changed", len(changed))
	}
	for _, k := range changed {
		s.listeners.notify(prefstore.KeyChanged(k))
	}
}

func diffKeys(old, next map[string]prefstore.Value) []string {
	var changed []string
	for k, v := range old {
		if nv, ok := next[k]; !ok || !nv.Equal(v) {
			changed = append(changed, k)
		}
	}
	for k := range next {
		if _, ok := old[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Close stops watching. Further operations fail with prefstore.ErrStorageUnavailable.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.stopWatchLocked()
}
