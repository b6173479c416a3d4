package virtualfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/store"
)

var (
	ErrNotFound     = errors.New("file not found")
	ErrExists       = errors.New("file already exists")
	ErrInvalidName  = errors.New("invalid file name")
	ErrImportFormat = errors.New("invalid file format")
	ErrTooLarge     = errors.New("file too large")
	ErrTooManyFiles = errors.New("file limit exceeded")
)

// Limits bounds the size of one profile's file map. Zero disables a check.
type Limits struct {
	MaxFiles    int
	MaxFileSize int // bytes
}

// LimitsFromConfig reads the [FileSystem] section.
func LimitsFromConfig() Limits {
	return Limits{
		MaxFiles:    configuration.GetInt("FileSystem", "max_files", 500),
		MaxFileSize: configuration.GetInt("FileSystem", "max_file_size_kb", 1024) * 1024,
	}
}

// FileMap maps file names to text content and mirrors every change to
// the virtualFS key of its store.
type FileMap struct {
	mu     sync.RWMutex
	files  map[string]string
	store  store.Store
	limits Limits
}

// Load hydrates a FileMap from st. A missing key yields an empty map. A
// corrupt blob is logged and also yields an empty map; it stays in the
// store until the next mutation replaces it.
func Load(st store.Store, limits Limits) (*FileMap, error) {
	fm := &FileMap{files: make(map[string]string), store: st, limits: limits}

	raw, ok, err := st.Get(store.KeyVirtualFS)
	if err != nil {
		return nil, fmt.Errorf("load file map: %w", err)
	}
	if !ok {
		return fm, nil
	}
	files, err := decode([]byte(raw))
	if err != nil {
		logger.Warn(logger.AreaFileSystem, "Ignoring unreadable virtualFS blob: %v", err)
		return fm, nil
	}
	fm.files = files
	logger.Debug(logger.AreaFileSystem, "Loaded %d files", len(files))
	return fm, nil
}

// Names returns all file names in sorted order.
func (fm *FileMap) Names() []string {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	names := make([]string, 0, len(fm.files))
	for name := range fm.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of files.
func (fm *FileMap) Len() int {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return len(fm.files)
}

// Exists reports key presence. Empty content still exists.
func (fm *FileMap) Exists(name string) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	_, ok := fm.files[name]
	return ok
}

// Read returns the content of name.
func (fm *FileMap) Read(name string) (string, error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	content, ok := fm.files[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return content, nil
}

// Snapshot returns a copy of the whole map.
func (fm *FileMap) Snapshot() map[string]string {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return clone(fm.files)
}

// Create adds an empty file.
func (fm *FileMap) Create(name string) error {
	return fm.mutate(func(files map[string]string) error {
		if err := validName(name); err != nil {
			return err
		}
		if _, ok := files[name]; ok {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		files[name] = ""
		return fm.checkCount(files)
	})
}

// Write creates or overwrites name.
func (fm *FileMap) Write(name, content string) error {
	return fm.mutate(func(files map[string]string) error {
		if err := validName(name); err != nil {
			return err
		}
		if err := fm.checkSize(name, content); err != nil {
			return err
		}
		files[name] = content
		return fm.checkCount(files)
	})
}

// Remove deletes name.
func (fm *FileMap) Remove(name string) error {
	return fm.mutate(func(files map[string]string) error {
		if _, ok := files[name]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		delete(files, name)
		return nil
	})
}

// Rename moves the content of oldName to newName. newName must be free.
func (fm *FileMap) Rename(oldName, newName string) error {
	return fm.mutate(func(files map[string]string) error {
		content, ok := files[oldName]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, oldName)
		}
		if err := validName(newName); err != nil {
			return err
		}
		if _, ok := files[newName]; ok {
			return fmt.Errorf("%w: %s", ErrExists, newName)
		}
		delete(files, oldName)
		files[newName] = content
		return nil
	})
}

// Clear empties the map and removes the persisted key.
func (fm *FileMap) Clear() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if err := fm.store.Remove(store.KeyVirtualFS); err != nil {
		return fmt.Errorf("clear file map: %w", err)
	}
	fm.files = make(map[string]string)
	logger.Info(logger.AreaFileSystem, "File map cleared")
	return nil
}

// ExportJSON returns the map as an indented JSON object. Encoding works on
// a snapshot so writers are not held up by a large export.
func (fm *FileMap) ExportJSON() ([]byte, error) {
	return encode(fm.Snapshot(), "  ")
}

// ImportJSON merges a JSON object of name to content into the map,
// overwriting existing names. On any format or limit error nothing changes.
func (fm *FileMap) ImportJSON(data []byte) (int, error) {
	incoming, err := decode(data)
	if err != nil {
		return 0, err
	}
	err = fm.mutate(func(files map[string]string) error {
		for name, content := range incoming {
			if err := validName(name); err != nil {
				return fmt.Errorf("%w: %v", ErrImportFormat, err)
			}
			if err := fm.checkSize(name, content); err != nil {
				return err
			}
			files[name] = content
		}
		return fm.checkCount(files)
	})
	if err != nil {
		return 0, err
	}
	logger.Info(logger.AreaFileSystem, "Imported %d files", len(incoming))
	return len(incoming), nil
}

// mutate applies fn to a copy of the map, persists the copy and only then
// makes it current.
func (fm *FileMap) mutate(fn func(files map[string]string) error) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	next := clone(fm.files)
	if err := fn(next); err != nil {
		return err
	}
	blob, err := encode(next, "")
	if err != nil {
		return fmt.Errorf("encode file map: %w", err)
	}
	if err := fm.store.Set(store.KeyVirtualFS, string(blob)); err != nil {
		return fmt.Errorf("persist file map: %w", err)
	}
	fm.files = next
	return nil
}

func (fm *FileMap) checkSize(name, content string) error {
	if fm.limits.MaxFileSize > 0 && len(content) > fm.limits.MaxFileSize {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, name, len(content), fm.limits.MaxFileSize)
	}
	return nil
}

func (fm *FileMap) checkCount(files map[string]string) error {
	if fm.limits.MaxFiles > 0 && len(files) > fm.limits.MaxFiles {
		return fmt.Errorf("%w: %d files (max %d)", ErrTooManyFiles, len(files), fm.limits.MaxFiles)
	}
	return nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	return nil
}

// decode accepts only a JSON object whose values are all strings.
func decode(data []byte) (map[string]string, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFormat, err)
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrImportFormat)
	}
	files := make(map[string]string, len(obj))
	for name, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: content of %q is not a string", ErrImportFormat, name)
		}
		files[name] = s
	}
	return files, nil
}

// encode marshals without HTML escaping so exported backups stay readable.
func encode(files map[string]string, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(files); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func clone(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for k, v := range files {
		out[k] = v
	}
	return out
}
