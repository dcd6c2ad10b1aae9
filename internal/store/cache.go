package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// Snapshot cache file names inside the data directory.
const (
	TypesFile = "types.jsonl"
	ItemsFile = "items.jsonl"
)

// Cache keeps the last fetched snapshot as raw JSONL records, one per
// line, so the mirror can be rebuilt without a server round trip.
type Cache struct {
	dir string
}

// NewCache returns a cache rooted at dir. Nothing is created until Save.
func NewCache(dir string) *Cache { return &Cache{dir: dir} }

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Save replaces the cached snapshot. Each file is written atomically; the
// items file is written last.
func (c *Cache) Save(typeRecords, itemRecords []json.RawMessage) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := writeJSONL(filepath.Join(c.dir, TypesFile), typeRecords); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(c.dir, ItemsFile), itemRecords)
}

// Load returns the cached records. ErrNoSnapshot is returned when either
// file is missing. Malformed lines are skipped.
func (c *Cache) Load() (typeRecords, itemRecords []json.RawMessage, err error) {
	if typeRecords, err = readJSONL(filepath.Join(c.dir, TypesFile)); err != nil {
		return nil, nil, err
	}
	if itemRecords, err = readJSONL(filepath.Join(c.dir, ItemsFile)); err != nil {
		return nil, nil, err
	}
	return typeRecords, itemRecords, nil
}

// Clear removes the cached snapshot. A missing cache is not an error.
func (c *Cache) Clear() error {
	for _, name := range []string{TypesFile, ItemsFile} {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", types.ErrNoSnapshot, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL writes records to path through a temp file, fsync and rename.
// Records are compacted so each occupies exactly one line.
func writeJSONL(path string, records []json.RawMessage) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	var line bytes.Buffer
	for _, rec := range records {
		line.Reset()
		if err := json.Compact(&line, rec); err != nil {
			return fmt.Errorf("compacting record: %w", err)
		}
		line.WriteByte('\n')
		if _, err := w.Write(line.Bytes()); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
