// Package storage persists materials, ratings and reindex history in SQLite
// and reads bulk-import manifests in JSONL format.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines (1MB per line).
const MaxJSONLLineCapacity = 1024 * 1024

// ImportEntry is one line of a bulk-import manifest.
type ImportEntry struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Authors     string `json:"authors,omitempty"`
	Path        string `json:"path"`
	ExternalURL string `json:"external_url,omitempty"`
}

// Validate checks the fields every entry needs.
func (e ImportEntry) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// ReadImportManifest reads all entries from a JSONL manifest. Relative
// paths are resolved against the manifest's directory.
func ReadImportManifest(path string) ([]ImportEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	entries, err := ParseImportManifest(f)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for i := range entries {
		if !filepath.IsAbs(entries[i].Path) {
			entries[i].Path = filepath.Join(base, entries[i].Path)
		}
	}
	return entries, nil
}

// ParseImportManifest reads JSONL entries from r. Blank lines are skipped.
func ParseImportManifest(r io.Reader) ([]ImportEntry, error) {
	var entries []ImportEntry
	scanner := bufio.NewScanner(r)

	// Increase buffer size for long lines
	buf := make([]byte, MaxJSONLLineCapacity)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e ImportEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		entries = append(entries, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	return entries, nil
}
