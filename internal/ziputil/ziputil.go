// Package ziputil wraps archive/zip for reading JSON/manifest files and
// extracting individual entries out of installer jars and modpack archives,
// grounded on the teacher's ziphelper.go.
package ziputil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jeffail/gabs"
)

// Archive is an in-memory view over a zip file's bytes, letting callers
// reopen individual entries for streaming reads without re-reading the file
// from disk; each lookup re-parses the central directory from those bytes.
type Archive struct {
	data  []byte
	files map[string]int
}

// Open parses zip central-directory metadata from data.
func Open(data []byte) (*Archive, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip data: %w", err)
	}
	a := &Archive{data: data, files: make(map[string]int, len(r.File))}
	for i, f := range r.File {
		a.files[f.Name] = i
	}
	return a, nil
}

// OpenFile reads a zip archive from disk.
func OpenFile(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Open(data)
}

// Has reports whether name exists in the archive.
func (a *Archive) Has(name string) bool {
	_, ok := a.files[name]
	return ok
}

// Names returns every entry name in the archive, in central-directory order.
func (a *Archive) Names() []string {
	r, _ := zip.NewReader(bytes.NewReader(a.data), int64(len(a.data)))
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

// Get opens an entry by name for streaming reads.
func (a *Archive) Get(name string) (io.ReadCloser, error) {
	index, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("file not found in zip: %s", name)
	}
	r, err := zip.NewReader(bytes.NewReader(a.data), int64(len(a.data)))
	if err != nil {
		return nil, err
	}
	return r.File[index].Open()
}

// GetJSON reads and parses a JSON entry with gabs, matching how the teacher
// reads install_profile.json/version.json/manifest.json out of jars and
// modpack archives.
func (a *Archive) GetJSON(name string) (*gabs.Container, error) {
	r, err := a.Get(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	doc, err := gabs.ParseJSONBuffer(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return doc, nil
}

// ExtractTo extracts entryName to destPath, creating parent directories.
// Entries with absolute paths or ".." traversal are rejected (spec.md §9:
// "never follow symlinks during natives extraction; reject absolute or
// parent-traversing entries in zips" — applied to every extraction path,
// not just natives, since the same archive format and risk apply to
// installer/modpack zips).
func (a *Archive) ExtractTo(entryName, destPath string) error {
	if filepath.IsAbs(entryName) || strings.Contains(entryName, "..") {
		return fmt.Errorf("refusing to extract unsafe zip entry: %s", entryName)
	}
	r, err := a.Get(entryName)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return fmt.Errorf("failed to create directories for %s: %w", destPath, err)
	}

	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	out.Close()
	return os.Rename(tmp, destPath)
}
