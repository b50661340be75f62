// Package cache implements the content-addressed blob store (spec.md §4.1),
// grounded on the teacher's metacache.go (which keyed cached mod downloads by
// hash under a similar JSON side-file) generalized to track reference counts
// and per-version install entries the way original_source's cache.rs does.
package cache

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vesta/internal/logging"
	"vesta/internal/vestaerr"
)

const blockSize = 8 * 1024

// Label identifies one artifact within an install (e.g. "client",
// "library:com.google.guava:guava", "natives:lwjgl").
type Label string

// ArtifactRecord is the persisted metadata for one content-addressed blob.
type ArtifactRecord struct {
	Sha        string    `json:"sha"`
	Size       int64     `json:"size"`
	Signature  string    `json:"signature,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	RefCount   int       `json:"ref_count"`
	LastUsed   time.Time `json:"last_used"`
}

// InstallComponent is one labeled blob contributed to a version install.
type InstallComponent struct {
	Label Label  `json:"label"`
	Sha   string `json:"sha"`
}

// InstallIndexRecord tracks every blob an installed version depends on, so
// removing the version can release the right references.
type InstallIndexRecord struct {
	VersionID  string              `json:"version_id"`
	Loader     string              `json:"loader,omitempty"`
	Components []InstallComponent  `json:"components"`
}

// Cache is the on-disk blob store rooted at <dataDir>/cache.
type Cache struct {
	mu sync.Mutex

	root    string
	blobDir string

	artifacts   map[string]*ArtifactRecord
	installs    map[string]*InstallIndexRecord
	labelIndex  map[string]string // "versionID\x00label" -> sha
}

const (
	artifactsFile  = "artifacts.json"
	installsFile   = "install_index.json"
	labelIndexFile = "label_index.json"
)

// Open loads (or initializes) the cache rooted at dataDir/cache.
func Open(dataDir string) (*Cache, error) {
	root := filepath.Join(dataDir, "cache")
	blobDir := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobDir, 0700); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "creating cache directory", err)
	}

	c := &Cache{
		root:       root,
		blobDir:    blobDir,
		artifacts:  make(map[string]*ArtifactRecord),
		installs:   make(map[string]*InstallIndexRecord),
		labelIndex: make(map[string]string),
	}

	var artifactList []*ArtifactRecord
	if err := loadJSON(filepath.Join(root, artifactsFile), &artifactList); err != nil {
		return nil, err
	}
	for _, rec := range artifactList {
		c.artifacts[rec.Sha] = rec
	}
	var installList []*InstallIndexRecord
	if err := loadJSON(filepath.Join(root, installsFile), &installList); err != nil {
		return nil, err
	}
	for _, rec := range installList {
		c.installs[rec.VersionID] = rec
	}
	if err := loadJSON(filepath.Join(root, labelIndexFile), &c.labelIndex); err != nil {
		return nil, err
	}
	return c, nil
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, fmt.Sprintf("reading %s", path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, fmt.Sprintf("parsing %s", path), err)
	}
	return nil
}

// Has reports whether sha's blob exists on disk.
func (c *Cache) Has(sha string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := os.Stat(c.PathFor(sha))
	return err == nil
}

// PathFor returns the blob path for sha (two-level fanout to keep the blob
// directory from growing a single huge flat listing).
func (c *Cache) PathFor(sha string) string {
	if len(sha) < 4 {
		return filepath.Join(c.blobDir, sha)
	}
	return filepath.Join(c.blobDir, sha[:2], sha[2:4], sha)
}

// Ingest streams sourcePath in 8 KiB blocks, hashes it, copies it to the blob
// path if absent, and upserts the artifact record.
func (c *Cache) Ingest(sourcePath string, signature, sourceURL string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", vestaerr.Wrap(vestaerr.KindIntegrity, "opening ingest source", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.CopyBuffer(h, f, make([]byte, blockSize))
	if err != nil {
		return "", vestaerr.Wrap(vestaerr.KindIntegrity, "hashing ingest source", err)
	}
	sha := hex.EncodeToString(h.Sum(nil))

	c.mu.Lock()
	defer c.mu.Unlock()

	blobPath := c.PathFor(sha)
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(blobPath), 0700); err != nil {
			return "", vestaerr.Wrap(vestaerr.KindIntegrity, "creating blob directory", err)
		}
		if err := copyFileAtomic(sourcePath, blobPath); err != nil {
			return "", vestaerr.Wrap(vestaerr.KindIntegrity, "copying into blob store", err)
		}
	}

	rec, ok := c.artifacts[sha]
	if !ok {
		rec = &ArtifactRecord{Sha: sha, Size: size}
		c.artifacts[sha] = rec
	}
	rec.Signature = signature
	rec.SourceURL = sourceURL
	rec.LastUsed = time.Now()

	return sha, nil
}

func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// AddRef increments sha's reference count.
func (c *Cache) AddRef(sha string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.artifacts[sha]; ok {
		rec.RefCount++
	}
}

// Release decrements sha's reference count, floored at 0.
func (c *Cache) Release(sha string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.artifacts[sha]; ok && rec.RefCount > 0 {
		rec.RefCount--
	}
}

// Restore copies sha's blob to dest atomically (remove-then-copy); returns
// false if the blob is missing.
func (c *Cache) Restore(sha, dest string) (bool, error) {
	c.mu.Lock()
	blobPath := c.PathFor(sha)
	if rec, ok := c.artifacts[sha]; ok {
		rec.LastUsed = time.Now()
	}
	c.mu.Unlock()

	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return false, vestaerr.Wrap(vestaerr.KindIntegrity, "creating restore destination directory", err)
	}
	os.Remove(dest)
	if err := copyFileAtomic(blobPath, dest); err != nil {
		return false, vestaerr.Wrap(vestaerr.KindIntegrity, "restoring blob", err)
	}
	return true, nil
}

// RecordInstall writes the install entry for versionID, inserts components
// into the label index, and increments refs for every referenced blob.
func (c *Cache) RecordInstall(versionID, loader string, components []InstallComponent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.installs[versionID] = &InstallIndexRecord{
		VersionID:  versionID,
		Loader:     loader,
		Components: components,
	}
	for _, comp := range components {
		c.labelIndex[labelKey(versionID, comp.Label)] = comp.Sha
		if rec, ok := c.artifacts[comp.Sha]; ok {
			rec.RefCount++
		}
	}
}

// RemoveInstall deletes the install entry for versionID, releasing each
// referenced blob's ref count.
func (c *Cache) RemoveInstall(versionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.installs[versionID]
	if !ok {
		return
	}
	for _, comp := range rec.Components {
		delete(c.labelIndex, labelKey(versionID, comp.Label))
		if art, ok := c.artifacts[comp.Sha]; ok && art.RefCount > 0 {
			art.RefCount--
		}
	}
	delete(c.installs, versionID)
}

func labelKey(versionID string, label Label) string {
	return versionID + "\x00" + string(label)
}

// FindByLabel resolves a previously recorded (versionID, label) pair to its
// blob sha, if any.
func (c *Cache) FindByLabel(versionID string, label Label) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sha, ok := c.labelIndex[labelKey(versionID, label)]
	return sha, ok
}

// PruneUnused deletes every artifact record (and its blob) with ref_count==0
// that is not referenced by any install entry, returning the count removed.
func (c *Cache) PruneUnused() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	referenced := make(map[string]bool)
	for _, rec := range c.installs {
		for _, comp := range rec.Components {
			referenced[comp.Sha] = true
		}
	}

	removed := 0
	for sha, rec := range c.artifacts {
		if rec.RefCount > 0 || referenced[sha] {
			continue
		}
		os.Remove(c.PathFor(sha))
		delete(c.artifacts, sha)
		removed++
	}
	logging.Verbose("cache: pruned %d unused artifacts\n", removed)
	return removed
}

// Save atomically persists all three index files.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	artifactList := make([]*ArtifactRecord, 0, len(c.artifacts))
	for _, rec := range c.artifacts {
		artifactList = append(artifactList, rec)
	}
	if err := saveJSON(filepath.Join(c.root, artifactsFile), artifactList); err != nil {
		return err
	}

	installList := make([]*InstallIndexRecord, 0, len(c.installs))
	for _, rec := range c.installs {
		installList = append(installList, rec)
	}
	if err := saveJSON(filepath.Join(c.root, installsFile), installList); err != nil {
		return err
	}

	return saveJSON(filepath.Join(c.root, labelIndexFile), c.labelIndex)
}

func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, fmt.Sprintf("encoding %s", path), err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, fmt.Sprintf("writing %s", path), err)
	}
	return os.Rename(tmp, path)
}

// Sha1OfFile computes the sha1 of path, used to validate against
// expected_sha1 hashes found in Mojang manifests (kept distinct from the
// sha256 content address used internally by the blob store).
func Sha1OfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, blockSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
