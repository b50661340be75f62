// Package filecache tracks which CurseForge (project, file) pair was last
// installed for each mod in an instance, so a re-sync of the same pack can
// skip resolver round-trips for mods that haven't changed and can clean up
// the old jar when a mod is upgraded to a new file ID. Grounded on the
// teacher's metacache.go (MetaCache, backed by a per-instance sqlite
// database at .mcdex.cache), adapted to this module's per-game-dir layout.
package filecache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"vesta/internal/vestaerr"
)

// FileCache is a sqlite-backed record of the last file installed per mod
// project, keyed by the CurseForge project ID.
type FileCache struct {
	gameDir string
	db      *sql.DB
}

// Open creates or reopens the cache database at gameDir/.vesta/filecache.db.
func Open(gameDir string) (*FileCache, error) {
	dir := filepath.Join(gameDir, ".vesta")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "creating .vesta directory", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "filecache.db"))
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "opening filecache.db", err)
	}

	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS mod_files(project_id INTEGER PRIMARY KEY, file_id INTEGER, filename TEXT)"); err != nil {
		db.Close()
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "initializing filecache schema", err)
	}

	return &FileCache{gameDir: gameDir, db: db}, nil
}

// Close releases the underlying database handle.
func (fc *FileCache) Close() error {
	return fc.db.Close()
}

// Record stores the (projectID, fileID) -> filename mapping that produced
// the currently-installed mod jar.
func (fc *FileCache) Record(projectID, fileID int, filename string) error {
	_, err := fc.db.Exec(
		"INSERT OR REPLACE INTO mod_files(project_id, file_id, filename) VALUES (?, ?, ?)",
		projectID, fileID, filename)
	return err
}

// Lookup returns the last-installed file ID and filename for projectID, or
// (0, "") if the project has never been installed through this cache.
func (fc *FileCache) Lookup(projectID int) (fileID int, filename string) {
	err := fc.db.QueryRow(
		"SELECT file_id, filename FROM mod_files WHERE project_id = ?", projectID,
	).Scan(&fileID, &filename)
	if err != nil {
		return 0, ""
	}
	return fileID, filename
}

// Upgrade removes the previously-installed jar for projectID under modsDir
// when its file ID has changed, then records the new mapping. It is a
// no-op, returning (false, nil), when both the file ID and the filename are
// unchanged.
func (fc *FileCache) Upgrade(modsDir string, projectID, newFileID int, newFilename string) (changed bool, err error) {
	oldFileID, oldFilename := fc.Lookup(projectID)
	if oldFileID == newFileID && oldFilename == newFilename {
		return false, nil
	}
	if oldFilename != "" && oldFilename != newFilename {
		if rmErr := os.Remove(filepath.Join(modsDir, oldFilename)); rmErr != nil && !os.IsNotExist(rmErr) {
			return false, fmt.Errorf("removing superseded mod file %s: %w", oldFilename, rmErr)
		}
	}
	if err := fc.Record(projectID, newFileID, newFilename); err != nil {
		return false, err
	}
	return true, nil
}
