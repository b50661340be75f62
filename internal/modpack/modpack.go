// Package modpack parses Modrinth and CurseForge pack archives, resolves
// their file lists, and drives the vanilla/loader installers to materialize
// a playable instance (C14). Grounded on the teacher's modpack.go, which
// drove the same shape of pipeline (parse manifest, install mod loader,
// download mod files, extract overrides) for the CurseForge-only case;
// generalized here to also cover the Modrinth index format and routed
// through this module's installer/cache/download stack instead of the
// teacher's global mcdex.dat database.
package modpack

import (
	"context"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"vesta/internal/cache"
	"vesta/internal/download"
	"vesta/internal/httpx"
	"vesta/internal/installer"
	"vesta/internal/installer/fabric"
	"vesta/internal/logging"
	"vesta/internal/modpack/filecache"
	"vesta/internal/progress"
	"vesta/internal/vestaerr"
	"vesta/internal/ziputil"
)

// Format identifies which pack manifest shape was found.
type Format int

const (
	Unknown Format = iota
	Modrinth
	CurseForge
)

// Metadata is the derived record described in spec.md §4.14 step 1.
type Metadata struct {
	Name             string
	MinecraftVersion string
	Loader           string // "fabric", "quilt", "forge", "neoforge", ""
	LoaderVersion    string
	ModCount         int
	RecommendedRAMMB int
}

// FileRef is one resolved mod file entry, independent of source format.
type FileRef struct {
	Path       string
	URL        string
	SHA1       string
	SHA512     string
	Size       int64
	Env        string // "required" | "optional" | "unsupported"
	ProjectID  int
	FileID     int
}

// ResolverFunc turns a CurseForge (project_id, file_id) pair into a
// download URL and filename, backed by an external platform-API client the
// caller supplies (spec.md §4.14: "resolver callback (external platform-API
// client)").
type ResolverFunc func(ctx context.Context, projectID, fileID int) (downloadURL, filename string, err error)

// Pack is a parsed, not-yet-installed modpack archive.
type Pack struct {
	Format   Format
	Metadata Metadata
	Files    []FileRef
	archive  *ziputil.Archive
	overridesDirs []string
}

// ManifestRecord is written to game_dir/.vesta/modpack_manifest.json for
// later re-sync, per spec.md §4.14 step 5.
type ManifestRecord struct {
	Format           string    `json:"format"`
	Name             string    `json:"name"`
	MinecraftVersion string    `json:"minecraft_version"`
	Loader           string    `json:"loader,omitempty"`
	LoaderVersion    string    `json:"loader_version,omitempty"`
	Files            []FileRef `json:"files"`
}

// Load opens a pack zip (possibly nested one directory deep) and
// auto-detects its format by presence of modrinth.index.json or
// manifest.json.
func Load(path string) (*Pack, error) {
	archive, err := ziputil.OpenFile(path)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "opening modpack archive", err)
	}

	indexName, manifestName, prefix := locateManifests(archive)
	if indexName != "" {
		return loadModrinth(archive, indexName, prefix)
	}
	if manifestName != "" {
		return loadCurseForge(archive, manifestName, prefix)
	}
	return nil, vestaerr.New(vestaerr.KindIntegrity, "no modrinth.index.json or manifest.json found in archive")
}

// locateManifests looks for the two known manifest filenames at the archive
// root or one directory deep, matching spec.md's "possibly nested one level
// deep" detection rule.
func locateManifests(a *ziputil.Archive) (indexName, manifestName, prefix string) {
	for _, name := range a.Names() {
		base := filepath.Base(name)
		depth := strings.Count(strings.TrimSuffix(name, "/"), "/")
		if depth > 1 {
			continue
		}
		switch base {
		case "modrinth.index.json":
			if indexName == "" || depth < strings.Count(indexName, "/") {
				indexName = name
				prefix = strings.TrimSuffix(name, base)
			}
		case "manifest.json":
			if manifestName == "" || depth < strings.Count(manifestName, "/") {
				manifestName = name
				prefix = strings.TrimSuffix(name, base)
			}
		}
	}
	return indexName, manifestName, prefix
}

type modrinthIndex struct {
	Name         string `json:"name"`
	VersionID    string `json:"versionId"`
	Dependencies map[string]string `json:"dependencies"`
	Files        []struct {
		Path      string            `json:"path"`
		Downloads []string          `json:"downloads"`
		Hashes    map[string]string `json:"hashes"`
		FileSize  int64             `json:"fileSize"`
		Env       map[string]string `json:"env"`
	} `json:"files"`
}

func loadModrinth(archive *ziputil.Archive, indexName, prefix string) (*Pack, error) {
	r, err := archive.Get(indexName)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "opening modrinth.index.json", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "reading modrinth.index.json", err)
	}

	var idx modrinthIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing modrinth.index.json", err)
	}

	mcVersion := idx.Dependencies["minecraft"]
	loader, loaderVersion := "", ""
	for _, key := range []string{"fabric-loader", "quilt-loader", "forge", "neoforge"} {
		if v, ok := idx.Dependencies[key]; ok {
			loader = strings.TrimSuffix(key, "-loader")
			loaderVersion = v
			break
		}
	}

	files := make([]FileRef, 0, len(idx.Files))
	for _, f := range idx.Files {
		if f.Env != nil && f.Env["client"] == "unsupported" {
			continue
		}
		var chosenURL string
		if len(f.Downloads) > 0 {
			chosenURL = f.Downloads[0]
		}
		files = append(files, FileRef{
			Path:   f.Path,
			URL:    chosenURL,
			SHA1:   f.Hashes["sha1"],
			SHA512: f.Hashes["sha512"],
			Size:   f.FileSize,
			Env:    envString(f.Env),
		})
	}

	count := 0
	for _, f := range files {
		if strings.HasPrefix(f.Path, "mods/") {
			count++
		}
	}

	return &Pack{
		Format: Modrinth,
		Metadata: Metadata{
			Name:             idx.Name,
			MinecraftVersion: mcVersion,
			Loader:           loader,
			LoaderVersion:    loaderVersion,
			ModCount:         count,
			RecommendedRAMMB: recommendedRAM(count),
		},
		Files:         files,
		archive:       archive,
		overridesDirs: []string{prefix + "overrides/", prefix + "client-overrides/"},
	}, nil
}

func envString(env map[string]string) string {
	if env == nil {
		return "required"
	}
	if v, ok := env["client"]; ok {
		return v
	}
	return "required"
}

type curseForgeManifest struct {
	Minecraft struct {
		Version    string `json:"version"`
		ModLoaders []struct {
			ID      string `json:"id"`
			Primary bool   `json:"primary"`
		} `json:"modLoaders"`
	} `json:"minecraft"`
	Name    string `json:"name"`
	Overrides string `json:"overrides"`
	Files   []struct {
		ProjectID int  `json:"projectID"`
		FileID    int  `json:"fileID"`
		Required  bool `json:"required"`
	} `json:"files"`
}

func loadCurseForge(archive *ziputil.Archive, manifestName, prefix string) (*Pack, error) {
	r, err := archive.Get(manifestName)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "opening manifest.json", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "reading manifest.json", err)
	}

	var man curseForgeManifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing manifest.json", err)
	}

	loader, loaderVersion := "", ""
	for _, ml := range man.Minecraft.ModLoaders {
		if ml.Primary || loader == "" {
			loaderName, version := splitLoaderID(ml.ID)
			loader, loaderVersion = loaderName, version
		}
	}

	files := make([]FileRef, 0, len(man.Files))
	for _, f := range man.Files {
		env := "required"
		if !f.Required {
			env = "optional"
		}
		files = append(files, FileRef{ProjectID: f.ProjectID, FileID: f.FileID, Env: env})
	}

	overridesDir := man.Overrides
	if overridesDir == "" {
		overridesDir = "overrides"
	}

	return &Pack{
		Format: CurseForge,
		Metadata: Metadata{
			Name:             man.Name,
			MinecraftVersion: man.Minecraft.Version,
			Loader:           loader,
			LoaderVersion:    loaderVersion,
			ModCount:         len(files),
			RecommendedRAMMB: recommendedRAM(len(files)),
		},
		Files:         files,
		archive:       archive,
		overridesDirs: []string{prefix + overridesDir + "/"},
	}, nil
}

// splitLoaderID parses CurseForge's "forge-43.2.0" style loader ids.
func splitLoaderID(id string) (loader, version string) {
	idx := strings.IndexByte(id, '-')
	if idx < 0 {
		return id, ""
	}
	return id[:idx], id[idx+1:]
}

// recommendedRAM is a simple heuristic scaling with mod count, grounded on
// the general "more mods need more heap" guidance common across launcher
// UIs in the pack (e.g. mctui's instance sizing prompts); no teacher formula
// exists so this picks conservative bands.
func recommendedRAM(modCount int) int {
	switch {
	case modCount > 150:
		return 8192
	case modCount > 75:
		return 6144
	case modCount > 25:
		return 4096
	default:
		return 2048
	}
}

// Install runs the full C14 pipeline: install vanilla + loader, download mod
// files (CurseForge entries via resolve), extract overrides, and write the
// re-sync manifest.
//
// Forge and NeoForge packs can't be installed from a bare version string
// (their installer needs a downloaded installer jar), so for those loaders
// the caller runs forge.Install itself and passes the result in as base;
// Install then only drives the mod/override stage on top of it. For every
// other loader (including no loader at all) base may be nil and Install
// runs the vanilla/Fabric/Quilt pipeline itself.
func Install(ctx context.Context, c *cache.Cache, pack *Pack, spec installer.Spec, base *installer.Result, resolve ResolverFunc, reporter progress.Reporter) (*installer.Result, error) {
	if reporter == nil {
		reporter = progress.Silent{}
	}

	spec.VersionID = pack.Metadata.MinecraftVersion
	spec.Modloader = pack.Metadata.Loader
	spec.ModloaderVersion = pack.Metadata.LoaderVersion

	result := base
	if result == nil {
		var err error
		result, err = installLoader(ctx, c, spec, reporter)
		if err != nil {
			return nil, err
		}
	}

	client := httpx.NewClient(true)
	modDir := filepath.Join(spec.GameDir, "mods")
	if err := os.MkdirAll(modDir, 0700); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "creating mods directory", err)
	}

	var fc *filecache.FileCache
	if pack.Format == CurseForge {
		var fcErr error
		fc, fcErr = filecache.Open(spec.GameDir)
		if fcErr != nil {
			return nil, fcErr
		}
		defer fc.Close()
	}

	resolved := make([]FileRef, 0, len(pack.Files))
	for _, f := range pack.Files {
		if f.Env == "unsupported" {
			continue
		}
		ref := f
		if pack.Format == CurseForge {
			if resolve == nil {
				return nil, vestaerr.New(vestaerr.KindPrecondition, "curseforge pack requires a file resolver")
			}
			if cachedFileID, cachedName := fc.Lookup(f.ProjectID); cachedFileID == f.FileID && cachedName != "" {
				if _, statErr := os.Stat(filepath.Join(modDir, cachedName)); statErr == nil {
					ref.Path = filepath.Join("mods", cachedName)
					resolved = append(resolved, ref)
					continue
				}
			}
			url, filename, err := resolve(ctx, f.ProjectID, f.FileID)
			if err != nil {
				if f.Env == "optional" {
					continue
				}
				return nil, vestaerr.Wrap(vestaerr.KindTransient, fmt.Sprintf("resolving curseforge file %d/%d", f.ProjectID, f.FileID), err)
			}
			ref.URL = url
			ref.Path = filepath.Join("mods", filename)
		}

		dest := filepath.Join(spec.GameDir, filepath.FromSlash(ref.Path))
		if err := fetchModFile(ctx, client, dest, ref); err != nil {
			if f.Env == "optional" {
				continue
			}
			return nil, err
		}
		if pack.Format == CurseForge {
			if _, err := fc.Upgrade(modDir, f.ProjectID, f.FileID, filepath.Base(ref.Path)); err != nil {
				logging.Action("filecache: failed to clean up superseded file for project %d: %v\n", f.ProjectID, err)
			}
		}
		resolved = append(resolved, ref)
	}

	if err := extractOverrides(pack, spec.GameDir); err != nil {
		return nil, err
	}

	if err := writeManifestRecord(pack, spec.GameDir, resolved); err != nil {
		return nil, err
	}

	reporter.Done(true, fmt.Sprintf("installed modpack %s", pack.Metadata.Name))
	return result, nil
}

func installLoader(ctx context.Context, c *cache.Cache, spec installer.Spec, reporter progress.Reporter) (*installer.Result, error) {
	switch spec.Modloader {
	case "fabric":
		return fabric.Install(ctx, c, fabric.Fabric, spec, spec.ModloaderVersion, reporter)
	case "quilt":
		return fabric.Install(ctx, c, fabric.Quilt, spec, spec.ModloaderVersion, reporter)
	case "forge", "neoforge":
		return nil, vestaerr.New(vestaerr.KindPrecondition, "forge/neoforge modpacks need a downloaded installer jar; run forge.Install and pass its result as base")
	default:
		return installer.InstallVanilla(ctx, c, spec, reporter)
	}
}

// fetchModFile downloads a single mod file from ref.URL with download.File's
// retry, and verifies hashes if present. Only that one URL is tried: for
// Modrinth packs it is the first downloads[] entry, and later candidates
// are not attempted.
func fetchModFile(ctx context.Context, client *http.Client, dest string, ref FileRef) error {
	if _, err := os.Stat(dest); err == nil {
		if ref.SHA1 == "" && ref.SHA512 == "" {
			return nil
		}
		if verifyHashes(dest, ref) {
			return nil
		}
		os.Remove(dest)
	}

	if ref.URL == "" {
		return vestaerr.New(vestaerr.KindPrecondition, fmt.Sprintf("no download URL available for %s", ref.Path))
	}

	if err := download.File(ctx, client, ref.URL, dest, ref.SHA1, progress.Silent{}); err != nil {
		return vestaerr.Wrap(vestaerr.KindTransient, fmt.Sprintf("downloading %s", ref.Path), err)
	}
	if ref.SHA1 == "" && ref.SHA512 != "" && !verifyHashes(dest, ref) {
		os.Remove(dest)
		return vestaerr.New(vestaerr.KindIntegrity, fmt.Sprintf("sha512 mismatch for %s", ref.Path))
	}
	return nil
}

func verifyHashes(path string, ref FileRef) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	if ref.SHA512 != "" {
		h := sha512.New()
		if _, err := io.Copy(h, f); err != nil {
			return false
		}
		return hex.EncodeToString(h.Sum(nil)) == ref.SHA512
	}
	if ref.SHA1 != "" {
		f.Seek(0, io.SeekStart)
		h := sha1.New()
		if _, err := io.Copy(h, f); err != nil {
			return false
		}
		return hex.EncodeToString(h.Sum(nil)) == ref.SHA1
	}
	return true
}

func extractOverrides(pack *Pack, gameDir string) error {
	for _, name := range pack.archive.Names() {
		for _, prefix := range pack.overridesDirs {
			if strings.HasSuffix(name, "/") || !strings.HasPrefix(name, prefix) {
				continue
			}
			rel := strings.TrimPrefix(name, prefix)
			if rel == "" {
				continue
			}
			dest := filepath.Join(gameDir, filepath.FromSlash(rel))
			if err := pack.archive.ExtractTo(name, dest); err != nil {
				return vestaerr.Wrap(vestaerr.KindIntegrity, fmt.Sprintf("extracting override %s", name), err)
			}
		}
	}
	return nil
}

func writeManifestRecord(pack *Pack, gameDir string, files []FileRef) error {
	dir := filepath.Join(gameDir, ".vesta")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "creating .vesta directory", err)
	}

	record := ManifestRecord{
		Format:           formatName(pack.Format),
		Name:             pack.Metadata.Name,
		MinecraftVersion: pack.Metadata.MinecraftVersion,
		Loader:           pack.Metadata.Loader,
		LoaderVersion:    pack.Metadata.LoaderVersion,
		Files:            files,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "encoding modpack manifest", err)
	}

	dest := filepath.Join(dir, "modpack_manifest.json")
	tmp := dest + ".part"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "writing modpack manifest", err)
	}
	return os.Rename(tmp, dest)
}

func formatName(f Format) string {
	switch f {
	case Modrinth:
		return "modrinth"
	case CurseForge:
		return "curseforge"
	default:
		return "unknown"
	}
}
