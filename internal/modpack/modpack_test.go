package modpack

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}

	path := filepath.Join(t.TempDir(), "pack.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing pack file: %v", err)
	}
	return path
}

const modrinthIndexJSON = `{
  "name": "Test Pack",
  "versionId": "1.0.0",
  "dependencies": {"minecraft": "1.20.1", "fabric-loader": "0.15.0"},
  "files": [
    {"path": "mods/a.jar", "downloads": ["https://example.com/a.jar"], "hashes": {"sha1": "abc"}, "fileSize": 100, "env": {"client": "required", "server": "required"}},
    {"path": "mods/b.jar", "downloads": ["https://example.com/b.jar"], "hashes": {}, "fileSize": 50, "env": {"client": "unsupported"}}
  ]
}`

func TestLoad_Modrinth(t *testing.T) {
	path := writeZip(t, map[string]string{
		"modrinth.index.json":      modrinthIndexJSON,
		"overrides/config/x.cfg":   "hello",
		"client-overrides/opt.cfg": "world",
	})

	pack, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if pack.Format != Modrinth {
		t.Errorf("Format = %v, want Modrinth", pack.Format)
	}
	if pack.Metadata.MinecraftVersion != "1.20.1" {
		t.Errorf("MinecraftVersion = %q, want 1.20.1", pack.Metadata.MinecraftVersion)
	}
	if pack.Metadata.Loader != "fabric" || pack.Metadata.LoaderVersion != "0.15.0" {
		t.Errorf("Loader/LoaderVersion = %q/%q, want fabric/0.15.0", pack.Metadata.Loader, pack.Metadata.LoaderVersion)
	}
	// the unsupported file should be dropped entirely
	if len(pack.Files) != 1 {
		t.Fatalf("Files = %d, want 1 (unsupported entry should be skipped)", len(pack.Files))
	}
	if pack.Files[0].Path != "mods/a.jar" {
		t.Errorf("Files[0].Path = %q, want mods/a.jar", pack.Files[0].Path)
	}
}

const curseForgeManifestJSON = `{
  "minecraft": {"version": "1.19.2", "modLoaders": [{"id": "forge-43.2.0", "primary": true}]},
  "name": "CF Pack",
  "overrides": "overrides",
  "files": [
    {"projectID": 1, "fileID": 100, "required": true},
    {"projectID": 2, "fileID": 200, "required": false}
  ]
}`

func TestLoad_CurseForge(t *testing.T) {
	path := writeZip(t, map[string]string{
		"manifest.json":             curseForgeManifestJSON,
		"overrides/config/y.cfg":    "hi",
	})

	pack, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if pack.Format != CurseForge {
		t.Errorf("Format = %v, want CurseForge", pack.Format)
	}
	if pack.Metadata.Loader != "forge" || pack.Metadata.LoaderVersion != "43.2.0" {
		t.Errorf("Loader/LoaderVersion = %q/%q, want forge/43.2.0", pack.Metadata.Loader, pack.Metadata.LoaderVersion)
	}
	if len(pack.Files) != 2 {
		t.Fatalf("Files = %d, want 2", len(pack.Files))
	}
	if pack.Files[0].Env != "required" || pack.Files[1].Env != "optional" {
		t.Errorf("Files envs = %q, %q, want required, optional", pack.Files[0].Env, pack.Files[1].Env)
	}
}

func TestLoad_NestedOneLevel(t *testing.T) {
	path := writeZip(t, map[string]string{
		"MyPack/modrinth.index.json": modrinthIndexJSON,
		"MyPack/overrides/a.cfg":     "hi",
	})

	pack, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if pack.Format != Modrinth {
		t.Errorf("Format = %v, want Modrinth for a one-level-nested archive", pack.Format)
	}
}

func TestLoad_Unrecognized(t *testing.T) {
	path := writeZip(t, map[string]string{"README.txt": "nothing to see here"})
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an archive with neither manifest format present")
	}
}

func TestSplitLoaderID(t *testing.T) {
	tests := []struct {
		id, loader, version string
	}{
		{"forge-43.2.0", "forge", "43.2.0"},
		{"neoforge-20.2.59", "neoforge", "20.2.59"},
		{"fabric", "fabric", ""},
	}
	for _, tt := range tests {
		loader, version := splitLoaderID(tt.id)
		if loader != tt.loader || version != tt.version {
			t.Errorf("splitLoaderID(%q) = %q, %q, want %q, %q", tt.id, loader, version, tt.loader, tt.version)
		}
	}
}

func TestRecommendedRAM(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 2048},
		{30, 4096},
		{100, 6144},
		{200, 8192},
	}
	for _, tt := range tests {
		if got := recommendedRAM(tt.count); got != tt.want {
			t.Errorf("recommendedRAM(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}
