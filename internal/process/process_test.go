package process

import (
	"os"
	"path/filepath"
	"testing"

	"vesta/internal/manifest"
)

func TestAssetsIndexName(t *testing.T) {
	tests := []struct {
		name string
		m    *manifest.Manifest
		want string
	}{
		{"modern with asset index", &manifest.Manifest{AssetIndex: &manifest.AssetIndexRef{ID: "17"}}, "17"},
		{"legacy falls back to assets field", &manifest.Manifest{Assets: "legacy"}, "legacy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := assetsIndexName(tt.m); got != tt.want {
				t.Errorf("assetsIndexName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestManifestDeclaresNatives(t *testing.T) {
	m := &manifest.Manifest{
		Libraries: []manifest.Library{
			{Name: "org.lwjgl:lwjgl:3.2.2"},
			{Name: "org.lwjgl:lwjgl-natives:3.2.2", Natives: map[string]string{"windows": "natives-windows", "linux": "natives-linux", "osx": "natives-macos"}},
		},
	}
	if !manifestDeclaresNatives(m) {
		t.Error("expected natives to be declared when a library carries a natives map for this platform")
	}

	plain := &manifest.Manifest{Libraries: []manifest.Library{{Name: "com.google.guava:guava:31.1"}}}
	if manifestDeclaresNatives(plain) {
		t.Error("expected no natives declared for a library without a natives map")
	}
}

func TestVerifyNativesPresent(t *testing.T) {
	dir := t.TempDir()
	if err := verifyNativesPresent(dir); err == nil {
		t.Error("expected error for empty natives directory")
	}

	if err := os.WriteFile(filepath.Join(dir, "lwjgl.so"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := verifyNativesPresent(dir); err != nil {
		t.Errorf("expected no error once a .so file is present, got %v", err)
	}
}

func TestReadExitStatus_Missing(t *testing.T) {
	if _, err := ReadExitStatus(t.TempDir()); err == nil {
		t.Error("expected error reading exit status from a directory with none written")
	}
}

func TestLookup_NotRegistered(t *testing.T) {
	if _, ok := Lookup("does-not-exist"); ok {
		t.Error("expected Lookup to report not-found for an unregistered instance id")
	}
}
