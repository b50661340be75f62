// Package natives extracts platform-specific native libraries out of
// library jars into a per-version natives directory (C7), grounded on the
// teacher's ziphelper.go extraction helpers generalized with the
// os/arch/classifier selection rules from spec.md §4.7.
package natives

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"vesta/internal/manifest"
	"vesta/internal/vestaerr"
	"vesta/internal/ziputil"
)

func currentOSTokens() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"osx", "macos"}
	case "windows":
		return []string{"windows"}
	default:
		return []string{"linux"}
	}
}

// SelectClassifier implements spec.md §4.7 step 1's three-tier fallback,
// grounded on unified_manifest.rs's normal_lib/native_classifier resolution
// and exercised by natives.rs's permissive-classifier-scan case: an explicit
// entry for the current OS name in lib.Natives wins (${arch} substituted with
// "32"/"64"); failing that, a case-insensitive substring match against
// lib.Natives' keys (osx<->macos equivalence); failing that, lib.Downloads.
// Classifiers' own keys are scanned for an OS-matching key, preferring one
// that also names the host architecture over a looser match. The returned
// string is always the key to look up in lib.Downloads.Classifiers.
func SelectClassifier(lib manifest.Library, arch string) (string, bool) {
	if classifier, ok := selectFromNativesMap(lib.Natives, arch); ok {
		return classifier, true
	}
	return selectFromClassifiers(lib.Downloads.Classifiers, arch)
}

func selectFromNativesMap(nativesMap map[string]string, arch string) (string, bool) {
	if nativesMap == nil {
		return "", false
	}
	for _, tok := range currentOSTokens() {
		if tmpl, ok := nativesMap[tok]; ok {
			return strings.ReplaceAll(tmpl, "${arch}", arch), true
		}
	}
	for key, tmpl := range nativesMap {
		lower := strings.ToLower(key)
		for _, tok := range currentOSTokens() {
			if strings.Contains(lower, tok) {
				return strings.ReplaceAll(tmpl, "${arch}", arch), true
			}
		}
	}
	return "", false
}

// selectFromClassifiers scans a library's downloads.classifiers keys for an
// OS match when no natives map entry resolved one, preferring a key that
// also names the host architecture (e.g. "natives-windows-64" over
// "natives-windows-32" on a 64-bit host) over the first OS-matching key seen.
func selectFromClassifiers(classifiers map[string]*manifest.LibraryDownload, arch string) (string, bool) {
	if len(classifiers) == 0 {
		return "", false
	}
	fallback := ""
	for key := range classifiers {
		lower := strings.ToLower(key)
		matchesOS := false
		for _, tok := range currentOSTokens() {
			if strings.Contains(lower, tok) {
				matchesOS = true
				break
			}
		}
		if !matchesOS {
			continue
		}
		if classifierNamesArch(lower, arch) {
			return key, true
		}
		if fallback == "" {
			fallback = key
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

func classifierNamesArch(lowerKey, arch string) bool {
	if strings.Contains(lowerKey, arch) {
		return true
	}
	if arch == "64" && (strings.Contains(lowerKey, "x64") || strings.Contains(lowerKey, "amd64")) {
		return true
	}
	if arch == "32" && strings.Contains(lowerKey, "x86") && !strings.Contains(lowerKey, "x86_64") {
		return true
	}
	return false
}

// Arch returns "32" or "64" for ${arch} substitution, mirroring C5's
// architecture token derivation (narrower: only bit width, not ISA name).
func Arch(goarch string) string {
	if goarch == "386" || goarch == "arm" {
		return "32"
	}
	return "64"
}

// Extract opens jarPath as a zip and materializes every non-directory entry
// not matching an exclusion prefix into destDir, per spec.md §4.7 step 4.
func Extract(jarPath, destDir string, exclusions []string) error {
	archive, err := ziputil.OpenFile(jarPath)
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "opening native jar", err)
	}

	if err := os.MkdirAll(destDir, 0700); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "creating natives directory", err)
	}

	for _, name := range archive.Names() {
		if strings.HasSuffix(name, "/") {
			continue
		}
		excluded := false
		for _, prefix := range exclusions {
			if strings.HasPrefix(name, prefix) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		dest := filepath.Join(destDir, filepath.Base(name))
		if err := archive.ExtractTo(name, dest); err != nil {
			return vestaerr.Wrap(vestaerr.KindIntegrity, "extracting native entry "+name, err)
		}
	}
	return nil
}

// DirFor returns <dataDir>/natives/<versionID>.
func DirFor(dataDir, versionID string) string {
	return filepath.Join(dataDir, "natives", versionID)
}

// LibraryNeedsNatives reports whether lib declares a natives mapping or any
// classifier downloads (used by C8 to separate main-artifact tasks from native-classifier tasks).
func LibraryNeedsNatives(lib manifest.Library) bool {
	return len(lib.Natives) > 0 || len(lib.Downloads.Classifiers) > 0
}
