// Package jre manages Java runtime discovery and provisioning (C10),
// grounded on the teacher's env.go (which already located a system JAVA_HOME)
// generalized with the Azul Zulu metadata API described in spec.md §4.10 for
// the case no usable runtime is present.
package jre

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"vesta/internal/cache"
	"vesta/internal/download"
	"vesta/internal/httpx"
	"vesta/internal/logging"
	"vesta/internal/progress"
	"vesta/internal/vestaerr"
)

const zuluMetadataURL = "https://api.azul.com/metadata/v1/zulu/packages/"

// zuluPackage is the subset of the Azul Zulu metadata API response used to
// pick a download.
type zuluPackage struct {
	DownloadURL string `json:"download_url"`
	Name        string `json:"name"`
}

func zuluArchiveExt() string {
	if runtime.GOOS == "windows" {
		return "zip"
	}
	return "tar.gz"
}

func zuluArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	case "386":
		return "x86"
	default:
		return "x86_64"
	}
}

func zuluOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "linux"
	}
}

// javaCandidatePaths enumerates the common layouts a Zulu distribution (or a
// manual install) might place java under within root, per spec.md §4.10
// step 1.
func javaCandidatePaths(root string) []string {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	candidates := []string{filepath.Join(root, "bin", "java"+ext)}
	if runtime.GOOS == "darwin" {
		candidates = append(candidates, filepath.Join(root, "Contents", "Home", "bin", "java"+ext))
	}
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				candidates = append(candidates, filepath.Join(root, e.Name(), "bin", "java"+ext))
				if runtime.GOOS == "darwin" {
					candidates = append(candidates, filepath.Join(root, e.Name(), "Contents", "Home", "bin", "java"+ext))
				}
			}
		}
	}
	return candidates
}

func findExisting(versionDir string) string {
	for _, candidate := range javaCandidatePaths(versionDir) {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Ensure guarantees a Java executable of requiredMajor exists under jreRoot,
// downloading and extracting a Zulu build if necessary, and returns its
// path.
func Ensure(ctx context.Context, c *cache.Cache, jreRoot string, requiredMajor int, reporter progress.Reporter) (string, error) {
	versionDir := filepath.Join(jreRoot, fmt.Sprintf("zulu-%d", requiredMajor))
	if existing := findExisting(versionDir); existing != "" {
		return existing, nil
	}

	if err := os.MkdirAll(jreRoot, 0700); err != nil {
		return "", vestaerr.Wrap(vestaerr.KindIntegrity, "creating jre root", err)
	}

	pkg, err := queryZulu(ctx, requiredMajor)
	if err != nil {
		return "", vestaerr.Wrap(vestaerr.KindTransient, "querying Zulu metadata", err)
	}

	archivePath := filepath.Join(jreRoot, pkg.Name)
	client := httpx.NewClient(true)
	if err := download.File(ctx, client, pkg.DownloadURL, archivePath, "", reporter); err != nil {
		return "", vestaerr.Wrap(vestaerr.KindTransient, "downloading jre archive", err)
	}
	defer os.Remove(archivePath)

	if err := extractArchive(archivePath, versionDir); err != nil {
		return "", vestaerr.Wrap(vestaerr.KindIntegrity, "extracting jre archive", err)
	}

	javaPath := findExisting(versionDir)
	if javaPath == "" {
		return "", vestaerr.New(vestaerr.KindIntegrity, "no java executable found after extracting jre archive")
	}
	if runtime.GOOS != "windows" {
		os.Chmod(javaPath, 0755)
	}

	if c != nil {
		rel, _ := filepath.Rel(jreRoot, javaPath)
		if sha, ingestErr := c.Ingest(javaPath, "", pkg.DownloadURL); ingestErr == nil {
			c.RecordInstall("jre/"+fmt.Sprintf("zulu-%d", requiredMajor), "", []cache.InstallComponent{
				{Label: cache.Label("jre/" + rel), Sha: sha},
			})
		}
	}

	return javaPath, nil
}

func queryZulu(ctx context.Context, major int) (*zuluPackage, error) {
	url := fmt.Sprintf("%s?java_version=%d&os=%s&arch=%s&archive_type=%s&java_package_type=jre&release_status=ga&availability_types=CA&page=1&page_size=1",
		zuluMetadataURL, major, zuluOS(), zuluArch(), zuluArchiveExt())

	client := httpx.NewClient(true)
	resp, err := httpx.Get(client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("zulu metadata query returned status %s", resp.Status)
	}

	var results []zuluPackage
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding zulu metadata response: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no zulu build found for java %d on %s/%s", major, zuluOS(), zuluArch())
	}
	return &results[0], nil
}

func extractArchive(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return err
	}
	if strings.HasSuffix(archivePath, ".zip") {
		return extractZip(archivePath, destDir)
	}
	return extractTarGz(archivePath, destDir)
}

// DetectSystemJava mirrors spec.md §4.10's detect_system_java: PATH lookup
// plus well-known install roots, verified by running `java -version`.
func DetectSystemJava() string {
	candidates := []string{}
	var whichCmd *exec.Cmd
	if runtime.GOOS == "windows" {
		whichCmd = exec.Command("where", "java")
	} else {
		whichCmd = exec.Command("sh", "-c", "which java")
	}
	if out, err := whichCmd.Output(); err == nil {
		if line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]; line != "" {
			candidates = append(candidates, strings.TrimSpace(line))
		}
	}

	for _, root := range wellKnownJavaRoots() {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				candidates = append(candidates, javaCandidatePaths(filepath.Join(root, e.Name()))...)
			}
		}
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			if MajorVersion(candidate) > 0 {
				return candidate
			}
		}
	}
	return ""
}

func wellKnownJavaRoots() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{`C:\Program Files\Java`, `C:\Program Files (x86)\Java`}
	case "darwin":
		return []string{"/Library/Java/JavaVirtualMachines"}
	default:
		return []string{"/usr/lib/jvm"}
	}
}

// MajorVersion runs `<javaPath> -version` and parses the major version
// number out of stderr, returning 0 if it cannot be determined.
func MajorVersion(javaPath string) int {
	cmd := exec.Command(javaPath, "-version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		logging.Verbose("java -version failed for %s: %v\n", javaPath, err)
	}
	return parseJavaVersion(string(out))
}

func parseJavaVersion(output string) int {
	idx := strings.Index(output, "\"")
	if idx < 0 {
		return 0
	}
	rest := output[idx+1:]
	end := strings.Index(rest, "\"")
	if end < 0 {
		return 0
	}
	ver := rest[:end]
	parts := strings.Split(ver, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if major == 1 && len(parts) > 1 {
		if minor, err := strconv.Atoi(parts[1]); err == nil {
			return minor
		}
	}
	return major
}
