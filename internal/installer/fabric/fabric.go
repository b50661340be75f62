// Package fabric installs Fabric and Quilt loader profiles over a vanilla
// base install (the profile-merge half of C9), grounded on the teacher's
// fabric.go (which already drove a Fabric meta API fetch and maven-path
// library resolution) generalized to the full profile-merge pipeline in
// spec.md §4.9.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Jeffail/gabs"
	"github.com/Masterminds/semver/v3"

	"vesta/internal/cache"
	"vesta/internal/download"
	"vesta/internal/httpx"
	"vesta/internal/installer"
	"vesta/internal/library"
	"vesta/internal/manifest"
	"vesta/internal/maven"
	"vesta/internal/progress"
	"vesta/internal/vestaerr"
)

// Flavor distinguishes the two Fabric-shaped ecosystems sharing this
// installer (they publish near-identical meta/profile APIs).
type Flavor int

const (
	Fabric Flavor = iota
	Quilt
)

func (f Flavor) metaBase() string {
	if f == Quilt {
		return "https://meta.quiltmc.org/v3/versions"
	}
	return "https://meta.fabricmc.net/v2/versions"
}

func (f Flavor) loaderKey() string {
	if f == Quilt {
		return "quilt"
	}
	return "fabric"
}

type profileLibrary struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type profile struct {
	ID           string           `json:"id"`
	InheritsFrom string           `json:"inheritsFrom"`
	MainClass    string           `json:"mainClass"`
	Arguments    *manifest.Arguments `json:"arguments,omitempty"`
	Libraries    []profileLibrary `json:"libraries"`
}

// Install runs C9's Fabric/Quilt pipeline: ensure vanilla base, determine
// loader version, fetch + merge the loader profile, download profile
// libraries, and write the merged installed-version manifest.
func Install(ctx context.Context, c *cache.Cache, flavor Flavor, spec installer.Spec, loaderVersion string, reporter progress.Reporter) (*installer.Result, error) {
	base, err := installer.InstallVanilla(ctx, c, spec, reporter)
	if err != nil {
		return nil, err
	}

	client := httpx.NewClient(true)

	if loaderVersion == "" {
		loaderVersion, err = latestLoaderVersion(client, flavor)
		if err != nil {
			return nil, vestaerr.Wrap(vestaerr.KindTransient, "resolving latest loader version", err)
		}
	}

	installedID := spec.Modloader + "-loader-" + loaderVersion + "-" + spec.VersionID
	installedDir := filepath.Join(spec.DataDir, "versions", installedID)
	installedJar := filepath.Join(installedDir, installedID+".jar")
	if err := copyOrFetchClientJar(ctx, client, base.ClientJarPath, installedJar, spec.DataDir, spec.VersionID); err != nil {
		return nil, err
	}

	profileURL := fmt.Sprintf("%s/%s/%s/profile/json", flavor.metaBase(), spec.VersionID, loaderVersion)
	profilePath := filepath.Join(installedDir, "profile.json")
	if err := download.File(ctx, client, profileURL, profilePath, "", reporter); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "downloading loader profile", err)
	}

	prof, err := loadProfile(profilePath)
	if err != nil {
		return nil, err
	}

	libItems := make([]manifest.Library, 0, len(prof.Libraries))
	for _, l := range prof.Libraries {
		libItems = append(libItems, manifest.Library{Name: l.Name, URL: l.URL})
	}
	if _, err := library.DownloadConcurrent(ctx, client, c, installedID, base.LibrariesDir, "", libItems, spec.Concurrency, reporter, 70, 20, ""); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "downloading loader libraries", err)
	}

	merged := mergeProfile(base.Manifest, prof, libItems)
	merged.ID = installedID
	merged.Validate()
	if err := merged.Save(spec.DataDir, installedID); err != nil {
		return nil, err
	}

	if c != nil {
		c.Save()
	}

	reporter.Done(true, fmt.Sprintf("installed %s", installedID))
	return &installer.Result{
		Manifest:      merged,
		ClientJarPath: installedJar,
		LibrariesDir:  base.LibrariesDir,
		AssetsDir:     base.AssetsDir,
		NativesDir:    base.NativesDir,
		JavaPath:      base.JavaPath,
	}, nil
}

// copyOrFetchClientJar materializes the installed-variant client jar,
// copying the vanilla jar per spec.md §4.9 step 2 ("copy vanilla jar; fall
// back to re-downloading from the vanilla manifest's client URL").
func copyOrFetchClientJar(ctx context.Context, client *http.Client, vanillaJar, dest, dataDir, vanillaVersionID string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "creating installed version directory", err)
	}

	in, err := os.Open(vanillaJar)
	if err == nil {
		defer in.Close()
		out, err := os.Create(dest)
		if err == nil {
			_, copyErr := io.Copy(out, in)
			out.Close()
			if copyErr == nil {
				return nil
			}
		}
	}

	m, err := manifest.Load(dataDir, vanillaVersionID)
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindPrecondition, "locating vanilla manifest for client jar fallback", err)
	}
	dl, ok := m.Downloads["client"]
	if !ok {
		return vestaerr.New(vestaerr.KindPrecondition, "vanilla manifest has no client download entry")
	}
	return download.File(ctx, client, dl.URL, dest, dl.SHA1, progress.Silent{})
}

func loadProfile(path string) (*profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "reading loader profile", err)
	}
	var p profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing loader profile", err)
	}
	return &p, nil
}

func mergeProfile(vanilla *manifest.Manifest, prof *profile, extraLibs []manifest.Library) *manifest.Manifest {
	merged := &manifest.Manifest{
		ID:          prof.ID,
		MainClass:   prof.MainClass,
		AssetIndex:  vanilla.AssetIndex,
		Assets:      vanilla.Assets,
		JavaVersion: vanilla.JavaVersion,
		Type:        vanilla.Type,
		Downloads:   vanilla.Downloads,
		ReleaseTime: vanilla.ReleaseTime,
		Time:        vanilla.Time,
	}

	merged.Libraries = dedupeLibraries(extraLibs, vanilla.Libraries)

	merged.Arguments = &manifest.Arguments{}
	if prof.Arguments != nil {
		merged.Arguments.Game = append(merged.Arguments.Game, prof.Arguments.Game...)
		merged.Arguments.JVM = append(merged.Arguments.JVM, prof.Arguments.JVM...)
	}
	if vanilla.Arguments != nil {
		merged.Arguments.Game = append(merged.Arguments.Game, vanilla.Arguments.Game...)
		merged.Arguments.JVM = append(merged.Arguments.JVM, vanilla.Arguments.JVM...)
	}
	return merged
}

// dedupeLibraries deduplicates by group:artifact[:classifier], with loader
// libraries (first) taking priority over vanilla libraries for the same GA,
// per spec.md §4.9 step 5.
func dedupeLibraries(loaderLibs, vanillaLibs []manifest.Library) []manifest.Library {
	seen := make(map[string]bool)
	var out []manifest.Library
	for _, l := range loaderLibs {
		key := groupArtifact(l.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	for _, l := range vanillaLibs {
		key := groupArtifact(l.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

func groupArtifact(name string) string {
	coord, err := maven.Parse(name)
	if err != nil {
		return name
	}
	return coord.GroupArtifact()
}

// latestLoaderVersion fetches <metaBase>/loader and returns the newest
// published version, matching the teacher's fabric.go meta-API read. The
// meta API already lists entries newest-first, but that ordering is
// undocumented, so entries are additionally compared with semver and the
// API's own order is only relied upon as a tiebreaker/fallback when an
// entry's version string isn't valid semver (fabric/quilt loader versions
// occasionally carry non-numeric build suffixes).
func latestLoaderVersion(client *http.Client, flavor Flavor) (string, error) {
	url := flavor.metaBase() + "/loader"
	resp, err := httpx.Get(client, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loader version query returned status %s", resp.Status)
	}

	doc, err := gabs.ParseJSONBuffer(resp.Body)
	if err != nil {
		return "", err
	}
	entries, err := doc.Children()
	if err != nil || len(entries) == 0 {
		return "", fmt.Errorf("no %s loader versions published", flavor.loaderKey())
	}

	best := ""
	var bestVer *semver.Version
	for _, e := range entries {
		version, ok := e.Path("version").Data().(string)
		if !ok || version == "" {
			continue
		}
		if best == "" {
			best = version
		}
		if v, err := semver.NewVersion(version); err == nil {
			if bestVer == nil || v.GreaterThan(bestVer) {
				bestVer = v
				best = version
			}
		}
	}
	if best == "" {
		return "", fmt.Errorf("malformed %s loader version entry", flavor.loaderKey())
	}
	return best, nil
}
