// Package library resolves Maven-coordinate libraries to filesystem paths
// and downloads them, overlapping C2's bounded-concurrency batch behavior
// without requiring pre-known hashes (spec.md §4.6), grounded on the
// teacher's maven.go/maven_file.go path derivation.
package library

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"vesta/internal/cache"
	"vesta/internal/download"
	"vesta/internal/logging"
	"vesta/internal/manifest"
	"vesta/internal/maven"
	"vesta/internal/progress"
	"vesta/internal/vestaerr"
)

const defaultMavenBase = "https://libraries.minecraft.net"

// Resolve parses name and produces its repository-relative path and derived
// URL against baseMaven (or defaultMavenBase when empty).
func Resolve(name, baseMaven string) (relPath, derivedURL string, err error) {
	c, err := maven.Parse(name)
	if err != nil {
		return "", "", err
	}
	if baseMaven == "" {
		baseMaven = defaultMavenBase
	}
	return c.Path(), c.URL(baseMaven), nil
}

// DownloadLibrary computes the library's path under librariesDir, validates
// any known sha1, restores from the cache by label before touching the
// network, and ingests the result on success.
func DownloadLibrary(ctx context.Context, client *http.Client, c *cache.Cache, versionID, librariesDir, name, mavenBase, explicitURL, sha1 string) (*cache.InstallComponent, error) {
	relPath, derivedURL, err := Resolve(name, mavenBase)
	if err != nil {
		return nil, err
	}
	if explicitURL != "" {
		derivedURL = explicitURL
	}
	localPath := filepath.Join(librariesDir, relPath)
	label := cache.Label("library:" + name)

	if existing, statErr := os.Stat(localPath); statErr == nil && sha1 != "" {
		if sum, err := cache.Sha1OfFile(localPath); err == nil && sum == sha1 {
			return ingestIfAbsent(c, versionID, label, localPath, sha1, derivedURL)
		}
		_ = existing
	} else if statErr == nil && sha1 == "" {
		return ingestIfAbsent(c, versionID, label, localPath, sha1, derivedURL)
	}

	if c != nil {
		if sha, ok := c.FindByLabel(versionID, label); ok {
			if restored, err := c.Restore(sha, localPath); err == nil && restored {
				return &cache.InstallComponent{Label: label, Sha: sha}, nil
			}
		}
	}

	if err := download.File(ctx, client, derivedURL, localPath, sha1, progress.Silent{}); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, fmt.Sprintf("downloading library %s", name), err)
	}
	return ingestIfAbsent(c, versionID, label, localPath, sha1, derivedURL)
}

func ingestIfAbsent(c *cache.Cache, versionID string, label cache.Label, localPath, sha1, url string) (*cache.InstallComponent, error) {
	if c == nil {
		return nil, nil
	}
	sha, err := c.Ingest(localPath, sha1, url)
	if err != nil {
		return nil, nil
	}
	return &cache.InstallComponent{Label: label, Sha: sha}, nil
}

// DownloadConcurrent deduplicates libs by name and downloads them with
// bounded concurrency, matching C2's aggregation semantics. When
// packXZJavaHome is non-empty, any library whose plain download fails is
// retried as a pack.xz artifact unpacked with that JRE's unpack200 (see
// download.fetchPackXZ), for pre-1.13 Forge libraries published that way.
func DownloadConcurrent(ctx context.Context, client *http.Client, c *cache.Cache, versionID, librariesDir, mavenBase string, libs []manifest.Library, concurrency int, reporter progress.Reporter, base, span int, packXZJavaHome string) ([]cache.InstallComponent, error) {
	seen := make(map[string]bool, len(libs))
	items := make([]download.Item, 0, len(libs))

	for _, lib := range libs {
		if seen[lib.Name] {
			continue
		}
		seen[lib.Name] = true

		relPath, derivedURL, err := Resolve(lib.Name, mavenBase)
		if err != nil {
			logging.Action("skipping malformed library %s: %v\n", lib.Name, err)
			continue
		}
		sha1 := ""
		if lib.Downloads.Artifact != nil {
			if lib.Downloads.Artifact.Path != "" {
				relPath = lib.Downloads.Artifact.Path
			}
			if lib.Downloads.Artifact.URL != "" {
				derivedURL = lib.Downloads.Artifact.URL
			}
			sha1 = lib.Downloads.Artifact.SHA1
		} else if lib.URL != "" {
			derivedURL = lib.URL + relPath
		}

		items = append(items, download.Item{
			Name:           lib.Name,
			URL:            derivedURL,
			LocalPath:      filepath.Join(librariesDir, relPath),
			ExpectedSHA1:   sha1,
			Label:          cache.Label("library:" + lib.Name),
			PackXZJavaHome: packXZJavaHome,
		})
	}

	return download.Batch(ctx, client, c, versionID, items, concurrency, reporter, base, span)
}
