package installer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Jeffail/gabs"

	"vesta/internal/cache"
	"vesta/internal/download"
	"vesta/internal/httpx"
	"vesta/internal/jre"
	"vesta/internal/logging"
	"vesta/internal/manifest"
	"vesta/internal/natives"
	"vesta/internal/progress"
	"vesta/internal/vestaerr"
)

const versionManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

const defaultConcurrency = 8

// Result is what a successful vanilla install produces, consumed by the
// loader installers (C9) to overlay on top of.
type Result struct {
	Manifest      *manifest.Manifest
	ClientJarPath string
	LibrariesDir  string
	AssetsDir     string
	NativesDir    string
	JavaPath      string
}

// InstallVanilla runs the C8 pipeline: manifest, client jar, asset index and
// objects, libraries, natives, and JRE.
func InstallVanilla(ctx context.Context, c *cache.Cache, spec Spec, reporter progress.Reporter) (*Result, error) {
	reporter = reporterOrSilent(reporter)
	concurrency := spec.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	versionID := spec.VersionID
	versionDir := filepath.Join(spec.DataDir, "versions", versionID)
	librariesDir := filepath.Join(spec.DataDir, "libraries")
	assetsDir := filepath.Join(spec.DataDir, "assets")

	client := httpx.NewClient(true)

	reporter.StartStep("resolve manifest", 8)
	m, err := fetchVersionManifest(ctx, client, c, spec.DataDir, versionID, reporter)
	if err != nil {
		return nil, err
	}
	m.Validate()

	reporter.SetStepCount(2, 8)
	clientJarPath := filepath.Join(versionDir, versionID+".jar")
	if err := fetchClientJar(ctx, client, c, versionID, m, clientJarPath, reporter); err != nil {
		return nil, err
	}

	reporter.SetStepCount(3, 8)
	if m.AssetIndex != nil {
		if err := fetchAssets(ctx, client, c, spec, m, assetsDir, concurrency, reporter); err != nil {
			return nil, err
		}
	}

	reporter.SetStepCount(5, 8)
	var mainTasks []download.Item
	var nativeLibs []manifest.Library
	osVer := runtime.GOOS
	features := manifest.Features{}
	for _, lib := range m.Libraries {
		if !manifest.Allow(lib.Rules, osVer, features) {
			continue
		}
		if natives.LibraryNeedsNatives(lib) {
			nativeLibs = append(nativeLibs, lib)
		}
		if lib.Downloads.Artifact != nil || lib.URL != "" || lib.Downloads.Classifiers == nil {
			mainTasks = append(mainTasks, libraryItem(lib, librariesDir))
		}
	}

	reporter.SetStepCount(6, 8)
	libComponents, err := download.Batch(ctx, client, c, versionID, mainTasks, concurrency, reporter, 40, 30)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "downloading libraries", err)
	}

	reporter.SetStepCount(7, 8)
	nativesDir := natives.DirFor(spec.DataDir, spec.InstalledID())
	if err := installNatives(ctx, client, c, versionID, nativeLibs, librariesDir, nativesDir, reporter); err != nil {
		return nil, err
	}

	javaMajor := 8
	if m.JavaVersion != nil && m.JavaVersion.MajorVersion > 0 {
		javaMajor = m.JavaVersion.MajorVersion
	}
	reporter.SetStepCount(8, 8)
	javaPath := spec.JavaPath
	if javaPath == "" {
		javaPath, err = jre.Ensure(ctx, c, filepath.Join(spec.DataDir, "jre"), javaMajor, reporter)
		if err != nil {
			return nil, err
		}
	}

	if c != nil {
		c.RecordInstall(versionID, "", libComponents)
		c.Save()
	}

	reporter.Done(true, fmt.Sprintf("installed %s", versionID))
	return &Result{
		Manifest:      m,
		ClientJarPath: clientJarPath,
		LibrariesDir:  librariesDir,
		AssetsDir:     assetsDir,
		NativesDir:    nativesDir,
		JavaPath:      javaPath,
	}, nil
}

func libraryItem(lib manifest.Library, librariesDir string) download.Item {
	relPath, url := lib.Name, ""
	if lib.Downloads.Artifact != nil {
		relPath = lib.Downloads.Artifact.Path
		url = lib.Downloads.Artifact.URL
		return download.Item{
			Name:         lib.Name,
			URL:          url,
			LocalPath:    filepath.Join(librariesDir, relPath),
			ExpectedSHA1: lib.Downloads.Artifact.SHA1,
			Label:        cache.Label("library:" + lib.Name),
		}
	}
	return download.Item{
		Name:      lib.Name,
		URL:       lib.URL,
		LocalPath: filepath.Join(librariesDir, relPath),
		Label:     cache.Label("library:" + lib.Name),
	}
}

func fetchVersionManifest(ctx context.Context, client *http.Client, c *cache.Cache, dataDir, versionID string, reporter progress.Reporter) (*manifest.Manifest, error) {
	versionDir := filepath.Join(dataDir, "versions", versionID)
	manifestPath := filepath.Join(versionDir, versionID+".json")

	if _, err := os.Stat(manifestPath); err == nil {
		if m, err := manifest.Load(dataDir, versionID); err == nil {
			return m, nil
		}
	}

	resp, err := httpx.Get(client, versionManifestURL)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "fetching version manifest list", err)
	}
	defer resp.Body.Close()

	doc, err := gabs.ParseJSONBuffer(resp.Body)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing version manifest list", err)
	}

	var entryURL, entrySHA1 string
	versionObjs, _ := doc.Path("versions").Children()
	for _, v := range versionObjs {
		if id, ok := v.Path("id").Data().(string); ok && id == versionID {
			entryURL, _ = v.Path("url").Data().(string)
			entrySHA1, _ = v.Path("sha1").Data().(string)
			break
		}
	}
	if entryURL == "" {
		return nil, vestaerr.New(vestaerr.KindPrecondition, fmt.Sprintf("unknown minecraft version %q", versionID))
	}

	if err := os.MkdirAll(versionDir, 0700); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "creating version directory", err)
	}
	if err := download.File(ctx, client, entryURL, manifestPath, entrySHA1, reporter); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "downloading version manifest", err)
	}
	if c != nil {
		if sha, err := c.Ingest(manifestPath, entrySHA1, entryURL); err == nil {
			c.RecordInstall("manifest:"+versionID, "", []cache.InstallComponent{{Label: cache.Label("manifest"), Sha: sha}})
		}
	}

	return manifest.Load(dataDir, versionID)
}

func fetchClientJar(ctx context.Context, client *http.Client, c *cache.Cache, versionID string, m *manifest.Manifest, dest string, reporter progress.Reporter) error {
	dl, ok := m.Downloads["client"]
	if !ok {
		return vestaerr.New(vestaerr.KindPrecondition, "manifest has no client download entry")
	}
	if info, err := os.Stat(dest); err == nil && info.Size() == dl.Size {
		return nil
	}
	if c != nil {
		if sha, ok := c.FindByLabel(versionID, "client"); ok {
			if restored, err := c.Restore(sha, dest); err == nil && restored {
				return nil
			}
		}
	}
	if err := download.File(ctx, client, dl.URL, dest, dl.SHA1, reporter); err != nil {
		return vestaerr.Wrap(vestaerr.KindTransient, "downloading client jar", err)
	}
	if c != nil {
		if sha, err := c.Ingest(dest, dl.SHA1, dl.URL); err == nil {
			c.RecordInstall(versionID+":client", "", []cache.InstallComponent{{Label: "client", Sha: sha}})
		}
	}
	return nil
}

func fetchAssets(ctx context.Context, client *http.Client, c *cache.Cache, spec Spec, m *manifest.Manifest, assetsDir string, concurrency int, reporter progress.Reporter) error {
	indexPath := filepath.Join(assetsDir, "indexes", m.AssetIndex.ID+".json")
	if info, err := os.Stat(indexPath); err != nil || info.Size() != m.AssetIndex.Size {
		if err := download.File(ctx, client, m.AssetIndex.URL, indexPath, m.AssetIndex.SHA1, reporter); err != nil {
			return vestaerr.Wrap(vestaerr.KindTransient, "downloading asset index", err)
		}
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "reading asset index", err)
	}
	doc, err := gabs.ParseJSON(data)
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "parsing asset index", err)
	}

	objects, err := doc.Path("objects").ChildrenMap()
	if err != nil || len(objects) == 0 {
		return nil
	}

	var items []download.Item
	for name, obj := range objects {
		hash, _ := obj.Path("hash").Data().(string)
		if hash == "" {
			continue
		}
		size, _ := obj.Path("size").Data().(float64)
		prefix := hash[:2]
		localPath := filepath.Join(assetsDir, "objects", prefix, hash)

		if info, err := os.Stat(localPath); err == nil && info.Size() == int64(size) {
			continue
		}
		items = append(items, download.Item{
			Name:         name,
			URL:          "https://resources.download.minecraft.net/" + prefix + "/" + hash,
			LocalPath:    localPath,
			ExpectedSHA1: hash,
			Label:        cache.Label("asset:" + hash),
		})
	}

	_, err = download.Batch(ctx, client, c, spec.VersionID, items, concurrency, reporter, 20, 20)
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindTransient, "downloading asset objects", err)
	}
	return nil
}

func installNatives(ctx context.Context, client *http.Client, c *cache.Cache, versionID string, libs []manifest.Library, librariesDir, nativesDir string, reporter progress.Reporter) error {
	arch := natives.Arch(runtime.GOARCH)
	for _, lib := range libs {
		classifier, found := natives.SelectClassifier(lib, arch)
		var jarPath string
		var exclusions []string

		if cd, ok := lib.Downloads.Classifiers[classifier]; found && ok {
			jarPath = filepath.Join(librariesDir, cd.Path)
			if _, err := os.Stat(jarPath); err != nil {
				if err := download.File(ctx, client, cd.URL, jarPath, cd.SHA1, reporter); err != nil {
					return vestaerr.Wrap(vestaerr.KindTransient, "downloading native classifier", err)
				}
				if c != nil {
					c.Ingest(jarPath, cd.SHA1, cd.URL)
				}
			}
			exclusions = lib.ExtractExclusions
		} else if found {
			logging.Verbose("natives: no classifier download entry for %s (%s)\n", lib.Name, classifier)
			continue
		} else {
			continue
		}

		if err := natives.Extract(jarPath, nativesDir, exclusions); err != nil {
			return err
		}
	}
	return nil
}
