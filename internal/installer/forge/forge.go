// Package forge installs Forge/NeoForge from an installer jar, including
// processor execution, grounded directly on the teacher's forge.go (which
// already implements install-profile parsing, the artifact-to-path
// translation, and invokeProcessor's classpath+Main-Class+exec sequence).
package forge

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Jeffail/gabs"

	"vesta/internal/cache"
	"vesta/internal/httpx"
	"vesta/internal/installer"
	"vesta/internal/library"
	"vesta/internal/manifest"
	"vesta/internal/maven"
	"vesta/internal/progress"
	"vesta/internal/vestaerr"
	"vesta/internal/ziputil"
)

// installContext carries the state threaded through profile parsing,
// library download, and processor execution, mirroring the teacher's
// forgeContext.
type installContext struct {
	spec         installer.Spec
	base         *installer.Result
	cache        *cache.Cache
	installerJar *ziputil.Archive
	forgeVersion string
	librariesDir string
	scratchDir   string
}

func (ic *installContext) artifactPath(coords string) string {
	return filepath.Join(ic.librariesDir, maven.ToPath(coords))
}

// Install runs C9's Forge/NeoForge pipeline: install vanilla, open the
// installer jar, detect modern vs legacy install-profile shape, download
// libraries, run processors (modern) or extract the universal jar (legacy),
// and write the merged installed-version manifest.
func Install(ctx context.Context, c *cache.Cache, spec installer.Spec, installerJarPath string, reporter progress.Reporter) (*installer.Result, error) {
	base, err := installer.InstallVanilla(ctx, c, spec, reporter)
	if err != nil {
		return nil, err
	}

	archive, err := ziputil.OpenFile(installerJarPath)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "opening installer jar", err)
	}

	ic := &installContext{
		spec:         spec,
		base:         base,
		cache:        c,
		installerJar: archive,
		librariesDir: base.LibrariesDir,
		scratchDir:   filepath.Join(spec.DataDir, "tmp", "installer-data"),
	}

	if archive.Has("install_profile.json") {
		profileDoc, err := archive.GetJSON("install_profile.json")
		if err == nil {
			if _, hasVersionInfo := profileDoc.Path("versionInfo").Data().(map[string]interface{}); hasVersionInfo {
				return ic.installLegacy(ctx, profileDoc, reporter)
			}
			return ic.installModern(ctx, profileDoc, reporter)
		}
	}
	if archive.Has("version.json") {
		return ic.installBareVersion(ctx, reporter)
	}
	return nil, vestaerr.New(vestaerr.KindPrecondition, "installer jar has no recognizable install_profile.json or version.json")
}

// installModern implements spec.md §4.9's modern Forge/NeoForge path.
func (ic *installContext) installModern(ctx context.Context, profileDoc *gabs.Container, reporter progress.Reporter) (*installer.Result, error) {
	installedID, _ := profileDoc.Path("version").Data().(string)
	if installedID == "" {
		installedID = ic.spec.InstalledID()
	}

	if err := ic.extractBundledLibraries(profileDoc); err != nil {
		return nil, err
	}

	client := httpx.NewClient(true)

	var libs []manifest.Library
	for _, l := range pathChildren(profileDoc, "libraries") {
		name, _ := l.Path("name").Data().(string)
		if name == "" {
			continue
		}
		lib := manifest.Library{Name: name}
		if artifactDoc := l.Path("downloads.artifact"); artifactDoc.Data() != nil {
			path, _ := artifactDoc.Path("path").Data().(string)
			url, _ := artifactDoc.Path("url").Data().(string)
			sha1, _ := artifactDoc.Path("sha1").Data().(string)
			lib.Downloads.Artifact = &manifest.LibraryDownload{Path: path, URL: url, SHA1: sha1}
		}
		libs = append(libs, lib)
	}

	versionJSONRaw, err := ic.loadVersionInfoJSON(profileDoc)
	if err != nil {
		return nil, err
	}
	versionManifest, err := manifest.Parse(versionJSONRaw)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing forge version info", err)
	}
	libs = append(libs, versionManifest.Libraries...)

	libComponents, err := library.DownloadConcurrent(ctx, client, ic.cache, installedID, ic.librariesDir, "", libs, ic.spec.Concurrency, reporter, 60, 15, "")
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "downloading forge libraries", err)
	}

	if err := ic.runProcessors(profileDoc, reporter); err != nil {
		return nil, err
	}

	merged := manifest.Merge(ic.base.Manifest, versionManifest)
	merged.ID = installedID
	merged.Validate()
	if err := merged.Save(ic.spec.DataDir, installedID); err != nil {
		return nil, err
	}
	ic.recordInstall(installedID, libComponents)

	reporter.Done(true, fmt.Sprintf("installed %s", installedID))
	return ic.result(merged, installedID), nil
}

// installLegacy implements spec.md §4.9's legacy Forge path: an embedded
// universal jar, a mix of embedded-to-extract and download-list libraries.
func (ic *installContext) installLegacy(ctx context.Context, profileDoc *gabs.Container, reporter progress.Reporter) (*installer.Result, error) {
	versionInfo := profileDoc.Path("versionInfo")
	installedID, _ := versionInfo.Path("id").Data().(string)
	if installedID == "" {
		installedID = ic.spec.InstalledID()
	}

	if universalPath, _ := profileDoc.Path("install.filePath").Data().(string); universalPath != "" {
		if err := ic.installerJar.ExtractTo(universalPath, filepath.Join(ic.librariesDir, universalPath)); err != nil {
			return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "extracting legacy universal jar", err)
		}
	}

	raw, err := versionInfo.MarshalJSON()
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "encoding legacy version info", err)
	}
	versionManifest, err := manifest.Parse(raw)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing legacy version info", err)
	}

	var toDownload []manifest.Library
	for _, lib := range versionManifest.Libraries {
		entryPath := filepath.Join(ic.librariesDir, maven.ToPath(lib.Name))
		zipEntry := "maven/" + maven.ToPath(lib.Name)
		if ic.installerJar.Has(zipEntry) {
			if err := ic.installerJar.ExtractTo(zipEntry, entryPath); err != nil {
				return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "extracting embedded legacy library "+lib.Name, err)
			}
			continue
		}
		toDownload = append(toDownload, lib)
	}

	client := httpx.NewClient(true)
	packXZJavaHome := ""
	if ic.base.JavaPath != "" {
		packXZJavaHome = filepath.Dir(filepath.Dir(ic.base.JavaPath))
	}
	libComponents, err := library.DownloadConcurrent(ctx, client, ic.cache, installedID, ic.librariesDir, "", toDownload, ic.spec.Concurrency, reporter, 60, 25, packXZJavaHome)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "downloading legacy forge libraries", err)
	}

	merged := manifest.Merge(ic.base.Manifest, versionManifest)
	merged.ID = installedID
	merged.Validate()
	if err := merged.Save(ic.spec.DataDir, installedID); err != nil {
		return nil, err
	}
	ic.recordInstall(installedID, libComponents)

	reporter.Done(true, fmt.Sprintf("installed %s", installedID))
	return ic.result(merged, installedID), nil
}

// installBareVersion handles installer jars that ship a plain version.json
// with no install_profile.json wrapper (older NeoForge releases).
func (ic *installContext) installBareVersion(ctx context.Context, reporter progress.Reporter) (*installer.Result, error) {
	raw, err := ic.installerJar.Get("version.json")
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "reading bare version.json", err)
	}
	defer raw.Close()

	doc, err := gabs.ParseJSONBuffer(raw)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing bare version.json", err)
	}
	data, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	versionManifest, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}

	installedID := versionManifest.ID
	if installedID == "" {
		installedID = ic.spec.InstalledID()
	}

	client := httpx.NewClient(true)
	libComponents, err := library.DownloadConcurrent(ctx, client, ic.cache, installedID, ic.librariesDir, "", versionManifest.Libraries, ic.spec.Concurrency, reporter, 60, 30, "")
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindTransient, "downloading libraries", err)
	}

	merged := manifest.Merge(ic.base.Manifest, versionManifest)
	merged.ID = installedID
	merged.Validate()
	if err := merged.Save(ic.spec.DataDir, installedID); err != nil {
		return nil, err
	}
	ic.recordInstall(installedID, libComponents)
	reporter.Done(true, fmt.Sprintf("installed %s", installedID))
	return ic.result(merged, installedID), nil
}

func (ic *installContext) recordInstall(installedID string, components []cache.InstallComponent) {
	if ic.cache == nil {
		return
	}
	ic.cache.RecordInstall(installedID, "", components)
	ic.cache.Save()
}

func (ic *installContext) result(m *manifest.Manifest, installedID string) *installer.Result {
	return &installer.Result{
		Manifest:      m,
		ClientJarPath: ic.base.ClientJarPath,
		LibrariesDir:  ic.librariesDir,
		AssetsDir:     ic.base.AssetsDir,
		NativesDir:    ic.base.NativesDir,
		JavaPath:      ic.base.JavaPath,
	}
}

func (ic *installContext) loadVersionInfoJSON(profileDoc *gabs.Container) ([]byte, error) {
	if entry, _ := profileDoc.Path("json").Data().(string); entry != "" {
		r, err := ic.installerJar.Get(strings.TrimPrefix(entry, "/"))
		if err != nil {
			return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "reading bundled version json", err)
		}
		defer r.Close()
		doc, err := gabs.ParseJSONBuffer(r)
		if err != nil {
			return nil, err
		}
		return doc.MarshalJSON()
	}
	return nil, vestaerr.New(vestaerr.KindPrecondition, "install profile has no json pointer to version info")
}

// extractBundledLibraries copies every Maven-addressable jar bundled under
// maven/ in the installer archive into the libraries tree, per spec.md
// §4.9 step 3a.
func (ic *installContext) extractBundledLibraries(profileDoc *gabs.Container) error {
	for _, name := range ic.installerJar.Names() {
		if !strings.HasPrefix(name, "maven/") || strings.HasSuffix(name, "/") {
			continue
		}
		rel := strings.TrimPrefix(name, "maven/")
		dest := filepath.Join(ic.librariesDir, rel)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := ic.installerJar.ExtractTo(name, dest); err != nil {
			return vestaerr.Wrap(vestaerr.KindIntegrity, "extracting bundled library "+name, err)
		}
	}
	return nil
}

func pathChildren(doc *gabs.Container, path string) []*gabs.Container {
	children, _ := doc.Path(path).Children()
	return children
}

// resolveMinecraftVersion tolerates every "minecraft" field shape seen
// across Forge and NeoForge install profiles: a bare version string, an
// object keyed by mc_version, or an object keyed by artifact_version.
func resolveMinecraftVersion(profileDoc *gabs.Container) string {
	field := profileDoc.Path("minecraft")
	if v, ok := field.Data().(string); ok {
		return v
	}
	if v, ok := field.Path("mc_version").Data().(string); ok {
		return v
	}
	if v, ok := field.Path("artifact_version").Data().(string); ok {
		return v
	}
	return ""
}

// runProcessors implements spec.md §4.9's processor-execution sequence,
// grounded verbatim on the teacher's runForgeProcessors/parseProcessorArgs.
func (ic *installContext) runProcessors(profileDoc *gabs.Container, reporter progress.Reporter) error {
	processors := pathChildren(profileDoc, "processors")
	if len(processors) == 0 {
		return nil
	}

	data, err := ic.loadDataSection(profileDoc)
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "parsing install_profile.json data section", err)
	}
	data["MINECRAFT_JAR"] = ic.base.ClientJarPath
	data["SIDE"] = "client"
	data["ROOT"] = ic.spec.DataDir
	data["LIBRARY_DIR"] = ic.librariesDir
	if mcVersion := resolveMinecraftVersion(profileDoc); mcVersion != "" {
		data["MINECRAFT_VERSION"] = mcVersion
	}

	for _, p := range processors {
		sides, _ := p.Path("sides").Children()
		if !processorAppliesToClient(sides) {
			continue
		}

		processorCoord, _ := p.Path("jar").Data().(string)
		processorJar := ic.artifactPath(processorCoord)

		var classpath []string
		for _, item := range pathChildren(p, "classpath") {
			classpath = append(classpath, ic.artifactPath(item.Data().(string)))
		}
		classpath = append(classpath, processorJar)

		mainClass, err := getJavaMainClass(processorJar)
		if err != nil {
			return vestaerr.Wrap(vestaerr.KindProcessorFailure, fmt.Sprintf("reading main class of processor %s", processorCoord), err)
		}

		args := []string{"-cp", strings.Join(classpath, classpathSeparator()), mainClass}
		args = append(args, resolveProcessorArgs(p, ic, data)...)

		if reporter != nil {
			reporter.SetSubstep("processor: "+processorCoord, 0, 0)
		}
		if err := runProcessor(ic.base.JavaPath, processorCoord, args); err != nil {
			return err
		}
	}
	return nil
}

func processorAppliesToClient(sides []*gabs.Container) bool {
	if len(sides) == 0 {
		return true
	}
	for _, s := range sides {
		side, _ := s.Data().(string)
		if side == "client" || side == "extract" {
			return true
		}
	}
	return false
}

func (ic *installContext) loadDataSection(profileDoc *gabs.Container) (map[string]string, error) {
	entries, err := profileDoc.Path("data").ChildrenMap()
	if err != nil || len(entries) == 0 {
		return map[string]string{}, nil
	}

	if err := os.MkdirAll(ic.scratchDir, 0700); err != nil {
		return nil, err
	}

	result := make(map[string]string, len(entries))
	for key, v := range entries {
		value, _ := v.Path("client").Data().(string)
		if value == "" {
			continue
		}
		if strings.HasPrefix(value, "/") {
			extracted := filepath.Join(ic.scratchDir, filepath.Base(value))
			if err := ic.installerJar.ExtractTo(strings.TrimPrefix(value, "/"), extracted); err != nil {
				return nil, fmt.Errorf("extracting data entry %s: %w", key, err)
			}
			result[key] = extracted
		} else if strings.HasPrefix(value, "[") {
			result[key] = ic.artifactPath(strings.Trim(value, "[]"))
		} else {
			result[key] = value
		}
	}
	return result, nil
}

// resolveProcessorArgs substitutes `{VAR}` data references and `[maven:coords]`
// artifact references in a processor's argument list.
func resolveProcessorArgs(processor *gabs.Container, ic *installContext, data map[string]string) []string {
	var result []string
	for _, argItem := range pathChildren(processor, "args") {
		arg, _ := argItem.Data().(string)
		switch {
		case strings.HasPrefix(arg, "{") && strings.HasSuffix(arg, "}"):
			result = append(result, data[strings.Trim(arg, "{}")])
		case strings.HasPrefix(arg, "[") && strings.HasSuffix(arg, "]"):
			result = append(result, ic.artifactPath(strings.Trim(arg, "[]")))
		default:
			result = append(result, arg)
		}
	}
	return result
}

func classpathSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

func runProcessor(javaPath, name string, args []string) error {
	javaCmd := javaPath
	if javaCmd == "" {
		javaCmd = "java"
	}
	cmd := exec.Command(javaCmd, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindProcessorFailure, fmt.Sprintf("processor %s failed: %s", name, string(out)), err)
	}
	return nil
}

// getJavaMainClass reads META-INF/MANIFEST.MF's Main-Class attribute out of
// a jar, grounded verbatim on the teacher's util.go getJavaMainClass.
func getJavaMainClass(jarPath string) (string, error) {
	archive, err := ziputil.OpenFile(jarPath)
	if err != nil {
		return "", err
	}
	r, err := archive.Get("META-INF/MANIFEST.MF")
	if err != nil {
		return "", err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Main-Class:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Main-Class:")), nil
		}
	}
	return "", fmt.Errorf("main class not found in %s", jarPath)
}
