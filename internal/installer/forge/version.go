package forge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Jeffail/gabs"
	"github.com/Masterminds/semver/v3"

	"vesta/internal/download"
	"vesta/internal/httpx"
	"vesta/internal/maven"
)

// Flavor distinguishes Forge from NeoForge: same processor pipeline, but
// each publishes installers from its own Maven coordinate and version
// metadata source (spec.md §6).
type Flavor int

const (
	Forge Flavor = iota
	NeoForge
)

func (f Flavor) String() string {
	if f == NeoForge {
		return "neoforge"
	}
	return "forge"
}

func (f Flavor) metadataURL() string {
	if f == NeoForge {
		return "https://maven.neoforged.net/api/maven/versions/releases/net/neoforged/neoforge"
	}
	return "https://maven.minecraftforge.net/net/minecraftforge/forge/maven-metadata.xml"
}

func (f Flavor) groupArtifact() (group, artifact string) {
	if f == NeoForge {
		return "net/neoforged", "neoforge"
	}
	return "net/minecraftforge", "forge"
}

func (f Flavor) installerBase() string {
	if f == NeoForge {
		return "https://maven.neoforged.net/releases"
	}
	return "https://maven.minecraftforge.net"
}

// neoForgePrefix derives the NeoForge version-family prefix for a Minecraft
// version under NeoForge's dropped-leading-"1." versioning scheme, e.g.
// "1.20.4" -> "20.4.".
func neoForgePrefix(minecraftVersion string) string {
	return strings.TrimPrefix(minecraftVersion, "1.") + "."
}

// ResolveVersion determines the newest published loader version for
// minecraftVersion, querying each flavor's own metadata source: Forge's
// maven-metadata.xml, NeoForge's JSON releases endpoint with an XML
// maven-metadata.xml fallback, matching the fabric package's
// latestLoaderVersion pattern for a metadata shape Fabric doesn't use.
func ResolveVersion(client *http.Client, flavor Flavor, minecraftVersion string) (string, error) {
	versions, err := fetchVersions(client, flavor)
	if err != nil {
		return "", err
	}

	var candidates []string
	if flavor == NeoForge {
		prefix := neoForgePrefix(minecraftVersion)
		for _, v := range versions {
			if strings.HasPrefix(v, prefix) {
				candidates = append(candidates, v)
			}
		}
	} else {
		prefix := minecraftVersion + "-"
		for _, v := range versions {
			if strings.HasPrefix(v, prefix) {
				candidates = append(candidates, v)
			}
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no %s versions published for minecraft %s", flavor, minecraftVersion)
	}

	best := candidates[len(candidates)-1]
	var bestVer *semver.Version
	for _, v := range candidates {
		suffix := v
		if flavor != NeoForge {
			suffix = strings.TrimPrefix(v, minecraftVersion+"-")
		}
		if sv, err := semver.NewVersion(suffix); err == nil {
			if bestVer == nil || sv.GreaterThan(bestVer) {
				bestVer = sv
				best = v
			}
		}
	}
	return best, nil
}

func fetchVersions(client *http.Client, flavor Flavor) ([]string, error) {
	metaURL := flavor.metadataURL()
	if flavor == NeoForge {
		if versions, err := fetchNeoForgeJSON(client); err == nil {
			return versions, nil
		}
		metaURL = NeoForge.installerBase() + "/net/neoforged/neoforge/maven-metadata.xml"
	}
	resp, err := httpx.Get(client, metaURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("maven-metadata.xml query returned status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	meta, err := maven.ParseMetadata(data)
	if err != nil {
		return nil, err
	}
	return meta.Versioning.Versions, nil
}

// fetchNeoForgeJSON tries NeoForge's JSON releases endpoint first; callers
// fall back to the XML maven-metadata.xml on any error, per spec.md §6.
func fetchNeoForgeJSON(client *http.Client) ([]string, error) {
	resp, err := httpx.Get(client, NeoForge.metadataURL())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("neoforge releases query returned status %s", resp.Status)
	}
	doc, err := gabs.ParseJSONBuffer(resp.Body)
	if err != nil {
		return nil, err
	}
	children, err := doc.Path("versions").Children()
	if err != nil || len(children) == 0 {
		return nil, fmt.Errorf("no neoforge versions in releases response")
	}
	versions := make([]string, 0, len(children))
	for _, c := range children {
		if v, ok := c.Data().(string); ok {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("neoforge releases response had no string versions")
	}
	return versions, nil
}

// DownloadInstaller resolves (when loaderVersion is empty) and downloads the
// flavor's installer jar for minecraftVersion into destDir, returning the
// local path. This is what lets the CLI self-serve a Forge/NeoForge install
// the way it already does for Fabric/Quilt, instead of requiring the caller
// to hunt down an installer jar by hand.
func DownloadInstaller(ctx context.Context, client *http.Client, flavor Flavor, minecraftVersion, loaderVersion, destDir string) (string, error) {
	if loaderVersion == "" {
		var err error
		loaderVersion, err = ResolveVersion(client, flavor, minecraftVersion)
		if err != nil {
			return "", err
		}
	}
	group, artifact := flavor.groupArtifact()
	url := fmt.Sprintf("%s/%s/%s/%s/%s-%s-installer.jar", flavor.installerBase(), group, artifact, loaderVersion, artifact, loaderVersion)
	dest := filepath.Join(destDir, fmt.Sprintf("%s-%s-installer.jar", artifact, loaderVersion))
	if err := download.File(ctx, client, url, dest, "", nil); err != nil {
		return "", err
	}
	return dest, nil
}
