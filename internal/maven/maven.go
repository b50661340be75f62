// Package maven parses Maven-style coordinates used throughout Minecraft
// manifests (group:artifact:version[:classifier][@extension]) and turns
// them into repository-relative paths, grounded on the teacher's maven.go
// and maven_file.go (MavenModule/artifactToPath).
package maven

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

// Coord is a parsed Maven coordinate.
type Coord struct {
	Group      string
	Artifact   string
	Version    string
	Classifier string // suffix, e.g. "natives-windows"
	Extension  string // defaults to "jar"
}

// Parse splits "group:artifact:version[:classifier][@ext]" into a Coord.
func Parse(name string) (Coord, error) {
	parts := strings.SplitN(name, ":", 3)
	if len(parts) < 2 {
		return Coord{}, fmt.Errorf("invalid maven coordinate %q: requires at least group and artifact", name)
	}

	c := Coord{Group: parts[0], Artifact: parts[1], Extension: "jar"}
	if len(parts) > 2 {
		c.Version = parts[2]
	}

	if strings.Contains(c.Version, "@") {
		vp := strings.SplitN(c.Version, "@", 2)
		c.Version = vp[0]
		c.Extension = vp[1]
	}
	if strings.Contains(c.Version, ":") {
		vp := strings.SplitN(c.Version, ":", 2)
		c.Version = vp[0]
		c.Classifier = vp[1]
	}
	return c, nil
}

// String reassembles the canonical coordinate string.
func (c Coord) String() string {
	base := fmt.Sprintf("%s:%s:%s", c.Group, c.Artifact, c.Version)
	if c.Classifier != "" {
		base += ":" + c.Classifier
	}
	if c.Extension != "" && c.Extension != "jar" {
		base += "@" + c.Extension
	}
	return base
}

// GroupArtifact returns the "group:artifact" key used to deduplicate
// libraries across vanilla/loader manifests (spec.md §4.9: "deduplicated by
// group:artifact[:classifier]").
func (c Coord) GroupArtifact() string {
	if c.Classifier != "" {
		return c.Group + ":" + c.Artifact + ":" + c.Classifier
	}
	return c.Group + ":" + c.Artifact
}

// Filename returns "artifact-version[-classifier].ext".
func (c Coord) Filename() string {
	if c.Classifier != "" {
		return fmt.Sprintf("%s-%s-%s.%s", c.Artifact, c.Version, c.Classifier, c.Extension)
	}
	return fmt.Sprintf("%s-%s.%s", c.Artifact, c.Version, c.Extension)
}

// Path returns the repository-relative path:
// group/as/path/artifact/version/artifact-version[-classifier].ext
func (c Coord) Path() string {
	if c.Version == "" {
		return ""
	}
	groupPath := path.Join(strings.Split(c.Group, ".")...)
	return path.Join(groupPath, c.Artifact, c.Version, c.Filename())
}

// URL joins a repository base URL with the coordinate's repository path.
func (c Coord) URL(repoBase string) string {
	return strings.TrimRight(repoBase, "/") + "/" + c.Path()
}

// ToPath is a convenience wrapper matching the teacher's free function
// artifactToPath(name string) string, tolerant of malformed input (returns
// the input unchanged rather than erroring, as the teacher does).
func ToPath(name string) string {
	c, err := Parse(name)
	if err != nil {
		return name
	}
	return c.Path()
}

// Metadata mirrors a Maven repository's maven-metadata.xml, used for the
// Forge/NeoForge version list when resolving a loader version.
type Metadata struct {
	XMLName    xml.Name `xml:"metadata"`
	GroupID    string   `xml:"groupId"`
	ArtifactID string   `xml:"artifactId"`
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

// ParseMetadata unmarshals a maven-metadata.xml document.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := xml.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse maven-metadata.xml: %w", err)
	}
	return m, nil
}
