// Package manifest models the Minecraft per-version manifest (C4) and
// evaluates installation/launch rules (C5). The shape is stable and
// documented by Mojang, so it is modeled with typed structs rather than
// gabs the way the teacher reserves gabs for looser documents (install
// profiles, CurseForge responses) and structs for fixed ones — grounded on
// the MJKWoolnough example repo's Rule/Library/Arguments types, generalized
// to the full merge semantics in spec.md §4.4.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"vesta/internal/logging"
	"vesta/internal/vestaerr"
)

// Download describes one downloadable artifact's known hash/size/url.
type Download struct {
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
	Path string `json:"path,omitempty"` // asset-index-relative path, for library natives
}

// OSConstraint is the os{} clause of a Rule.
type OSConstraint struct {
	Name        string `json:"name,omitempty"`
	VersionRgx  string `json:"version,omitempty"`
	Arch        string `json:"arch,omitempty"`
}

// Rule is one allow/disallow entry evaluated by the rule engine (C5).
type Rule struct {
	Action   string          `json:"action"` // "allow" | "disallow"
	OS       *OSConstraint   `json:"os,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
}

// Library is one manifest library entry.
type Library struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Rules   []Rule `json:"rules,omitempty"`
	Natives map[string]string `json:"natives,omitempty"` // os -> classifier template
	ExtractExclusions []string `json:"exclude,omitempty"`
	Downloads struct {
		Artifact    *LibraryDownload            `json:"artifact,omitempty"`
		Classifiers map[string]*LibraryDownload `json:"classifiers,omitempty"`
	} `json:"downloads,omitempty"`
}

// LibraryDownload is one concrete downloadable file for a library (the main
// artifact or one native classifier).
type LibraryDownload struct {
	Path string `json:"path"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// ArgValue holds either a single string or a list of strings, matching the
// Single(string)|Multiple(strings) variant from spec.md's Argument type.
type ArgValue struct {
	Single   string
	Multiple []string
}

func (v ArgValue) Strings() []string {
	if len(v.Multiple) > 0 {
		return v.Multiple
	}
	if v.Single != "" {
		return []string{v.Single}
	}
	return nil
}

func (v *ArgValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Single = s
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		v.Multiple = list
		return nil
	}
	return fmt.Errorf("argument value is neither a string nor a string list")
}

// Argument is a tagged variant: a bare string, or a conditional entry with
// rules gating an ArgValue.
type Argument struct {
	Simple      string
	Rules       []Rule
	Conditional *ArgValue
}

func (a Argument) IsConditional() bool { return a.Conditional != nil }

func (a *Argument) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Simple = s
		return nil
	}
	var obj struct {
		Rules []Rule   `json:"rules"`
		Value ArgValue `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("argument entry is neither a string nor a conditional object: %w", err)
	}
	a.Rules = obj.Rules
	a.Conditional = &obj.Value
	return nil
}

func (a Argument) MarshalJSON() ([]byte, error) {
	if a.Conditional == nil {
		return json.Marshal(a.Simple)
	}
	obj := struct {
		Rules []Rule   `json:"rules"`
		Value ArgValue `json:"value"`
	}{Rules: a.Rules, Value: *a.Conditional}
	return json.Marshal(obj)
}

func (v ArgValue) MarshalJSON() ([]byte, error) {
	if len(v.Multiple) > 0 {
		return json.Marshal(v.Multiple)
	}
	return json.Marshal(v.Single)
}

// Arguments is the modern {game:[], jvm:[]} argument container.
type Arguments struct {
	Game []Argument `json:"game,omitempty"`
	JVM  []Argument `json:"jvm,omitempty"`
}

// JavaVersion is the manifest's declared runtime requirement.
type JavaVersion struct {
	Component    string `json:"component"`
	MajorVersion int    `json:"majorVersion"`
}

// AssetIndexRef points at the asset index document for this version.
type AssetIndexRef struct {
	ID        string `json:"id"`
	SHA1      string `json:"sha1"`
	Size      int64  `json:"size"`
	TotalSize int64  `json:"totalSize"`
	URL       string `json:"url"`
}

// Manifest is the merged per-version form from spec.md's DATA MODEL.
type Manifest struct {
	ID                    string         `json:"id"`
	MainClass             string         `json:"mainClass"`
	InheritsFrom          string         `json:"inheritsFrom,omitempty"`
	Arguments             *Arguments     `json:"arguments,omitempty"`
	LegacyArgumentsString string         `json:"minecraftArguments,omitempty"`
	Downloads             map[string]Download `json:"downloads,omitempty"`
	Libraries             []Library      `json:"libraries,omitempty"`
	AssetIndex            *AssetIndexRef `json:"assetIndex,omitempty"`
	Assets                string         `json:"assets,omitempty"`
	JavaVersion           *JavaVersion   `json:"javaVersion,omitempty"`
	Type                  string         `json:"type,omitempty"`
	ReleaseTime           string         `json:"releaseTime,omitempty"`
	Time                  string         `json:"time,omitempty"`
}

const defaultMainClass = "net.minecraft.client.Minecraft"
const launchWrapperMain = "net.minecraft.launchwrapper.Launch"

// Parse deserializes a version JSON document. Unknown fields are tolerated
// by encoding/json's default behavior (no DisallowUnknownFields).
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, "parsing version manifest", err)
	}
	return &m, nil
}

// Load reads and parses <dataDir>/versions/<versionID>/<versionID>.json.
func Load(dataDir, versionID string) (*Manifest, error) {
	path := filepath.Join(dataDir, "versions", versionID, versionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindIntegrity, fmt.Sprintf("reading manifest %s", path), err)
	}
	return Parse(data)
}

// Resolve loads versionID's manifest and recursively merges it over its
// inherits_from chain, per spec.md §4.4's "Resolve chain".
func Resolve(dataDir, versionID string) (*Manifest, error) {
	return resolveChain(dataDir, versionID, map[string]bool{})
}

// resolveChain threads a visited set through the inheritsFrom recursion so a
// cyclic chain fails with KindIntegrity instead of recursing forever.
func resolveChain(dataDir, versionID string, visited map[string]bool) (*Manifest, error) {
	if visited[versionID] {
		return nil, vestaerr.New(vestaerr.KindIntegrity, fmt.Sprintf("inheritsFrom cycle detected at %s", versionID))
	}
	visited[versionID] = true

	m, err := Load(dataDir, versionID)
	if err != nil {
		return nil, err
	}
	if m.InheritsFrom == "" {
		tokenizeLegacyArguments(m)
		return m, nil
	}
	parent, err := resolveChain(dataDir, m.InheritsFrom, visited)
	if err != nil {
		return nil, fmt.Errorf("resolving parent %s of %s: %w", m.InheritsFrom, versionID, err)
	}
	return Merge(parent, m), nil
}

// tokenizeLegacyArguments prepends a pre-modern minecraftArguments string
// (whitespace-split honoring quotes) into arguments.game, so legacy and
// modern manifests present a uniform Arguments.Game list to C11.
func tokenizeLegacyArguments(m *Manifest) {
	if m.LegacyArgumentsString == "" {
		return
	}
	tokens := tokenizeQuoted(m.LegacyArgumentsString)
	args := make([]Argument, 0, len(tokens))
	for _, t := range tokens {
		args = append(args, Argument{Simple: t})
	}
	if m.Arguments == nil {
		m.Arguments = &Arguments{}
	}
	m.Arguments.Game = append(args, m.Arguments.Game...)
}

func tokenizeQuoted(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// Merge combines child C over parent P per spec.md §4.4's merge rules,
// returning the merged manifest P'.
func Merge(parent, child *Manifest) *Manifest {
	tokenizeLegacyArguments(parent)
	tokenizeLegacyArguments(child)

	merged := &Manifest{ID: child.ID}

	merged.MainClass = child.MainClass
	if child.MainClass == launchWrapperMain && parent.MainClass != "" && parent.MainClass != launchWrapperMain {
		merged.MainClass = parent.MainClass
	}
	if merged.MainClass == "" {
		merged.MainClass = defaultMainClass
	}

	merged.Arguments = &Arguments{}
	if child.Arguments != nil {
		merged.Arguments.Game = append(merged.Arguments.Game, child.Arguments.Game...)
		merged.Arguments.JVM = append(merged.Arguments.JVM, child.Arguments.JVM...)
	}
	if parent.Arguments != nil {
		merged.Arguments.Game = append(merged.Arguments.Game, parent.Arguments.Game...)
		merged.Arguments.JVM = append(merged.Arguments.JVM, parent.Arguments.JVM...)
	}

	merged.Libraries = append(merged.Libraries, parent.Libraries...)
	merged.Libraries = append(merged.Libraries, child.Libraries...)

	merged.AssetIndex = parent.AssetIndex
	if child.AssetIndex != nil {
		merged.AssetIndex = child.AssetIndex
	}
	merged.Assets = parent.Assets
	if child.Assets != "" {
		merged.Assets = child.Assets
	}
	merged.JavaVersion = parent.JavaVersion
	if child.JavaVersion != nil {
		merged.JavaVersion = child.JavaVersion
	}
	merged.Type = parent.Type
	if child.Type != "" {
		merged.Type = child.Type
	}

	merged.Downloads = parent.Downloads
	if child.Downloads != nil {
		merged.Downloads = child.Downloads
	}
	merged.ReleaseTime = child.ReleaseTime
	merged.Time = child.Time

	return merged
}

var legacyCutoff = time.Date(2013, time.July, 1, 0, 0, 0, 0, time.UTC)

// IsLegacy implements spec.md §4.4's legacy-detection predicate.
func (m *Manifest) IsLegacy() bool {
	if m.AssetIndex != nil && (m.AssetIndex.ID == "pre-1.6" || m.AssetIndex.ID == "legacy") {
		return true
	}
	if m.Assets == "pre-1.6" || m.Assets == "legacy" {
		return true
	}
	if t, err := time.Parse(time.RFC3339, m.ReleaseTime); err == nil && t.Before(legacyCutoff) {
		return true
	}
	if m.MainClass == launchWrapperMain && !m.hasTweakClass() {
		return true
	}
	return false
}

func (m *Manifest) hasTweakClass() bool {
	if m.Arguments == nil {
		return false
	}
	for _, a := range m.Arguments.Game {
		if a.Simple == "--tweakClass" {
			return true
		}
	}
	return false
}

// NormalizeLegacy forces the effective main class back to vanilla for
// legacy versions, per spec.md §4.4.
func (m *Manifest) NormalizeLegacy() {
	if m.IsLegacy() {
		m.MainClass = defaultMainClass
	}
}

// Validate emits non-fatal warnings for common manifest defects, matching
// spec.md §4.4's "Validation emits warnings (non-fatal)".
func (m *Manifest) Validate() {
	if m.MainClass == "" {
		logging.Verbose("manifest %s: missing main class\n", m.ID)
	}
	if m.MainClass == launchWrapperMain && !m.hasTweakClass() {
		logging.Verbose("manifest %s: LaunchWrapper main without --tweakClass\n", m.ID)
	}
	if m.AssetIndex == nil && m.Assets == "" {
		logging.Verbose("manifest %s: no asset info\n", m.ID)
	}
	if len(m.Libraries) == 0 {
		logging.Verbose("manifest %s: empty libraries list\n", m.ID)
	}
	if m.Arguments == nil || len(m.Arguments.Game) == 0 {
		logging.Verbose("manifest %s: no game arguments\n", m.ID)
	}
}

// Save writes the manifest as the installed-version JSON document at
// <dataDir>/versions/<versionID>/<versionID>.json.
func (m *Manifest) Save(dataDir, versionID string) error {
	dir := filepath.Join(dataDir, "versions", versionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "creating version directory", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "encoding manifest", err)
	}
	path := filepath.Join(dir, versionID+".json")
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return vestaerr.Wrap(vestaerr.KindIntegrity, "writing manifest", err)
	}
	return os.Rename(tmp, path)
}

// --- Rule Engine (C5) ---

// Features describes the dynamic flags a rule may test.
type Features struct {
	IsDemoUser          bool
	HasCustomResolution bool
}

// DeriveFeatures computes the feature set from launch identity fields per
// spec.md §4.5 ("is_demo_user" / "has_custom_resolution").
func DeriveFeatures(username, uuid, accessToken string, width, height int) Features {
	allZero := uuid != "" && strings.Trim(uuid, "0-") == ""
	return Features{
		IsDemoUser:          username == "Player" || uuid == "" || allZero || accessToken == "0",
		HasCustomResolution: width > 0 && height > 0,
	}
}

func currentOSName() string {
	switch runtime.GOOS {
	case "darwin":
		return "osx"
	case "windows":
		return "windows"
	default:
		return "linux"
	}
}

func currentArch() string {
	if runtime.GOARCH == "386" {
		return "x86"
	}
	return "x86_64"
}

// Allow evaluates rules per spec.md §4.5: start allow=false; for each rule
// whose constraints all match, set allow := (action == allow); unknown
// features fail the rule (don't match).
func Allow(rules []Rule, osVersion string, features Features) bool {
	if len(rules) == 0 {
		return true
	}
	allow := false
	for _, r := range rules {
		if !ruleMatches(r, osVersion, features) {
			continue
		}
		allow = r.Action == "allow"
	}
	return allow
}

func ruleMatches(r Rule, osVersion string, features Features) bool {
	if r.OS != nil {
		if r.OS.Name != "" && r.OS.Name != currentOSName() {
			return false
		}
		if r.OS.Arch != "" && r.OS.Arch != currentArch() {
			return false
		}
		if r.OS.VersionRgx != "" {
			re, err := regexp.Compile(r.OS.VersionRgx)
			if err != nil || !re.MatchString(osVersion) {
				return false
			}
		}
	}
	for name, want := range r.Features {
		var have bool
		switch name {
		case "is_demo_user":
			have = features.IsDemoUser
		case "has_custom_resolution":
			have = features.HasCustomResolution
		default:
			return false
		}
		if have != want {
			return false
		}
	}
	return true
}
