// Package launch builds the classpath (C12) and JVM/game argument lists
// (C11) for spawning the Minecraft client, grounded on the teacher's
// flattened flag-building in main.go generalized to the rule-aware,
// variable-substituting builder described in spec.md §4.11/§4.12.
package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"vesta/internal/manifest"
	"vesta/internal/maven"
	"vesta/internal/vestaerr"
)

// Variables holds every substitution value spec.md §4.11 lists.
type Variables struct {
	AuthPlayerName  string
	AuthUUID        string
	AuthAccessToken string
	UserType        string
	VersionName     string
	VersionType     string
	GameDirectory   string
	AssetsRoot      string
	LibraryDir      string
	NativesDir      string
	AssetsIndexName string
	ResolutionWidth  int
	ResolutionHeight int
	ClientID        string
	Classpath       string
}

func classpathSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

func (v Variables) lookup(name string) (string, bool) {
	switch name {
	case "auth_player_name", "player_name":
		return v.AuthPlayerName, v.AuthPlayerName != ""
	case "auth_uuid", "uuid":
		return v.AuthUUID, v.AuthUUID != ""
	case "auth_access_token", "accessToken":
		return v.AuthAccessToken, v.AuthAccessToken != ""
	case "auth_session":
		return v.AuthAccessToken, v.AuthAccessToken != ""
	case "user_type":
		return v.UserType, v.UserType != ""
	case "version_name":
		return v.VersionName, v.VersionName != ""
	case "version_type":
		return v.VersionType, v.VersionType != ""
	case "game_directory":
		return v.GameDirectory, v.GameDirectory != ""
	case "assets_root", "game_assets":
		return v.AssetsRoot, v.AssetsRoot != ""
	case "library_directory":
		return v.LibraryDir, v.LibraryDir != ""
	case "natives_directory":
		return v.NativesDir, v.NativesDir != ""
	case "assets_index_name":
		return v.AssetsIndexName, v.AssetsIndexName != ""
	case "resolution_width":
		if v.ResolutionWidth > 0 {
			return fmt.Sprintf("%d", v.ResolutionWidth), true
		}
		return "", false
	case "resolution_height":
		if v.ResolutionHeight > 0 {
			return fmt.Sprintf("%d", v.ResolutionHeight), true
		}
		return "", false
	case "user_properties":
		return "{}", true
	case "clientid":
		return v.ClientID, v.ClientID != ""
	case "classpath":
		return v.Classpath, v.Classpath != ""
	case "classpath_separator":
		return classpathSeparator(), true
	default:
		return "", false
	}
}

// substitute replaces every ${name} in s. ok is false if any placeholder
// resolved to missing/empty.
func substitute(s string, v Variables) (string, bool) {
	ok := true
	result := replacePlaceholders(s, func(name string) string {
		val, present := v.lookup(name)
		if !present {
			ok = false
		}
		return val
	})
	return result, ok
}

func replacePlaceholders(s string, resolve func(string) string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s[start:])
			break
		}
		end += start
		name := s[start+2 : end]
		b.WriteString(resolve(name))
		i = end + 1
	}
	return b.String()
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

// BuildGameArgs processes manifest.Arguments.Game per spec.md §4.11: simple
// entries are substituted then whitespace-tokenized (honoring quotes) and
// dropped if any placeholder resolves empty; conditional entries are
// included only when their rules allow, and dropped wholesale if any
// sub-element resolves empty.
func BuildGameArgs(args []manifest.Argument, vars Variables, osVersion string, features manifest.Features) []string {
	var out []string
	for _, a := range args {
		if a.IsConditional() {
			if !manifest.Allow(a.Rules, osVersion, features) {
				continue
			}
			values, ok := substituteAll(a.Conditional.Strings(), vars)
			if !ok {
				continue
			}
			out = append(out, values...)
			continue
		}
		resolved, ok := substitute(a.Simple, vars)
		if !ok {
			continue
		}
		out = append(out, tokenizeQuoted(resolved)...)
	}
	return out
}

// BuildJVMArgs processes manifest.Arguments.JVM the same way but without
// whitespace tokenization, preserving composite flags.
func BuildJVMArgs(args []manifest.Argument, vars Variables, osVersion string, features manifest.Features) []string {
	var out []string
	for _, a := range args {
		if a.IsConditional() {
			if !manifest.Allow(a.Rules, osVersion, features) {
				continue
			}
			values, ok := substituteAll(a.Conditional.Strings(), vars)
			if !ok {
				continue
			}
			out = append(out, values...)
			continue
		}
		resolved, ok := substitute(a.Simple, vars)
		if !ok {
			continue
		}
		out = append(out, resolved)
	}
	return out
}

func substituteAll(values []string, vars Variables) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		resolved, ok := substitute(v, vars)
		if !ok {
			return nil, false
		}
		out = append(out, resolved)
	}
	return out, true
}

var defaultJVMArgs = []string{
	"-Xms2G", "-Xmx4G", "-XX:+UseG1GC", "-XX:+UnlockExperimentalVMOptions",
	"-XX:G1NewSizePercent=20", "-XX:G1ReservePercent=20",
	"-XX:MaxGCPauseMillis=50", "-XX:G1HeapRegionSize=32M",
}

const launcherBrand = "vesta"
const launcherVersion = "1.0"

func containsFlagPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

// FullArgs assembles the complete `<jvm args> <main class> <game args>`
// list, applying the legacy -cp fallback and default-injection rules from
// spec.md §4.11.
func FullArgs(m *manifest.Manifest, vars Variables, osVersion string, features manifest.Features, overrideJVM, overrideGame []string) []string {
	var jvmArgs []string
	if len(overrideJVM) > 0 {
		jvmArgs = overrideJVM
	} else if m.Arguments != nil && len(m.Arguments.JVM) > 0 {
		jvmArgs = BuildJVMArgs(m.Arguments.JVM, vars, osVersion, features)
	} else {
		jvmArgs = append([]string{}, defaultJVMArgs...)
	}

	if (m.Arguments == nil || len(m.Arguments.JVM) == 0) && !containsFlagPrefix(jvmArgs, "-cp") {
		jvmArgs = append(jvmArgs, "-cp", vars.Classpath)
	}
	if !containsFlagPrefix(jvmArgs, "-Djava.library.path=") {
		jvmArgs = append(jvmArgs, "-Djava.library.path="+vars.NativesDir)
	}
	if !containsFlagPrefix(jvmArgs, "-Dminecraft.launcher.brand=") {
		jvmArgs = append(jvmArgs, "-Dminecraft.launcher.brand="+launcherBrand)
	}
	if !containsFlagPrefix(jvmArgs, "-Dminecraft.launcher.version=") {
		jvmArgs = append(jvmArgs, "-Dminecraft.launcher.version="+launcherVersion)
	}

	var gameArgs []string
	if len(overrideGame) > 0 {
		gameArgs = overrideGame
	} else if m.Arguments != nil {
		gameArgs = BuildGameArgs(m.Arguments.Game, vars, osVersion, features)
	}

	full := make([]string, 0, len(jvmArgs)+1+len(gameArgs))
	full = append(full, jvmArgs...)
	full = append(full, m.MainClass)
	full = append(full, gameArgs...)
	return full
}

var legacyExcludedSubstrings = []string{"launchwrapper", "jopt-simple", "asm-all"}

// BuildClasspath filters libraries per C5, excludes legacy-incompatible
// retrofitted libraries for legacy versions, and emits a platform-separated
// classpath with the client jar appended last, per spec.md §4.12.
func BuildClasspath(m *manifest.Manifest, librariesDir, clientJarPath string, osVersion string, features manifest.Features) (string, error) {
	var paths []string
	isLegacy := m.IsLegacy()

	for _, lib := range m.Libraries {
		if !manifest.Allow(lib.Rules, osVersion, features) {
			continue
		}
		if isLegacy {
			lower := strings.ToLower(lib.Name)
			excluded := false
			for _, substr := range legacyExcludedSubstrings {
				if strings.Contains(lower, substr) {
					excluded = true
					break
				}
			}
			if excluded {
				continue
			}
		}

		relPath := ""
		if lib.Downloads.Artifact != nil && lib.Downloads.Artifact.Path != "" {
			relPath = lib.Downloads.Artifact.Path
		} else {
			coord, err := maven.Parse(lib.Name)
			if err != nil {
				return "", vestaerr.New(vestaerr.KindIntegrity, fmt.Sprintf("malformed library name %s", lib.Name))
			}
			relPath = coord.Path()
		}

		full := filepath.Join(librariesDir, relPath)
		if _, err := os.Stat(full); err != nil {
			return "", vestaerr.Wrap(vestaerr.KindPrecondition, fmt.Sprintf("missing required library %s", lib.Name), err)
		}
		paths = append(paths, full)
	}

	paths = append(paths, clientJarPath)
	return strings.Join(paths, classpathSeparator()), nil
}
