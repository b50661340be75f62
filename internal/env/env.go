// Package env resolves the platform-specific directories and Java runtime
// locations the installer and launcher need, the way the teacher's env.go
// resolves the Minecraft directory and JAVA_HOME.
package env

import (
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"vesta/internal/logging"
)

// DefaultDataDir returns the platform default root for vesta's managed
// Minecraft installs (versions/libraries/assets/cache), analogous to the
// teacher's _minecraftDir but rooted under a vesta-specific directory so it
// never collides with the vanilla launcher's own ~/.minecraft.
func DefaultDataDir() string {
	u, _ := user.Current()
	home := ""
	if u != nil {
		home = u.HomeDir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "vesta")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, ".vesta")
		}
		return filepath.Join(home, ".vesta")
	default:
		return filepath.Join(home, ".vesta")
	}
}

// ExecutableExt returns the platform executable suffix ("" or ".exe").
func ExecutableExt() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// JavaExecutableExists reports whether dir/bin/java[.exe] exists.
func JavaExecutableExists(dir string) bool {
	name := filepath.Join(dir, "bin", "java"+ExecutableExt())
	_, err := os.Stat(name)
	exists := err == nil
	logging.Verbose("javaExists: %s -> %t\n", name, exists)
	return exists
}

// FindSystemJava mirrors C10's detect_system_java: JAVA_HOME, then JRE_HOME,
// then `where`/`which java` on PATH.
func FindSystemJava() string {
	if dir := os.Getenv("JAVA_HOME"); dir != "" && JavaExecutableExists(dir) {
		return filepath.Join(dir, "bin", "java"+ExecutableExt())
	}
	if dir := os.Getenv("JRE_HOME"); dir != "" && JavaExecutableExists(dir) {
		return filepath.Join(dir, "bin", "java"+ExecutableExt())
	}

	var whichCmd *exec.Cmd
	if runtime.GOOS == "windows" {
		whichCmd = exec.Command("where", "java")
	} else {
		whichCmd = exec.Command("sh", "-c", "which java")
	}

	out, err := whichCmd.Output()
	if err != nil {
		logging.Verbose("%s failed: %+v\n", whichCmd.Args, err)
		return ""
	}

	javaPath := strings.TrimSpace(string(out))
	if firstLine := strings.SplitN(javaPath, "\n", 2)[0]; firstLine != "" {
		javaPath = strings.TrimSpace(firstLine)
	}
	if javaPath == "" {
		return ""
	}
	return javaPath
}

// EnsureDir creates dir (and parents) if missing, matching the teacher's
// liberal os.MkdirAll(..., 0700) usage.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
