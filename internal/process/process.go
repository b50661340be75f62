// Package process spawns the detached Java game process, streams its logs,
// and tracks running instances for the kill protocol (C13). The teacher
// never spawns the game itself (it only shells out to short-lived helper
// tools like unpack200/processors), so the detach/stream/kill machinery here
// is grounded on spec.md §4.13/§9's platform-branch design note rather than
// a direct teacher analogue; the spawn uses exec.Command with stdout/stderr
// pipes so each line can be streamed as it is written.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"vesta/internal/installer"
	"vesta/internal/launch"
	"vesta/internal/logging"
	"vesta/internal/manifest"
	"vesta/internal/natives"
	"vesta/internal/vestaerr"
)

// Instance is the record emitted on successful launch, per spec.md §6.
type Instance struct {
	InstanceID string    `json:"instance_id"`
	VersionID  string    `json:"version_id"`
	Modloader  string    `json:"modloader,omitempty"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	LogFile    string    `json:"log_file"`
	GameDir    string    `json:"game_dir"`

	cmd      *exec.Cmd
	waitDone chan struct{} // closed once cmd.Wait() returns; Wait must only be called once
}

// LogLine is delivered to the caller's callback for every line of
// stdout/stderr the child process writes.
type LogLine struct {
	Stream string // "stdout" | "stderr"
	Text   string
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Instance{}
)

func register(inst *Instance) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[inst.InstanceID] = inst
}

func unregister(id string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

// Lookup finds a registered running instance by id.
func Lookup(id string) (*Instance, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	inst, ok := registry[id]
	return inst, ok
}

// Launch implements C13's pipeline: resolve manifest, verify Java, extract
// natives, build classpath+args, prepare the working directory, spawn
// detached, and register the instance.
func Launch(ctx context.Context, spec installer.LaunchSpec, instanceID string, onLog func(LogLine)) (*Instance, error) {
	installedID := spec.InstalledID()
	m, err := manifest.Resolve(spec.DataDir, installedID)
	if err != nil {
		m, err = manifest.Resolve(spec.DataDir, spec.VersionID)
		if err != nil {
			return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "resolving launch manifest", err)
		}
		installedID = spec.VersionID
	}
	m.NormalizeLegacy()

	javaPath := spec.JavaPath
	if javaPath == "" {
		return nil, vestaerr.New(vestaerr.KindLaunchPrecondition, "no java executable configured")
	}
	if err := verifyJava(javaPath); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "java executable does not run", err)
	}

	nativesDir := natives.DirFor(spec.DataDir, installedID)
	for _, lib := range m.Libraries {
		classifier, ok := natives.SelectClassifier(lib, natives.Arch(runtime.GOARCH))
		cd := lib.Downloads.Classifiers[classifier]
		if !ok || cd == nil {
			continue
		}
		jarPath := filepath.Join(spec.DataDir, "libraries", cd.Path)
		if _, err := os.Stat(jarPath); err != nil {
			continue
		}
		if err := natives.Extract(jarPath, nativesDir, lib.ExtractExclusions); err != nil {
			return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "extracting natives", err)
		}
	}
	declaredNatives := manifestDeclaresNatives(m)
	if declaredNatives {
		if err := verifyNativesPresent(nativesDir); err != nil {
			return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "native libraries missing for current platform", err)
		}
	}

	clientJar := filepath.Join(spec.DataDir, "versions", installedID, installedID+".jar")
	if _, err := os.Stat(clientJar); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "missing game jar", err)
	}

	librariesDir := filepath.Join(spec.DataDir, "libraries")
	classpath, err := launch.BuildClasspath(m, librariesDir, clientJar, runtime.GOOS, manifest.Features{})
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "building classpath", err)
	}

	features := manifest.DeriveFeatures(spec.Username, spec.UUID, spec.AccessToken, spec.WindowWidth, spec.WindowHeight)
	vars := launch.Variables{
		AuthPlayerName:   spec.Username,
		AuthUUID:         spec.UUID,
		AuthAccessToken:  spec.AccessToken,
		UserType:         spec.UserType,
		VersionName:      installedID,
		VersionType:      m.Type,
		GameDirectory:    spec.GameDir,
		AssetsRoot:       filepath.Join(spec.DataDir, "assets"),
		LibraryDir:       librariesDir,
		NativesDir:       nativesDir,
		AssetsIndexName:  assetsIndexName(m),
		ResolutionWidth:  spec.WindowWidth,
		ResolutionHeight: spec.WindowHeight,
		ClientID:         spec.ClientID,
		Classpath:        classpath,
	}

	args := launch.FullArgs(m, vars, runtime.GOOS, features, spec.JVMArgsOverride, spec.GameArgsOverride)

	if err := os.MkdirAll(spec.GameDir, 0700); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "preparing game directory", err)
	}
	if info, err := os.Stat(spec.GameDir); err != nil || !info.IsDir() {
		return nil, vestaerr.New(vestaerr.KindLaunchPrecondition, "game directory exists and is not a directory")
	}
	if err := os.MkdirAll(filepath.Join(spec.GameDir, ".vesta"), 0700); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "preparing .vesta directory", err)
	}

	logFile := spec.LogFile
	if logFile == "" {
		logFile = filepath.Join(spec.GameDir, "logs", "latest.log")
	}
	os.MkdirAll(filepath.Dir(logFile), 0700)

	var cmdArgs []string
	if spec.ExitHandlerJar != "" {
		exitFile := filepath.Join(spec.GameDir, ".vesta", "exit_status.json")
		cmdArgs = append(cmdArgs, "-jar", spec.ExitHandlerJar,
			"--instance-id", instanceID,
			"--exit-file", exitFile,
			"--log-file", logFile,
			"--")
		cmdArgs = append(cmdArgs, javaPath)
		cmdArgs = append(cmdArgs, args...)
	} else {
		cmdArgs = args
	}

	execPath := javaPath
	if spec.ExitHandlerJar != "" {
		execPath = javaPath
	}

	cmd := exec.Command(execPath, cmdArgs...)
	cmd.Dir = spec.GameDir
	configureDetached(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "opening stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "opening stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, vestaerr.Wrap(vestaerr.KindLaunchPrecondition, "spawning java process", err)
	}

	inst := &Instance{
		InstanceID: instanceID,
		VersionID:  spec.VersionID,
		Modloader:  spec.Modloader,
		PID:        cmd.Process.Pid,
		StartedAt:  time.Now(),
		LogFile:    logFile,
		GameDir:    spec.GameDir,
		cmd:        cmd,
		waitDone:   make(chan struct{}),
	}
	register(inst)

	var logOut io.Writer = io.Discard
	if spec.ExitHandlerJar == "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			logOut = f
		}
	}

	streamOutput("stdout", stdout, logOut, onLog)
	streamOutput("stderr", stderr, logOut, onLog)

	go func() {
		cmd.Wait()
		close(inst.waitDone)
		unregister(instanceID)
	}()

	return inst, nil
}

func streamOutput(stream string, r io.Reader, logOut io.Writer, onLog func(LogLine)) {
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintln(logOut, line)
			if onLog != nil {
				onLog(LogLine{Stream: stream, Text: line})
			}
		}
	}()
}

func verifyJava(javaPath string) error {
	cmd := exec.Command(javaPath, "-version")
	if err := cmd.Run(); err != nil {
		return err
	}
	return nil
}

func manifestDeclaresNatives(m *manifest.Manifest) bool {
	for _, lib := range m.Libraries {
		if _, ok := natives.SelectClassifier(lib, natives.Arch(runtime.GOARCH)); ok {
			return true
		}
	}
	return false
}

func verifyNativesPresent(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if ext == ".dll" || ext == ".so" || ext == ".dylib" {
			return nil
		}
	}
	return fmt.Errorf("no platform-native files found in %s", dir)
}

func assetsIndexName(m *manifest.Manifest) string {
	if m.AssetIndex != nil {
		return m.AssetIndex.ID
	}
	return m.Assets
}

// ExitStatus mirrors the .vesta/exit_status.json document an exit-handler
// jar writes on termination.
type ExitStatus struct {
	InstanceID string `json:"instance_id"`
	ExitCode   int    `json:"exit_code"`
	Signal     string `json:"signal,omitempty"`
}

// ReadExitStatus reads a previously written exit_status.json.
func ReadExitStatus(gameDir string) (*ExitStatus, error) {
	data, err := os.ReadFile(filepath.Join(gameDir, ".vesta", "exit_status.json"))
	if err != nil {
		return nil, err
	}
	var status ExitStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Kill implements spec.md §4.13's kill protocol: detect stall, force-kill if
// stalled, otherwise send a graceful signal and escalate after 5s.
func Kill(inst *Instance) (string, error) {
	if inst.cmd == nil || inst.cmd.Process == nil {
		return "", vestaerr.New(vestaerr.KindPrecondition, "instance has no process handle")
	}

	if isStalled(inst.PID) {
		if err := forceKill(inst); err != nil {
			return "", err
		}
		return "Process stalled - killed via force kill", nil
	}

	if err := gracefulSignal(inst); err != nil {
		logging.Verbose("graceful signal failed for pid %d: %v\n", inst.PID, err)
	}

	select {
	case <-inst.waitDone:
		return "Gracefully closed with SIGTERM", nil
	case <-time.After(5 * time.Second):
		if err := forceKill(inst); err != nil {
			return "", err
		}
		return "Graceful close failed - killed with force kill", nil
	}
}
