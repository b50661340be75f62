// Command vesta is the CLI entry point: install/launch/kill Minecraft
// instances and modpacks, driven by a command-dispatch table grounded on
// the teacher's main.go (its gCommands map of name -> {Fn, Desc, ArgsCount,
// Args} and usage()/command-not-found handling are
// reused verbatim in shape, generalized to this module's operations).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeonx/timeago"

	"vesta/internal/cache"
	"vesta/internal/env"
	"vesta/internal/httpx"
	"vesta/internal/installer"
	"vesta/internal/installer/fabric"
	"vesta/internal/installer/forge"
	"vesta/internal/logging"
	"vesta/internal/modpack"
	"vesta/internal/modpack/curseforge"
	"vesta/internal/process"
	"vesta/internal/progress"
)

var version = "dev"

var argDataDir string
var argGameDir string
var argVerbose bool
var argDryRun bool
var argConcurrency int
var argLoader string
var argLoaderVersion string
var argInstallerJar string
var argUser string
var argUUID string
var argToken string
var argUserType string

type cliCommand struct {
	Fn        func() error
	Desc      string
	ArgsCount int
	Args      string
}

var gCommands = map[string]cliCommand{
	"install": {
		Fn:        cmdInstall,
		Desc:      "Install a Minecraft version, optionally with a mod loader",
		ArgsCount: 1,
		Args:      "<minecraft-version>",
	},
	"launch": {
		Fn:        cmdLaunch,
		Desc:      "Launch a previously installed Minecraft version",
		ArgsCount: 1,
		Args:      "<minecraft-version>",
	},
	"kill": {
		Fn:        cmdKill,
		Desc:      "Kill a running launched instance by instance id",
		ArgsCount: 1,
		Args:      "<instance-id>",
	},
	"modpack.install": {
		Fn:        cmdModpackInstall,
		Desc:      "Install a Modrinth or CurseForge modpack archive",
		ArgsCount: 1,
		Args:      "<pack.zip>",
	},
	"cache.prune": {
		Fn:        cmdCachePrune,
		Desc:      "Remove unreferenced blobs from the local cache",
		ArgsCount: 0,
	},
	"info": {
		Fn:        cmdInfo,
		Desc:      "Show runtime and environment info",
		ArgsCount: 0,
	},
}

func console(f string, args ...interface{}) {
	fmt.Printf(f, args...)
}

func usage() {
	console("usage: vesta [<options>] <command> [<args>]\n")
	console("<options>\n")
	flag.PrintDefaults()
	console("\n<commands>\n")

	keys := make([]string, 0, len(gCommands))
	for k := range gCommands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range keys {
		console("  - %s %s: %s\n", name, gCommands[name].Args, gCommands[name].Desc)
	}
}

func cmdInstall() error {
	versionID := flag.Arg(1)
	c, err := cache.Open(argDataDir)
	if err != nil {
		return err
	}

	spec := installer.Spec{
		VersionID:        versionID,
		Modloader:        argLoader,
		ModloaderVersion: argLoaderVersion,
		DataDir:          argDataDir,
		GameDir:          argGameDir,
		DryRun:           argDryRun,
		Concurrency:      argConcurrency,
	}
	reporter := progress.NewConsole(argDryRun)
	ctx := context.Background()

	switch argLoader {
	case "", "vanilla":
		_, err = installer.InstallVanilla(ctx, c, spec, reporter)
	case "fabric":
		_, err = fabric.Install(ctx, c, fabric.Fabric, spec, argLoaderVersion, reporter)
	case "quilt":
		_, err = fabric.Install(ctx, c, fabric.Quilt, spec, argLoaderVersion, reporter)
	case "forge", "neoforge":
		jarPath := argInstallerJar
		if jarPath == "" {
			flavor := forge.Forge
			if argLoader == "neoforge" {
				flavor = forge.NeoForge
			}
			scratchDir := filepath.Join(argDataDir, "tmp", "installers")
			jarPath, err = forge.DownloadInstaller(ctx, httpx.NewClient(true), flavor, versionID, argLoaderVersion, scratchDir)
			if err != nil {
				return fmt.Errorf("resolving %s installer: %w", argLoader, err)
			}
		}
		_, err = forge.Install(ctx, c, spec, jarPath, reporter)
	default:
		return fmt.Errorf("unknown loader %q", argLoader)
	}
	return err
}

func cmdLaunch() error {
	versionID := flag.Arg(1)
	javaPath := env.FindSystemJava()

	spec := installer.LaunchSpec{
		Spec: installer.Spec{
			VersionID:        versionID,
			Modloader:        argLoader,
			ModloaderVersion: argLoaderVersion,
			DataDir:          argDataDir,
			GameDir:          argGameDir,
			JavaPath:         javaPath,
		},
		Username:    argUser,
		UUID:        argUUID,
		AccessToken: argToken,
		UserType:    argUserType,
	}

	inst, err := process.Launch(context.Background(), spec, versionID, func(line process.LogLine) {
		console("[%s] %s\n", line.Stream, line.Text)
	})
	if err != nil {
		return err
	}
	console("launched %s (pid %d)\n", inst.InstanceID, inst.PID)
	return nil
}

func cmdKill() error {
	instanceID := flag.Arg(1)
	inst, ok := process.Lookup(instanceID)
	if !ok {
		return fmt.Errorf("no running instance %q", instanceID)
	}
	result, err := process.Kill(inst)
	if err != nil {
		return err
	}
	console("%s\n", result)
	return nil
}

func cmdModpackInstall() error {
	path := flag.Arg(1)
	pack, err := modpack.Load(path)
	if err != nil {
		return err
	}

	console("%s (%s, %d mods, recommend %dMB RAM)\n", pack.Metadata.Name, pack.Metadata.MinecraftVersion, pack.Metadata.ModCount, pack.Metadata.RecommendedRAMMB)

	c, err := cache.Open(argDataDir)
	if err != nil {
		return err
	}

	spec := installer.Spec{
		DataDir:     argDataDir,
		GameDir:     argGameDir,
		DryRun:      argDryRun,
		Concurrency: argConcurrency,
	}

	if pack.Metadata.Loader == "forge" || pack.Metadata.Loader == "neoforge" {
		return fmt.Errorf("modpack.install does not install forge/neoforge modpacks (loader %s)", pack.Metadata.Loader)
	}

	var resolve modpack.ResolverFunc
	if pack.Format == modpack.CurseForge {
		resolve = curseforge.Resolver(httpx.NewClient(true))
	}

	_, err = modpack.Install(context.Background(), c, pack, spec, nil, resolve, progress.NewConsole(argDryRun))
	return err
}

func cmdCachePrune() error {
	c, err := cache.Open(argDataDir)
	if err != nil {
		return err
	}
	removed := c.PruneUnused()
	if err := c.Save(); err != nil {
		return err
	}
	console("removed %d unreferenced blobs\n", removed)
	return nil
}

func cmdInfo() error {
	console("Version: %s\n", version)
	console("Data dir: %s\n", argDataDir)
	console("Game dir: %s\n", argGameDir)
	console("System Java: %s\n", env.FindSystemJava())
	console("Cache: %s\n", cacheFreshness(argDataDir))
	return nil
}

// cacheFreshness reports how long ago the install cache's artifact index was
// last written, matching the teacher's "Database up-to-date as of ..." line
// in cmdDBUpdate.
func cacheFreshness(dataDir string) string {
	info, err := os.Stat(filepath.Join(dataDir, "cache", "artifacts.json"))
	if err != nil {
		return "never populated"
	}
	return fmt.Sprintf("last updated %s (%s)", timeago.English.Format(info.ModTime()), info.ModTime().Format("2006-01-02 15:04:05"))
}

func main() {
	flag.StringVar(&argDataDir, "data-dir", env.DefaultDataDir(), "Directory holding versions/libraries/assets/cache")
	flag.StringVar(&argGameDir, "game-dir", ".", "Per-instance working directory")
	flag.BoolVar(&argVerbose, "v", false, "Enable verbose logging")
	flag.BoolVar(&argDryRun, "n", false, "Print a dry-run banner; operations still write to disk")
	flag.IntVar(&argConcurrency, "concurrency", 8, "Maximum concurrent downloads")
	flag.StringVar(&argLoader, "loader", "", "Mod loader: fabric, quilt, forge, neoforge")
	flag.StringVar(&argLoaderVersion, "loader-version", "", "Mod loader version (empty picks latest where supported)")
	flag.StringVar(&argInstallerJar, "installer-jar", "", "Path to a downloaded Forge/NeoForge installer jar")
	flag.StringVar(&argUser, "user", "Player", "Username for launch")
	flag.StringVar(&argUUID, "uuid", strings.Repeat("0", 32), "Player UUID for launch")
	flag.StringVar(&argToken, "token", "-", "Access token for launch")
	flag.StringVar(&argUserType, "user-type", "legacy", "Auth user type for launch")

	flag.Parse()
	logging.SetVerbose(argVerbose)

	if !flag.Parsed() || flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	name := flag.Arg(0)
	cmd, exists := gCommands[name]
	if !exists {
		console("ERROR: unknown command %q\n", name)
		usage()
		os.Exit(1)
	}

	if flag.NArg() < cmd.ArgsCount+1 {
		console("ERROR: insufficient arguments for %s\n", name)
		console("usage: vesta %s %s\n", name, cmd.Args)
		os.Exit(1)
	}

	if argDryRun {
		console("--- DRY RUN ---\n")
	}

	if err := cmd.Fn(); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
