//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

// configureDetached starts the child in its own session so it survives the
// launcher exiting, per spec.md §4.13's Unix branch.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func gracefulSignal(inst *Instance) error {
	return inst.cmd.Process.Signal(syscall.SIGTERM)
}

func forceKill(inst *Instance) error {
	return inst.cmd.Process.Signal(syscall.SIGKILL)
}

// isStalled samples /proc CPU ticks twice 1s apart; a process that accrues no
// CPU ticks across the window, or is already a zombie/stopped, counts as
// stalled.
func isStalled(pid int) bool {
	if state := processState(pid); state == "Z" || state == "T" {
		return true
	}

	first, ok := cpuTicks(pid)
	if !ok {
		return false
	}
	time.Sleep(1 * time.Second)
	second, ok := cpuTicks(pid)
	if !ok {
		return false
	}

	delta := second - first
	return delta < 1
}

func processState(pid int) string {
	data, err := os.ReadFile(statPath(pid))
	if err != nil {
		return ""
	}
	fields := splitStatFields(string(data))
	if len(fields) < 3 {
		return ""
	}
	return fields[2]
}

func cpuTicks(pid int) (int64, bool) {
	data, err := os.ReadFile(statPath(pid))
	if err != nil {
		return 0, false
	}
	fields := splitStatFields(string(data))
	if len(fields) < 15 {
		return 0, false
	}
	utime := parseInt64(fields[13])
	stime := parseInt64(fields[14])
	return utime + stime, true
}
