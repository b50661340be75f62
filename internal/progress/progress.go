// Package progress defines the capability the core consumes to report
// install/launch progress and to observe cancellation/pause/dry-run state
// (spec.md §6). It is a fixed interface, not a class hierarchy, per the
// "dynamic-polymorphism callbacks" redesign note in spec.md §9.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ActionSpec describes a button the reporter's presentation layer may show
// (e.g. "Cancel"); the core never interprets it, only forwards it.
type ActionSpec struct {
	ID     string
	Label  string
	Action string // "primary", "secondary", "destructive"
}

// Reporter is the full capability surface from spec.md §6.
type Reporter interface {
	StartStep(name string, totalSteps int)
	UpdateBytes(transferred, total int64)
	SetPercent(percent int) // -1 == indeterminate
	SetMessage(msg string)
	SetStepCount(current, total int)
	SetSubstep(name string, current, total int)
	SetActions(actions []ActionSpec)
	Done(success bool, message string)
	IsCancelled() bool
	IsPaused() bool
	IsDryRun() bool
}

// Silent implements Reporter with no-ops; useful for background verification
// or tests, mirroring the original's SilentProgressReporter.
type Silent struct{}

func (Silent) StartStep(string, int)            {}
func (Silent) UpdateBytes(int64, int64)         {}
func (Silent) SetPercent(int)                   {}
func (Silent) SetMessage(string)                {}
func (Silent) SetStepCount(int, int)            {}
func (Silent) SetSubstep(string, int, int)      {}
func (Silent) SetActions([]ActionSpec)          {}
func (Silent) Done(bool, string)                {}
func (Silent) IsCancelled() bool                { return false }
func (Silent) IsPaused() bool                   { return false }
func (Silent) IsDryRun() bool                   { return false }

// Console is the in-core Reporter implementation used by cmd/vesta: it
// prints step/substep/byte-count transitions to stdout using go-humanize for
// byte sizes and golang.org/x/text for thousands separators, the way the
// teacher formats download listings with golang.org/x/text/message.
type Console struct {
	mu       sync.Mutex
	cancel   atomic.Bool
	pause    atomic.Bool
	dryRun   bool
	printer  *message.Printer
}

// NewConsole builds a Console reporter. dryRun fixes IsDryRun's answer for
// the lifetime of an install/launch operation.
func NewConsole(dryRun bool) *Console {
	return &Console{dryRun: dryRun, printer: message.NewPrinter(language.English)}
}

// Cancel flips the cancellation flag; safe to call from another goroutine
// (e.g. a UI "Cancel" button handler).
func (c *Console) Cancel() { c.cancel.Store(true) }

// SetPaused toggles the pause flag.
func (c *Console) SetPaused(p bool) { c.pause.Store(p) }

func (c *Console) StartStep(name string, totalSteps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if totalSteps > 0 {
		c.printer.Printf("== %s ==\n", name)
	} else {
		fmt.Printf("== %s ==\n", name)
	}
}

func (c *Console) UpdateBytes(transferred, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total > 0 {
		fmt.Printf("\r%s / %s", humanize.Bytes(uint64(transferred)), humanize.Bytes(uint64(total)))
	} else {
		fmt.Printf("\r%s", humanize.Bytes(uint64(transferred)))
	}
}

func (c *Console) SetPercent(percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if percent < 0 {
		fmt.Printf("\r...")
		return
	}
	fmt.Printf("\r%3d%%", percent)
}

func (c *Console) SetMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Println(msg)
}

func (c *Console) SetStepCount(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total > 0 {
		c.printer.Printf("step %d/%d\n", current, total)
	}
}

func (c *Console) SetSubstep(name string, current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total > 0 {
		fmt.Printf("  - %s (%d/%d)\n", name, current, total)
	} else if name != "" {
		fmt.Printf("  - %s\n", name)
	}
}

func (c *Console) SetActions([]ActionSpec) {}

func (c *Console) Done(success bool, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		fmt.Printf("done: %s\n", msg)
	} else {
		fmt.Printf("failed: %s\n", msg)
	}
}

func (c *Console) IsCancelled() bool { return c.cancel.Load() }
func (c *Console) IsPaused() bool    { return c.pause.Load() }
func (c *Console) IsDryRun() bool    { return c.dryRun }

// WindowPercent maps a completed/total ratio into [base, base+span],
// matching C2's "aggregated as (completed/total) mapped into a caller
// specified [base, base+range] percentage window".
func WindowPercent(completed, total, base, span int) int {
	if total <= 0 {
		return base
	}
	pct := base + (completed*span)/total
	if pct > base+span {
		pct = base + span
	}
	return pct
}
