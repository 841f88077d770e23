// Package manifest describes the application bundle loaded at boot: the
// apps, their relations and the memory regions each one declares.
//
// A bundle can be written in HCL, YAML or TOML; all three decode into the
// same structs. Example (HCL):
//
//	app "camera" {
//	  parent      = "supervisor"
//	  profile     = ["restart"]
//	  ipc_send_to = ["encoder"]
//	  irqs        = [12]
//
//	  extra_block "regs" {
//	    start  = 1073741824
//	    length = 256
//	    read   = true
//	    write  = true
//	  }
//
//	  shared_buffer "frame" {
//	    length = 4096
//	  }
//	}
package manifest

import (
	"fmt"
	"slices"
)

// Profile flags.
const (
	ProfileSystemAudit = "system_audit"
	ProfileRestart     = "restart"
)

// AnyApp in ipc_send_to authorizes sending to every app.
const AnyApp = "*"

// Shared buffer length constraints.
const (
	SharedBufferGranule   = 32
	SharedBufferMaxLength = 64 * 1024
)

// Bundle is the set of apps known to the kernel.
type Bundle struct {
	Apps []*App `hcl:"app,block" yaml:"apps" toml:"app"`
}

// App is one application declaration.
type App struct {
	Name          string          `hcl:"name,label" yaml:"name" toml:"name"`
	Parent        string          `hcl:"parent,optional" yaml:"parent" toml:"parent"`
	Profile       []string        `hcl:"profile,optional" yaml:"profile" toml:"profile"`
	AutoStart     bool            `hcl:"auto_start,optional" yaml:"auto_start" toml:"auto_start"`
	IPCSendTo     []string        `hcl:"ipc_send_to,optional" yaml:"ipc_send_to" toml:"ipc_send_to"`
	IRQs          []int           `hcl:"irqs,optional" yaml:"irqs" toml:"irqs"`
	ExtraBlocks   []*ExtraBlock   `hcl:"extra_block,block" yaml:"extra_blocks" toml:"extra_block"`
	SharedBuffers []*SharedBuffer `hcl:"shared_buffer,block" yaml:"shared_buffers" toml:"shared_buffer"`
}

// ExtraBlock is a private address block with fixed placement and access.
type ExtraBlock struct {
	Label  string `hcl:"label,label" yaml:"label" toml:"label"`
	Start  uint32 `hcl:"start" yaml:"start" toml:"start"`
	Length uint32 `hcl:"length" yaml:"length" toml:"length"`
	Read   bool   `hcl:"read,optional" yaml:"read" toml:"read"`
	Write  bool   `hcl:"write,optional" yaml:"write" toml:"write"`
}

// SharedBuffer is a transferable region; its placement is chosen at boot.
type SharedBuffer struct {
	Label  string `hcl:"label,label" yaml:"label" toml:"label"`
	Length uint32 `hcl:"length" yaml:"length" toml:"length"`
}

// HasProfile reports whether the app carries the named profile flag.
func (a *App) HasProfile(flag string) bool {
	return slices.Contains(a.Profile, flag)
}

// SystemAudit reports whether the app may inspect every process and region.
func (a *App) SystemAudit() bool { return a.HasProfile(ProfileSystemAudit) }

// Restart reports whether the app is re-instantiated after termination.
func (a *App) Restart() bool { return a.HasProfile(ProfileRestart) }

// CanSendTo reports whether the app may send IPC to target.
func (a *App) CanSendTo(target string) bool {
	for _, name := range a.IPCSendTo {
		if name == AnyApp || name == target {
			return true
		}
	}
	return false
}

// CanUseIRQ reports whether the app may register the interrupt source.
func (a *App) CanUseIRQ(source int) bool {
	return slices.Contains(a.IRQs, source)
}

// App returns the named app.
func (b *Bundle) App(name string) (*App, bool) {
	for _, a := range b.Apps {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Index returns the declaration index of the named app, or -1.
func (b *Bundle) Index(name string) int {
	return slices.IndexFunc(b.Apps, func(a *App) bool { return a.Name == name })
}

// Merge appends the apps of other.
func (b *Bundle) Merge(other *Bundle) {
	b.Apps = append(b.Apps, other.Apps...)
}

// Validate checks the bundle for consistency.
func (b *Bundle) Validate() error {
	names := make(map[string]*App, len(b.Apps))
	for _, a := range b.Apps {
		if a.Name == "" {
			return fmt.Errorf("app with empty name")
		}
		if _, dup := names[a.Name]; dup {
			return fmt.Errorf("app %q declared twice", a.Name)
		}
		names[a.Name] = a
	}

	for _, a := range b.Apps {
		if err := a.validate(names); err != nil {
			return fmt.Errorf("app %q: %w", a.Name, err)
		}
	}

	// parent chains must terminate
	for _, a := range b.Apps {
		seen := map[string]bool{a.Name: true}
		for p := a.Parent; p != ""; p = names[p].Parent {
			if seen[p] {
				return fmt.Errorf("app %q: parent cycle through %q", a.Name, p)
			}
			seen[p] = true
		}
	}
	return nil
}

func (a *App) validate(names map[string]*App) error {
	if a.Parent != "" {
		if a.Parent == a.Name {
			return fmt.Errorf("app is its own parent")
		}
		if _, ok := names[a.Parent]; !ok {
			return fmt.Errorf("unknown parent %q", a.Parent)
		}
	}
	for _, p := range a.Profile {
		if p != ProfileSystemAudit && p != ProfileRestart {
			return fmt.Errorf("unknown profile flag %q", p)
		}
	}
	for _, t := range a.IPCSendTo {
		if t == AnyApp {
			continue
		}
		if _, ok := names[t]; !ok {
			return fmt.Errorf("ipc_send_to names unknown app %q", t)
		}
	}
	for _, irq := range a.IRQs {
		if irq < 0 {
			return fmt.Errorf("negative irq source %d", irq)
		}
	}

	labels := make(map[string]bool)
	for _, eb := range a.ExtraBlocks {
		if err := checkLabel(labels, eb.Label); err != nil {
			return err
		}
		if eb.Length == 0 {
			return fmt.Errorf("extra block %q has zero length", eb.Label)
		}
		if uint64(eb.Start)+uint64(eb.Length) > 1<<32 {
			return fmt.Errorf("extra block %q overflows the address space", eb.Label)
		}
	}
	for _, sb := range a.SharedBuffers {
		if err := checkLabel(labels, sb.Label); err != nil {
			return err
		}
		if sb.Length == 0 || sb.Length%SharedBufferGranule != 0 || sb.Length > SharedBufferMaxLength {
			return fmt.Errorf("shared buffer %q length %d must be a non-zero multiple of %d up to %d",
				sb.Label, sb.Length, SharedBufferGranule, SharedBufferMaxLength)
		}
	}
	return nil
}

func checkLabel(seen map[string]bool, label string) error {
	if label == "" {
		return fmt.Errorf("region with empty label")
	}
	if seen[label] {
		return fmt.Errorf("region label %q declared twice", label)
	}
	seen[label] = true
	return nil
}
