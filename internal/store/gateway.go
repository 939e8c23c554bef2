// Package store persists the known-device ledger, the event history and
// user preferences. Two backends implement Gateway: JSON files in a data
// directory (this package) and SQLite (internal/db).
package store

import (
	"fmt"

	"github.com/sigreer/devhistory/internal/device"
)

// LedgerVersion is written into the ledger envelope
const LedgerVersion = 2

// Default preference values
const (
	DefaultTheme = "neon"
	DefaultTab   = "monitor"
)

// Gateway is the durable home of everything the monitor must survive a
// restart with. Load methods return defaults, not errors, when nothing has
// been saved yet. Implementations must be safe for concurrent use.
type Gateway interface {
	LoadLedger() (map[string]device.KnownDevice, error)
	SaveLedger(devices map[string]device.KnownDevice) error

	LoadEvents() ([]device.Event, error)
	AppendEvents(events []device.Event) error
	ClearEvents() error

	LoadPrefs() (Prefs, error)
	SavePrefs(p Prefs) error

	Close() error
}

// Prefs are the presentation-layer preferences. The store treats them as
// opaque strings; validation lives in internal/prefs.
type Prefs struct {
	Theme     string `json:"theme"`
	ActiveTab string `json:"active_tab"`
}

// DefaultPrefs returns the preferences used when none are stored
func DefaultPrefs() Prefs {
	return Prefs{Theme: DefaultTheme, ActiveTab: DefaultTab}
}

// WithDefaults fills empty fields from DefaultPrefs
func (p Prefs) WithDefaults() Prefs {
	d := DefaultPrefs()
	if p.Theme == "" {
		p.Theme = d.Theme
	}
	if p.ActiveTab == "" {
		p.ActiveTab = d.ActiveTab
	}
	return p
}

// PersistenceError reports a failed read or write of durable state.
// It is never fatal: the in-memory state stays authoritative.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
