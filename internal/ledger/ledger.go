// Package ledger holds the durable record of every device ever observed and
// the rules for merging new observations into it.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sigreer/devhistory/internal/device"
)

// ErrNotFound is returned for operations on an identity the ledger has never seen
var ErrNotFound = errors.New("device not found")

// Ledger maps device identity to KnownDevice.
// It is not safe for concurrent use; the monitor serializes access.
type Ledger struct {
	devices map[string]*device.KnownDevice
}

// New creates a ledger seeded with previously persisted entries
func New(entries map[string]device.KnownDevice) *Ledger {
	l := &Ledger{devices: make(map[string]*device.KnownDevice, len(entries))}
	for id, kd := range entries {
		c := kd.Clone()
		if c.DeviceID == "" {
			c.DeviceID = id
		}
		if c.TimesSeen == 0 {
			c.TimesSeen = 1
		}
		l.devices[id] = &c
	}
	return l
}

// Upsert records a transition of obs into the connected state.
//
// A new identity gets first_seen = last_seen = now and times_seen = 1. A known,
// disconnected identity gets last_seen = now, times_seen+1, and its descriptive
// fields replaced by the latest observation; the nickname is never touched.
// Calling Upsert for an entry that is already connected changes nothing except
// attaching storage when provided. Returns true when a new entry was created.
func (l *Ledger) Upsert(obs device.ObservedDevice, storage *device.StorageInfo, now time.Time) bool {
	kd, ok := l.devices[obs.ID]
	if !ok {
		kd = &device.KnownDevice{
			DeviceID:           obs.ID,
			FirstSeen:          now,
			LastSeen:           now,
			TimesSeen:          1,
			CurrentlyConnected: true,
		}
		applyObservation(kd, obs)
		l.devices[obs.ID] = kd
		attachStorage(kd, storage)
		return true
	}

	if kd.CurrentlyConnected {
		attachStorage(kd, storage)
		return false
	}

	if now.Before(kd.FirstSeen) {
		now = kd.FirstSeen
	}
	kd.LastSeen = now
	kd.TimesSeen++
	kd.CurrentlyConnected = true
	applyObservation(kd, obs)
	attachStorage(kd, storage)
	return false
}

func applyObservation(kd *device.KnownDevice, obs device.ObservedDevice) {
	kd.Name = obs.Name
	kd.VidPid = device.Deref(obs.VidPid)
	kd.Class = obs.Class
	kd.Manufacturer = device.Deref(obs.Manufacturer)
	kd.Description = obs.Description
}

func attachStorage(kd *device.KnownDevice, storage *device.StorageInfo) {
	if storage == nil {
		return
	}
	kd.StorageInfo = storage.Clone()
	kd.StorageStale = false
}

// MarkDisconnected flips currently_connected to false. No other field changes.
// Returns false if the identity is unknown.
func (l *Ledger) MarkDisconnected(id string) bool {
	kd, ok := l.devices[id]
	if !ok {
		return false
	}
	kd.CurrentlyConnected = false
	return true
}

// MarkStorageStale freezes the last-known storage info of a disconnected device
func (l *Ledger) MarkStorageStale(id string) bool {
	kd, ok := l.devices[id]
	if !ok || kd.StorageInfo == nil {
		return false
	}
	kd.StorageStale = true
	return true
}

// SetStorage replaces the cached storage info for a connected device
func (l *Ledger) SetStorage(id string, info *device.StorageInfo) bool {
	kd, ok := l.devices[id]
	if !ok || info == nil {
		return false
	}
	attachStorage(kd, info)
	return true
}

// SetNickname sets or, for empty/whitespace-only text, clears the nickname
func (l *Ledger) SetNickname(id, text string) error {
	kd, ok := l.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		kd.Nickname = nil
		return nil
	}
	kd.Nickname = &trimmed
	return nil
}

// Forget removes an entry and its cached storage info
func (l *Ledger) Forget(id string) error {
	if _, ok := l.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(l.devices, id)
	return nil
}

// Get returns a copy of one entry
func (l *Ledger) Get(id string) (device.KnownDevice, bool) {
	kd, ok := l.devices[id]
	if !ok {
		return device.KnownDevice{}, false
	}
	return kd.Clone(), true
}

// Has reports whether the identity is in the ledger
func (l *Ledger) Has(id string) bool {
	_, ok := l.devices[id]
	return ok
}

// Connected returns the identities currently flagged as connected
func (l *Ledger) Connected() []string {
	var ids []string
	for id, kd := range l.devices {
		if kd.CurrentlyConnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// Entries returns a deep copy of every entry
func (l *Ledger) Entries() map[string]device.KnownDevice {
	out := make(map[string]device.KnownDevice, len(l.devices))
	for id, kd := range l.devices {
		out[id] = kd.Clone()
	}
	return out
}

// Len returns the number of known devices
func (l *Ledger) Len() int {
	return len(l.devices)
}
