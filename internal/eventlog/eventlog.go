// Package eventlog keeps the ordered, append-only history of connect and
// disconnect transitions.
package eventlog

import (
	"time"

	"github.com/sigreer/devhistory/internal/device"
)

// Log is an append-only sequence of events. There is no size cap; windowing
// is left to readers. Not safe for concurrent use.
type Log struct {
	events []device.Event
}

// New creates a log seeded with persisted history
func New(history []device.Event) *Log {
	l := &Log{}
	if len(history) > 0 {
		l.events = make([]device.Event, len(history))
		copy(l.events, history)
	}
	return l
}

// Append adds events to the end of the log
func (l *Log) Append(events ...device.Event) {
	l.events = append(l.events, events...)
}

// Clear empties the log. The backing array is replaced rather than truncated
// so slices previously handed out by Events stay valid.
func (l *Log) Clear() {
	l.events = nil
}

// Events returns a read-only view of the log. The returned slice has its
// capacity clipped so appends by the caller cannot alias later entries.
func (l *Log) Events() []device.Event {
	n := len(l.events)
	return l.events[:n:n]
}

// Len returns the number of events
func (l *Log) Len() int {
	return len(l.events)
}

// LastTimestamp returns the timestamp of the newest event, or the zero time
func (l *Log) LastTimestamp() time.Time {
	if len(l.events) == 0 {
		return time.Time{}
	}
	return l.events[len(l.events)-1].Timestamp
}

// ForDevice returns up to limit most recent events for one identity, newest first
func (l *Log) ForDevice(id string, limit int) []device.Event {
	var out []device.Event
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].DeviceID != id {
			continue
		}
		out = append(out, l.events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
