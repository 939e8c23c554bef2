package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sigreer/devhistory/internal/device"
)

func ev(id, kind string, ts time.Time) device.Event {
	return device.Event{ID: id + kind + ts.String(), DeviceID: id, Kind: kind, Timestamp: ts}
}

func TestAppendAndClear(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := New(nil)
	assert.True(t, l.LastTimestamp().IsZero())

	l.Append(ev("A", device.KindConnect, t0))
	l.Append(ev("B", device.KindConnect, t0.Add(time.Second)), ev("A", device.KindDisconnect, t0.Add(time.Second)))
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, t0.Add(time.Second), l.LastTimestamp())

	view := l.Events()
	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Len(t, view, 3, "views taken before Clear are unaffected")
}

func TestEventsViewDoesNotAlias(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := New([]device.Event{ev("A", device.KindConnect, t0)})

	view := l.Events()
	_ = append(view, ev("X", device.KindConnect, t0))
	l.Append(ev("B", device.KindConnect, t0))

	assert.Equal(t, "B", l.Events()[1].DeviceID)
	assert.Len(t, view, 1)
}

func TestForDevice(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := New(nil)
	for i := 0; i < 5; i++ {
		l.Append(ev("A", device.KindConnect, t0.Add(time.Duration(i)*time.Minute)))
		l.Append(ev("B", device.KindConnect, t0.Add(time.Duration(i)*time.Minute)))
	}

	got := l.ForDevice("A", 3)
	assert.Len(t, got, 3)
	assert.Equal(t, t0.Add(4*time.Minute), got[0].Timestamp)
	assert.Len(t, l.ForDevice("A", 0), 5)
	assert.Empty(t, l.ForDevice("C", 10))
}
