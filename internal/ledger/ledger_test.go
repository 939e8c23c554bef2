package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/devhistory/internal/device"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func observed(id, name string) device.ObservedDevice {
	return device.ObservedDevice{
		ID:           id,
		Name:         name,
		VidPid:       device.VidPidFromID(id),
		Class:        "DiskDrive",
		Manufacturer: device.StringPtr("SanDisk"),
		Description:  name + " description",
	}
}

func TestUpsertCreatesEntry(t *testing.T) {
	l := New(nil)
	created := l.Upsert(observed(`USB\VID_0781&PID_5581\AA`, "Ultra"), nil, t0)
	require.True(t, created)

	kd, ok := l.Get(`USB\VID_0781&PID_5581\AA`)
	require.True(t, ok)
	assert.Equal(t, "Ultra", kd.Name)
	assert.Equal(t, "0781:5581", kd.VidPid)
	assert.Equal(t, "SanDisk", kd.Manufacturer)
	assert.Equal(t, t0, kd.FirstSeen)
	assert.Equal(t, t0, kd.LastSeen)
	assert.Equal(t, uint32(1), kd.TimesSeen)
	assert.True(t, kd.CurrentlyConnected)
	assert.Nil(t, kd.Nickname)
}

func TestUpsertReconnectIncrementsAndLatestWins(t *testing.T) {
	id := `USB\VID_0781&PID_5581\AA`
	l := New(nil)
	l.Upsert(observed(id, "Ultra"), nil, t0)
	require.NoError(t, l.SetNickname(id, "Backup Drive"))
	require.True(t, l.MarkDisconnected(id))

	renamed := observed(id, "Ultra Fit")
	renamed.Class = "USB"
	renamed.Manufacturer = nil
	later := t0.Add(time.Hour)
	assert.False(t, l.Upsert(renamed, nil, later))

	kd, _ := l.Get(id)
	assert.Equal(t, uint32(2), kd.TimesSeen)
	assert.Equal(t, t0, kd.FirstSeen, "first_seen is never overwritten")
	assert.Equal(t, later, kd.LastSeen)
	assert.True(t, kd.CurrentlyConnected)
	assert.Equal(t, "Ultra Fit", kd.Name)
	assert.Equal(t, "USB", kd.Class)
	assert.Equal(t, "", kd.Manufacturer)
	require.NotNil(t, kd.Nickname)
	assert.Equal(t, "Backup Drive", *kd.Nickname)
}

func TestUpsertOnConnectedEntryIsNoTransition(t *testing.T) {
	id := "A"
	l := New(nil)
	l.Upsert(observed(id, "A"), nil, t0)
	before, _ := l.Get(id)

	l.Upsert(observed(id, "A renamed"), nil, t0.Add(time.Minute))
	after, _ := l.Get(id)
	assert.Equal(t, before, after)
}

func TestUpsertClockBackwardsKeepsOrdering(t *testing.T) {
	l := New(nil)
	l.Upsert(observed("A", "A"), nil, t0)
	l.MarkDisconnected("A")
	l.Upsert(observed("A", "A"), nil, t0.Add(-time.Hour))

	kd, _ := l.Get("A")
	assert.False(t, kd.LastSeen.Before(kd.FirstSeen))
}

func TestMarkDisconnectedOnlyFlipsFlag(t *testing.T) {
	l := New(nil)
	storage := &device.StorageInfo{Model: "Ultra", TotalBytes: 64}
	l.Upsert(observed("A", "A"), storage, t0)
	before, _ := l.Get("A")

	require.True(t, l.MarkDisconnected("A"))
	after, _ := l.Get("A")

	before.CurrentlyConnected = false
	assert.Equal(t, before, after)
	assert.False(t, l.MarkDisconnected("missing"))
}

func TestStorageStaleLifecycle(t *testing.T) {
	l := New(nil)
	l.Upsert(observed("A", "A"), &device.StorageInfo{Model: "Ultra"}, t0)
	l.MarkDisconnected("A")
	require.True(t, l.MarkStorageStale("A"))

	kd, _ := l.Get("A")
	require.NotNil(t, kd.StorageInfo)
	assert.True(t, kd.StorageStale)
	assert.Equal(t, "Ultra", kd.StorageInfo.Model)

	// reconnect without fresh storage keeps the stale copy
	l.Upsert(observed("A", "A"), nil, t0.Add(time.Minute))
	kd, _ = l.Get("A")
	assert.True(t, kd.StorageStale)

	require.True(t, l.SetStorage("A", &device.StorageInfo{Model: "Ultra v2"}))
	kd, _ = l.Get("A")
	assert.False(t, kd.StorageStale)
	assert.Equal(t, "Ultra v2", kd.StorageInfo.Model)

	assert.False(t, l.MarkStorageStale("unknown"))
}

func TestSetNickname(t *testing.T) {
	l := New(nil)
	l.Upsert(observed("A", "A"), nil, t0)

	require.NoError(t, l.SetNickname("A", "  Work Keyboard  "))
	kd, _ := l.Get("A")
	require.NotNil(t, kd.Nickname)
	assert.Equal(t, "Work Keyboard", *kd.Nickname)

	require.NoError(t, l.SetNickname("A", "   "))
	kd, _ = l.Get("A")
	assert.Nil(t, kd.Nickname)

	err := l.SetNickname("nope", "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestForget(t *testing.T) {
	l := New(nil)
	l.Upsert(observed("A", "A"), &device.StorageInfo{Model: "Ultra"}, t0)

	require.NoError(t, l.Forget("A"))
	assert.False(t, l.Has("A"))
	assert.Equal(t, 0, l.Len())
	assert.ErrorIs(t, l.Forget("A"), ErrNotFound)

	// a forgotten device seen again starts over
	l.Upsert(observed("A", "A"), nil, t0.Add(time.Hour))
	kd, _ := l.Get("A")
	assert.Equal(t, uint32(1), kd.TimesSeen)
	assert.Nil(t, kd.StorageInfo)
}

func TestEntriesAreCopies(t *testing.T) {
	l := New(nil)
	l.Upsert(observed("A", "A"), &device.StorageInfo{Model: "Ultra"}, t0)

	entries := l.Entries()
	e := entries["A"]
	e.StorageInfo.Model = "mutated"
	e.TimesSeen = 99
	entries["A"] = e

	kd, _ := l.Get("A")
	assert.Equal(t, "Ultra", kd.StorageInfo.Model)
	assert.Equal(t, uint32(1), kd.TimesSeen)
}

func TestNewNormalizesLoadedEntries(t *testing.T) {
	l := New(map[string]device.KnownDevice{
		"A": {Name: "A", FirstSeen: t0, LastSeen: t0, CurrentlyConnected: true},
	})
	kd, ok := l.Get("A")
	require.True(t, ok)
	assert.Equal(t, "A", kd.DeviceID)
	assert.Equal(t, uint32(1), kd.TimesSeen)
	assert.Equal(t, []string{"A"}, l.Connected())
}
