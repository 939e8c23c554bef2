package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/devhistory/internal/device"
)

func sampleLedger() map[string]device.KnownDevice {
	nick := "Backup Drive"
	first := time.Date(2026, 4, 2, 8, 30, 0, 123456789, time.UTC)
	return map[string]device.KnownDevice{
		`USB\VID_0781&PID_5581\AA`: {
			DeviceID:           `USB\VID_0781&PID_5581\AA`,
			Name:               "SanDisk Ultra",
			VidPid:             "0781:5581",
			Class:              "DiskDrive",
			Manufacturer:       "SanDisk",
			Description:        "USB Mass Storage Device",
			FirstSeen:          first,
			LastSeen:           first.Add(time.Hour),
			TimesSeen:          3,
			CurrentlyConnected: false,
			Nickname:           &nick,
			StorageInfo: &device.StorageInfo{
				Model:          "SanDisk Ultra USB Device",
				SerialNumber:   "AA",
				TotalBytes:     64000000000,
				PartitionCount: 1,
				Volumes: []device.VolumeInfo{
					{DriveLetter: "E:", VolumeName: "BACKUP", TotalBytes: 63000000000, FreeBytes: 1000, FileSystem: "exFAT"},
				},
			},
			StorageStale: true,
		},
		`USB\VID_046D&PID_C52B\5&1`: {
			DeviceID:           `USB\VID_046D&PID_C52B\5&1`,
			Name:               "USB Receiver",
			VidPid:             "046D:C52B",
			Class:              "HIDClass",
			FirstSeen:          first,
			LastSeen:           first,
			TimesSeen:          1,
			CurrentlyConnected: true,
		},
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)

	want := sampleLedger()
	require.NoError(t, s.SaveLedger(want))

	got, err := s.LoadLedger()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Nil(t, got[`USB\VID_046D&PID_C52B\5&1`].Nickname, "null nickname survives as null")

	raw, err := os.ReadFile(filepath.Join(dir, LedgerFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 2`)
}

func TestLoadLedgerMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)

	got, err := s.LoadLedger()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerFile), []byte("{not json"), 0o644))
	got, err = s.LoadLedger()
	assert.Empty(t, got)
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "decode ledger", perr.Op)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveLedger(sampleLedger()))
		require.NoError(t, s.SavePrefs(DefaultPrefs()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{LedgerFile, PrefsFile}, names)
}

func TestSaveFailureReturnsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)

	// a directory where the ledger file should be makes the rename fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, LedgerFile), 0o755))
	err = s.SaveLedger(sampleLedger())
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "replace", perr.Op)
}

func TestEventsAppendLoadClear(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)

	ts := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	vp := "0781:5581"
	batch1 := []device.Event{
		{ID: "1", Timestamp: ts, Kind: device.KindConnect, Name: "Ultra", VidPid: &vp, Class: "DiskDrive", DeviceID: "A"},
	}
	batch2 := []device.Event{
		{ID: "2", Timestamp: ts.Add(time.Second), Kind: device.KindDisconnect, Name: "Ultra", VidPid: &vp, Class: "DiskDrive", DeviceID: "A"},
		{ID: "3", Timestamp: ts.Add(time.Second), Kind: device.KindConnect, Name: "Mouse", Class: "HIDClass", DeviceID: "B"},
	}
	require.NoError(t, s.AppendEvents(batch1))
	require.NoError(t, s.AppendEvents(batch2))

	// torn trailing line
	f, err := os.OpenFile(filepath.Join(dir, EventsFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"4","timesta`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := s.LoadEvents()
	require.NoError(t, err)
	assert.Equal(t, append(batch1, batch2...), got)

	require.NoError(t, s.ClearEvents())
	got, err = s.LoadEvents()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadEventsSkipsRepeatedBatch(t *testing.T) {
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	ts := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	batch := []device.Event{
		{ID: "1", Timestamp: ts, Kind: device.KindConnect, Name: "Ultra", Class: "DiskDrive", DeviceID: "A"},
		{ID: "2", Timestamp: ts.Add(time.Second), Kind: device.KindDisconnect, Name: "Ultra", Class: "DiskDrive", DeviceID: "A"},
	}
	later := []device.Event{
		{ID: "3", Timestamp: ts.Add(2 * time.Second), Kind: device.KindConnect, Name: "Mouse", Class: "HIDClass", DeviceID: "B"},
	}
	// the same batch written again, as after a retry
	require.NoError(t, s.AppendEvents(batch))
	require.NoError(t, s.AppendEvents(batch))
	require.NoError(t, s.AppendEvents(later))

	got, err := s.LoadEvents()
	require.NoError(t, err)
	assert.Equal(t, append(batch, later...), got)
}

func TestPrefsDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)

	p, err := s.LoadPrefs()
	require.NoError(t, err)
	assert.Equal(t, Prefs{Theme: "neon", ActiveTab: "monitor"}, p)

	require.NoError(t, os.WriteFile(filepath.Join(dir, PrefsFile), []byte(`{"theme":"matrix"}`), 0o644))
	p, err = s.LoadPrefs()
	require.NoError(t, err)
	assert.Equal(t, Prefs{Theme: "matrix", ActiveTab: "monitor"}, p)

	require.NoError(t, os.WriteFile(filepath.Join(dir, PrefsFile), []byte(`garbage`), 0o644))
	p, err = s.LoadPrefs()
	assert.Error(t, err)
	assert.Equal(t, DefaultPrefs(), p)
}
