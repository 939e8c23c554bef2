package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sigreer/devhistory/internal/device"
)

// File names inside the data directory
const (
	LedgerFile = "device-history-cache.json"
	EventsFile = "device-history-events.jsonl"
	PrefsFile  = "device-history-prefs.json"
)

type ledgerEnvelope struct {
	Version int                           `json:"version"`
	Devices map[string]device.KnownDevice `json:"devices"`
}

// JSONStore keeps state as plain JSON documents in one directory.
// Whole-document writes go through a temp file and rename, so a reader
// never sees a partially written file.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONStore creates the data directory if needed
func NewJSONStore(dir string) (*JSONStore, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "create data directory", Path: dir, Err: err}
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// LoadLedger reads the ledger. A missing file yields an empty ledger. An
// unparseable file also yields an empty ledger, together with a
// PersistenceError the caller should surface as a warning.
func (s *JSONStore) LoadLedger() (map[string]device.KnownDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(LedgerFile)
	empty := map[string]device.KnownDevice{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return empty, nil
		}
		return empty, &PersistenceError{Op: "read ledger", Path: path, Err: err}
	}

	var env ledgerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return empty, &PersistenceError{Op: "decode ledger", Path: path, Err: err}
	}
	if env.Devices == nil {
		return empty, nil
	}
	for id, kd := range env.Devices {
		if kd.DeviceID == "" {
			kd.DeviceID = id
			env.Devices[id] = kd
		}
	}
	return env.Devices, nil
}

// SaveLedger atomically replaces the ledger file
func (s *JSONStore) SaveLedger(devices map[string]device.KnownDevice) error {
	if devices == nil {
		devices = map[string]device.KnownDevice{}
	}
	data, err := json.MarshalIndent(ledgerEnvelope{Version: LedgerVersion, Devices: devices}, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode ledger", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(LedgerFile), data)
}

// LoadEvents reads the event history in append order. Lines that fail to
// decode, typically a torn final line after a crash, are skipped.
func (s *JSONStore) LoadEvents() ([]device.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(EventsFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "open events", Path: path, Err: err}
	}
	defer f.Close()

	var events []device.Event
	// a retried append after a failed sync can leave a batch on disk twice
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev device.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, &PersistenceError{Op: "read events", Path: path, Err: err}
	}
	return events, nil
}

// AppendEvents appends one JSON line per event
func (s *JSONStore) AppendEvents(events []device.Event) error {
	if len(events) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return &PersistenceError{Op: "encode event", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(EventsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &PersistenceError{Op: "open events", Path: path, Err: err}
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return &PersistenceError{Op: "append events", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &PersistenceError{Op: "sync events", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Op: "close events", Path: path, Err: err}
	}
	return nil
}

// ClearEvents atomically replaces the history with an empty file
func (s *JSONStore) ClearEvents() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(EventsFile), nil)
}

// LoadPrefs reads preferences, falling back to defaults field by field
func (s *JSONStore) LoadPrefs() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(PrefsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPrefs(), nil
		}
		return DefaultPrefs(), &PersistenceError{Op: "read prefs", Path: path, Err: err}
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return DefaultPrefs(), &PersistenceError{Op: "decode prefs", Path: path, Err: err}
	}
	return p.WithDefaults(), nil
}

// SavePrefs atomically replaces the preferences file
func (s *JSONStore) SavePrefs(p Prefs) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode prefs", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(PrefsFile), data)
}

// Close is a no-op; every write is complete when its method returns
func (s *JSONStore) Close() error {
	return nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "create temp file", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(op string, err error) error {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return &PersistenceError{Op: op, Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistenceError{Op: "close temp file", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistenceError{Op: "replace", Path: path, Err: fmt.Errorf("rename %s: %w", filepath.Base(tmpPath), err)}
	}
	return nil
}
