// Package monitor runs the polling loop that turns periodic device
// enumerations into connect/disconnect events, merges them into the
// known-device ledger and publishes immutable snapshots to consumers.
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigreer/devhistory/internal/collector"
	"github.com/sigreer/devhistory/internal/device"
	"github.com/sigreer/devhistory/internal/eventlog"
	"github.com/sigreer/devhistory/internal/ledger"
	"github.com/sigreer/devhistory/internal/store"
)

// Defaults
const (
	DefaultInterval       = 500 * time.Millisecond
	DefaultEnrichDelay    = 2 * time.Second
	DefaultEnrichAttempts = 3
)

// State of the poller
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateReconciling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateReconciling:
		return "reconciling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Monitor
type Options struct {
	Provider   collector.Provider
	Gateway    store.Gateway
	Classifier *device.Classifier

	Interval       time.Duration
	EnrichDelay    time.Duration
	EnrichAttempts int

	Log zerolog.Logger

	// Clock and NewID are replaceable for tests
	Clock func() time.Time
	NewID func() string
}

// Monitor owns the ledger, the event log and the live storage cache. One
// goroutine runs the poll loop; any number of callers may read snapshots or
// issue mutations concurrently.
type Monitor struct {
	provider   collector.Provider
	classifier *device.Classifier
	flusher    *store.Flusher
	log        zerolog.Logger
	clock      func() time.Time
	newID      func() string

	interval       time.Duration
	enrichDelay    time.Duration
	enrichAttempts int

	// guarded by mu
	mu        sync.Mutex
	ledger    *ledger.Ledger
	events    *eventlog.Log
	storage   map[string]*device.StorageInfo
	devices   []device.ObservedDevice // last successful enumeration, display order
	lastErr   string
	loadWarn  string
	lastStamp time.Time
	seq       uint64

	// owned by the poll loop
	prev      map[string]struct{}
	baselined bool
	pending   map[string]*enrichTask

	state  atomic.Int32
	snap   atomic.Pointer[Snapshot]
	broker *broker
	closed atomic.Bool
}

// New loads persisted state and publishes an initial snapshot. Load
// failures are not fatal: the monitor starts empty and reports a warning.
func New(opts Options) (*Monitor, error) {
	if opts.Provider == nil {
		return nil, errors.New("monitor: provider is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("monitor: gateway is required")
	}
	if opts.Classifier == nil {
		opts.Classifier = device.NewClassifier(nil)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.EnrichDelay <= 0 {
		opts.EnrichDelay = DefaultEnrichDelay
	}
	if opts.EnrichAttempts <= 0 {
		opts.EnrichAttempts = DefaultEnrichAttempts
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	m := &Monitor{
		provider:       opts.Provider,
		classifier:     opts.Classifier,
		log:            opts.Log,
		clock:          opts.Clock,
		newID:          opts.NewID,
		interval:       opts.Interval,
		enrichDelay:    opts.EnrichDelay,
		enrichAttempts: opts.EnrichAttempts,
		storage:        make(map[string]*device.StorageInfo),
		prev:           make(map[string]struct{}),
		pending:        make(map[string]*enrichTask),
		broker:         newBroker(),
	}

	known, err := opts.Gateway.LoadLedger()
	if err != nil {
		m.log.Warn().Err(err).Msg("loading ledger failed, starting empty")
		m.loadWarn = err.Error()
		known = nil
	}
	history, err := opts.Gateway.LoadEvents()
	if err != nil {
		m.log.Warn().Err(err).Msg("loading event history failed")
		if m.loadWarn == "" {
			m.loadWarn = err.Error()
		}
	}

	m.ledger = ledger.New(known)
	m.events = eventlog.New(history)
	m.lastStamp = m.events.LastTimestamp()
	m.flusher = store.NewFlusher(opts.Gateway, m.log.With().Str("component", "flusher").Logger())

	m.log.Info().
		Int("known", m.ledger.Len()).
		Int("events", m.events.Len()).
		Msg("state loaded")

	m.mu.Lock()
	m.publishLocked()
	m.mu.Unlock()

	return m, nil
}

// Run polls at the fixed interval until ctx is cancelled. A slow
// enumeration delays the next cycle; cycles never overlap.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.setState(StateStopped)

	m.log.Info().Dur("interval", m.interval).Msg("monitor started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor stopped")
			return nil
		case <-timer.C:
		}

		m.cycle(ctx)
		timer.Reset(m.interval)
	}
}

// State returns the current poller state
func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	if m.State() == StateStopped {
		return
	}
	m.state.Store(int32(s))
}

// cycle runs one poll, diff, merge and publish pass
func (m *Monitor) cycle(ctx context.Context) {
	m.setState(StatePolling)
	defer m.setState(StateIdle)

	devs, err := m.provider.Enumerate(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("enumeration failed")
		m.mu.Lock()
		m.lastErr = err.Error()
		m.publishLocked()
		m.mu.Unlock()
		return
	}

	m.setState(StateReconciling)

	devs = dedupe(devs)
	for i := range devs {
		devs[i].Category = m.classifier.Classify(devs[i].Class, devs[i].Name)
	}

	if !m.baselined {
		m.baseline(ctx, devs)
		return
	}

	connected, disconnected := Diff(m.prev, devs)

	// platform queries happen before taking the lock
	fetched := make(map[string]*device.StorageInfo)
	for _, d := range connected {
		if !m.classifier.IsStorage(d) {
			continue
		}
		info := m.fetchStorage(ctx, d.ID)
		if info != nil {
			fetched[d.ID] = info
		}
		if info == nil || len(info.Volumes) == 0 {
			m.queueEnrich(d.ID)
		}
	}
	present := identitySet(devs)
	enriched := m.runEnrichment(ctx, present)

	if ctx.Err() != nil {
		return
	}

	var previous map[string]device.ObservedDevice

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.stampLocked()
	var batch []device.Event

	if len(disconnected) > 0 {
		previous = make(map[string]device.ObservedDevice, len(m.devices))
		for _, d := range m.devices {
			previous[d.ID] = d
		}
	}
	for _, id := range disconnected {
		obs, ok := previous[id]
		if !ok {
			obs = m.observedFromLedger(id)
		}
		m.ledger.MarkDisconnected(id)
		m.ledger.MarkStorageStale(id)
		delete(m.storage, id)

		ev := device.NewEvent(m.newID(), now, device.KindDisconnect, obs)
		batch = append(batch, ev)
		m.logTransition(ev)
	}

	for _, d := range connected {
		info := fetched[d.ID]
		m.ledger.Upsert(d, info, now)
		if info != nil {
			m.storage[d.ID] = info
		}

		ev := device.NewEvent(m.newID(), now, device.KindConnect, d)
		batch = append(batch, ev)
		m.logTransition(ev)
	}

	enrichedAny := m.applyEnrichmentLocked(enriched)

	m.events.Append(batch...)
	m.devices = sortForDisplay(devs)
	m.lastErr = ""

	if len(batch) > 0 {
		m.flusher.MarkEvents(batch)
	}
	if len(batch) > 0 || enrichedAny {
		m.flusher.MarkLedger(m.ledger.Entries())
	}

	m.prev = present
	m.publishLocked()
}

// baseline handles the first successful enumeration. It emits no events:
// ledger entries left connected by a previous run but now absent are marked
// disconnected, and present devices the ledger does not show as connected
// are merged in as fresh connections.
func (m *Monitor) baseline(ctx context.Context, devs []device.ObservedDevice) {
	fetched := make(map[string]*device.StorageInfo)
	for _, d := range devs {
		if !m.classifier.IsStorage(d) {
			continue
		}
		info := m.fetchStorage(ctx, d.ID)
		if info != nil {
			fetched[d.ID] = info
		}
		if info == nil || len(info.Volumes) == 0 {
			m.queueEnrich(d.ID)
		}
	}
	if ctx.Err() != nil {
		return
	}

	present := identitySet(devs)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.stampLocked()

	stale := 0
	for _, id := range m.ledger.Connected() {
		if _, ok := present[id]; ok {
			continue
		}
		m.ledger.MarkDisconnected(id)
		m.ledger.MarkStorageStale(id)
		stale++
	}

	added := 0
	for _, d := range devs {
		info := fetched[d.ID]
		kd, ok := m.ledger.Get(d.ID)
		if !ok || !kd.CurrentlyConnected {
			m.ledger.Upsert(d, info, now)
			added++
		} else if info != nil {
			m.ledger.SetStorage(d.ID, info)
		}
		if info != nil {
			m.storage[d.ID] = info
		}
	}

	m.devices = sortForDisplay(devs)
	m.lastErr = ""
	m.prev = present
	m.baselined = true

	m.flusher.MarkLedger(m.ledger.Entries())
	m.publishLocked()

	m.log.Info().
		Int("present", len(devs)).
		Int("merged", added).
		Int("marked_disconnected", stale).
		Msg("baseline established")
}

// fetchStorage queries the provider; failures count as absent
func (m *Monitor) fetchStorage(ctx context.Context, id string) *device.StorageInfo {
	info, err := m.provider.StorageFor(ctx, id)
	if err != nil {
		m.log.Debug().Err(err).Str("device_id", id).Msg("storage query failed")
		return nil
	}
	return info
}

// stampLocked returns the observation time for this cycle, never earlier
// than the newest event already logged
func (m *Monitor) stampLocked() time.Time {
	now := m.clock().UTC().Round(0)
	if now.Before(m.lastStamp) {
		now = m.lastStamp
	}
	m.lastStamp = now
	return now
}

// observedFromLedger rebuilds event fields for an identity missing from the
// last enumeration snapshot
func (m *Monitor) observedFromLedger(id string) device.ObservedDevice {
	obs := device.ObservedDevice{ID: id, Name: device.UnknownName, Class: device.UnknownClass}
	if kd, ok := m.ledger.Get(id); ok {
		obs.Name = kd.Name
		obs.Class = kd.Class
		obs.VidPid = device.StringPtr(kd.VidPid)
		obs.Manufacturer = device.StringPtr(kd.Manufacturer)
	}
	return obs
}

func (m *Monitor) logTransition(ev device.Event) {
	label := "CONNECT"
	if ev.Kind == device.KindDisconnect {
		label = "DISCONNECT"
	}
	m.log.Info().
		Str("device_id", ev.DeviceID).
		Str("name", ev.Name).
		Str("vid_pid", device.Deref(ev.VidPid)).
		Str("class", ev.Class).
		Msg(label)
}

// Snapshot returns the most recently published snapshot
func (m *Monitor) Snapshot() *Snapshot {
	return m.snap.Load()
}

// Subscribe returns a channel receiving the latest snapshot after every
// cycle and mutation, starting with the current one. Intermediate
// snapshots may be skipped. Call cancel to unsubscribe.
func (m *Monitor) Subscribe() (<-chan *Snapshot, func()) {
	// publishLocked stores and broadcasts under mu, so holding it here
	// keeps a newer snapshot from being overwritten by a stale initial one
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broker.subscribe(m.snap.Load())
}

// SetNickname sets or clears the nickname of a known device
func (m *Monitor) SetNickname(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ledger.SetNickname(id, text); err != nil {
		return err
	}
	m.log.Info().Str("device_id", id).Str("nickname", text).Msg("nickname updated")
	m.flusher.MarkLedger(m.ledger.Entries())
	m.publishLocked()
	return nil
}

// Forget removes a device and its cached storage from the ledger. Its past
// events stay in the log.
func (m *Monitor) Forget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ledger.Forget(id); err != nil {
		return err
	}
	delete(m.storage, id)
	m.log.Info().Str("device_id", id).Msg("device forgotten")
	m.flusher.MarkLedger(m.ledger.Entries())
	m.publishLocked()
	return nil
}

// ClearEvents empties the event log
func (m *Monitor) ClearEvents() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.events.Len()
	m.events.Clear()
	m.log.Info().Int("cleared", n).Msg("event history cleared")
	m.flusher.MarkClearEvents()
	m.publishLocked()
	return nil
}

// DeviceEvents returns up to limit of the newest events for one identity,
// newest first. limit <= 0 returns all of them.
func (m *Monitor) DeviceEvents(id string, limit int) []device.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.ForDevice(id, limit)
}

// Close flushes pending state and closes every subscription. The gateway
// itself is left open for the caller to close.
func (m *Monitor) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := m.flusher.Close()
	m.broker.close()
	return err
}

// publishLocked builds and publishes a snapshot. Callers hold mu.
func (m *Monitor) publishLocked() {
	m.seq++

	storage := make(map[string]*device.StorageInfo, len(m.storage))
	for id, info := range m.storage {
		storage[id] = info.Clone()
	}

	s := &Snapshot{
		Seq:     m.seq,
		TakenAt: m.clock().UTC().Round(0),
		Devices: m.devices,
		Events:  m.events.Events(),
		Known:   m.ledger.Entries(),
		Storage: storage,
		Error:   m.lastErr,
		Warning: m.warningLocked(),
	}
	if s.Devices == nil {
		s.Devices = []device.ObservedDevice{}
	}
	if s.Events == nil {
		s.Events = []device.Event{}
	}

	m.snap.Store(s)
	m.broker.publish(s)
}

func (m *Monitor) warningLocked() string {
	if err := m.flusher.Err(); err != nil {
		return err.Error()
	}
	return m.loadWarn
}

// connectedIDs returns the retained identity set in order, for tests and
// diagnostics
func (m *Monitor) connectedIDs() []string {
	ids := make([]string, 0, len(m.prev))
	for id := range m.prev {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
