package store

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sigreer/devhistory/internal/device"
)

// Flusher moves persistence off the mutation path. Callers mark what changed
// and return immediately; a background goroutine writes it through the
// Gateway. Failed writes stay pending and are retried on the next mark.
// Close performs a final synchronous flush so nothing marked before a clean
// exit is lost.
type Flusher struct {
	gw  Gateway
	log zerolog.Logger

	mu          sync.Mutex
	ledger      map[string]device.KnownDevice
	ledgerDirty bool
	clear       bool
	events      []device.Event
	lastErr     error

	flushMu sync.Mutex
	kick    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewFlusher starts the background writer
func NewFlusher(gw Gateway, log zerolog.Logger) *Flusher {
	f := &Flusher{
		gw:      gw,
		log:     log,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go f.loop()
	return f
}

// MarkLedger queues a full ledger image for saving. Only the newest image
// is written.
func (f *Flusher) MarkLedger(devices map[string]device.KnownDevice) {
	f.mu.Lock()
	f.ledger = devices
	f.ledgerDirty = true
	f.mu.Unlock()
	f.signal()
}

// MarkEvents queues events for appending, in order
func (f *Flusher) MarkEvents(events []device.Event) {
	if len(events) == 0 {
		return
	}
	f.mu.Lock()
	f.events = append(f.events, events...)
	f.mu.Unlock()
	f.signal()
}

// MarkClearEvents queues a history wipe. Events marked earlier and not yet
// written are dropped.
func (f *Flusher) MarkClearEvents() {
	f.mu.Lock()
	f.clear = true
	f.events = nil
	f.mu.Unlock()
	f.signal()
}

// Err returns the error from the most recent write attempt, nil once a
// write succeeds
func (f *Flusher) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Pending reports whether anything is waiting to be written
func (f *Flusher) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledgerDirty || f.clear || len(f.events) > 0
}

// Flush writes everything pending and returns the first error
func (f *Flusher) Flush() error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	f.mu.Lock()
	ledger, ledgerDirty := f.ledger, f.ledgerDirty
	clear, events := f.clear, f.events
	f.ledger, f.ledgerDirty = nil, false
	f.clear, f.events = false, nil
	f.mu.Unlock()

	if !ledgerDirty && !clear && len(events) == 0 {
		return nil
	}

	var firstErr error
	if clear {
		if err := f.gw.ClearEvents(); err != nil {
			firstErr = err
			f.requeueClear(events)
			events = nil
		}
	}
	if len(events) > 0 {
		if err := f.gw.AppendEvents(events); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			f.requeueEvents(events)
		}
	}
	if ledgerDirty {
		if err := f.gw.SaveLedger(ledger); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			f.requeueLedger(ledger)
		}
	}

	f.mu.Lock()
	f.lastErr = firstErr
	f.mu.Unlock()

	if firstErr != nil {
		f.log.Warn().Err(firstErr).Msg("persist failed; will retry on next change")
	}
	return firstErr
}

// requeueClear restores a failed wipe ahead of any events marked since
func (f *Flusher) requeueClear(events []device.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clear {
		return
	}
	f.clear = true
	f.events = append(events, f.events...)
}

func (f *Flusher) requeueEvents(events []device.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clear {
		// a wipe was marked while this write was failing
		return
	}
	f.events = append(events, f.events...)
}

func (f *Flusher) requeueLedger(ledger map[string]device.KnownDevice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ledgerDirty {
		return
	}
	f.ledger = ledger
	f.ledgerDirty = true
}

// Close stops the background writer and flushes synchronously
func (f *Flusher) Close() error {
	f.once.Do(func() { close(f.done) })
	<-f.stopped
	return f.Flush()
}

func (f *Flusher) signal() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *Flusher) loop() {
	defer close(f.stopped)
	for {
		select {
		case <-f.done:
			return
		case <-f.kick:
			_ = f.Flush()
		}
	}
}
