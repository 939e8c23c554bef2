package monitor

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sigreer/devhistory/internal/device"
)

// Snapshot is an immutable, point-in-time view of the monitor. Consumers
// must not modify any part of it.
type Snapshot struct {
	Seq     uint64                         `json:"seq"`
	TakenAt time.Time                      `json:"taken_at"`
	Devices []device.ObservedDevice        `json:"devices"`
	Events  []device.Event                 `json:"events"`
	Known   map[string]device.KnownDevice  `json:"known"`
	Storage map[string]*device.StorageInfo `json:"storage"`

	// Error is the last enumeration failure, empty once a poll succeeds
	Error string `json:"error,omitempty"`
	// Warning is the last persistence failure
	Warning string `json:"warning,omitempty"`
}

// sortForDisplay orders devices case-insensitively by name, then identity
func sortForDisplay(devs []device.ObservedDevice) []device.ObservedDevice {
	out := make([]device.ObservedDevice, len(devs))
	copy(out, devs)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// broker fans snapshots out to subscribers. Each subscriber holds at most
// one undelivered snapshot; a newer one replaces it.
type broker struct {
	mu     sync.Mutex
	subs   map[int]chan *Snapshot
	next   int
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan *Snapshot)}
}

// subscribe registers a subscriber and primes it with current, if any.
// The returned cancel func closes the channel.
func (b *broker) subscribe(current *Snapshot) (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if current != nil {
		ch <- current
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks
func (b *broker) publish(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// drop the stale value and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
