package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/devhistory/internal/device"
)

// flakyGateway wraps a JSONStore and fails writes while failing is set
type flakyGateway struct {
	*JSONStore
	mu      sync.Mutex
	failing bool
	saves   int
}

func (g *flakyGateway) setFailing(v bool) {
	g.mu.Lock()
	g.failing = v
	g.mu.Unlock()
}

func (g *flakyGateway) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing {
		return &PersistenceError{Op: "save", Err: errors.New("disk full")}
	}
	return nil
}

func (g *flakyGateway) SaveLedger(d map[string]device.KnownDevice) error {
	if err := g.check(); err != nil {
		return err
	}
	g.mu.Lock()
	g.saves++
	g.mu.Unlock()
	return g.JSONStore.SaveLedger(d)
}

func (g *flakyGateway) AppendEvents(ev []device.Event) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.JSONStore.AppendEvents(ev)
}

func (g *flakyGateway) ClearEvents() error {
	if err := g.check(); err != nil {
		return err
	}
	return g.JSONStore.ClearEvents()
}

func newFlaky(t *testing.T) *flakyGateway {
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	return &flakyGateway{JSONStore: s}
}

func TestFlusherCloseWritesEverything(t *testing.T) {
	gw := newFlaky(t)
	f := NewFlusher(gw, zerolog.Nop())

	ts := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	f.MarkLedger(sampleLedger())
	f.MarkEvents([]device.Event{{ID: "1", Timestamp: ts, Kind: device.KindConnect, DeviceID: "A"}})
	f.MarkEvents([]device.Event{{ID: "2", Timestamp: ts, Kind: device.KindDisconnect, DeviceID: "A"}})
	require.NoError(t, f.Close())
	assert.False(t, f.Pending())

	ledger, err := gw.LoadLedger()
	require.NoError(t, err)
	assert.Equal(t, sampleLedger(), ledger)

	events, err := gw.LoadEvents()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "2", events[1].ID)
}

func TestFlusherRetriesAfterFailure(t *testing.T) {
	gw := newFlaky(t)
	f := NewFlusher(gw, zerolog.Nop())
	defer f.Close()

	gw.setFailing(true)
	f.MarkLedger(sampleLedger())
	err := f.Flush()
	require.Error(t, err)
	var perr *PersistenceError
	assert.ErrorAs(t, f.Err(), &perr)
	assert.True(t, f.Pending(), "failed write stays pending")

	gw.setFailing(false)
	require.NoError(t, f.Flush())
	assert.NoError(t, f.Err())
	assert.False(t, f.Pending())

	ledger, err := gw.LoadLedger()
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
}

func TestFlusherClearDropsEarlierEvents(t *testing.T) {
	gw := newFlaky(t)
	require.NoError(t, gw.AppendEvents([]device.Event{{ID: "old", Kind: device.KindConnect}}))

	f := NewFlusher(gw, zerolog.Nop())
	gw.setFailing(true)
	f.MarkEvents([]device.Event{{ID: "dropped", Kind: device.KindConnect}})
	f.MarkClearEvents()
	f.MarkEvents([]device.Event{{ID: "kept", Kind: device.KindConnect}})
	_ = f.Flush()

	gw.setFailing(false)
	require.NoError(t, f.Close())

	events, err := gw.LoadEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].ID)
}

func TestFlusherCoalescesLedgerImages(t *testing.T) {
	gw := newFlaky(t)
	gw.setFailing(true)
	f := NewFlusher(gw, zerolog.Nop())

	for i := 0; i < 5; i++ {
		f.MarkLedger(sampleLedger())
	}
	gw.setFailing(false)
	require.NoError(t, f.Close())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.LessOrEqual(t, gw.saves, 1)
}
