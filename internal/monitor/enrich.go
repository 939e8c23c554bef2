package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/sigreer/devhistory/internal/device"
)

// enrichTask re-queries storage for a freshly attached drive whose volumes
// were not mounted yet at connect time
type enrichTask struct {
	due      time.Time
	attempts int
}

// queueEnrich schedules a retry; poll loop only
func (m *Monitor) queueEnrich(id string) {
	if _, ok := m.pending[id]; ok {
		return
	}
	m.pending[id] = &enrichTask{due: m.clock().Add(m.enrichDelay)}
}

// runEnrichment re-queries every due task whose device is still present.
// Tasks for absent devices are dropped. Runs outside the lock.
func (m *Monitor) runEnrichment(ctx context.Context, present map[string]struct{}) map[string]*device.StorageInfo {
	if len(m.pending) == 0 {
		return nil
	}

	now := m.clock()
	var due []string
	for id, task := range m.pending {
		if _, ok := present[id]; !ok {
			delete(m.pending, id)
			continue
		}
		if !now.Before(task.due) {
			due = append(due, id)
		}
	}
	sort.Strings(due)

	results := make(map[string]*device.StorageInfo)
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		task := m.pending[id]
		task.attempts++

		info := m.fetchStorage(ctx, id)
		if info != nil {
			results[id] = info
		}

		switch {
		case info != nil && len(info.Volumes) > 0:
			delete(m.pending, id)
		case task.attempts >= m.enrichAttempts:
			m.log.Debug().Str("device_id", id).Int("attempts", task.attempts).Msg("enrichment gave up")
			delete(m.pending, id)
		default:
			task.due = now.Add(m.enrichDelay)
		}
	}
	return results
}

// applyEnrichmentLocked stores fresh storage info for devices still known.
// Returns true if the ledger changed.
func (m *Monitor) applyEnrichmentLocked(results map[string]*device.StorageInfo) bool {
	changed := false
	for id, info := range results {
		if !m.ledger.SetStorage(id, info) {
			continue
		}
		m.storage[id] = info
		changed = true
		m.log.Debug().
			Str("device_id", id).
			Int("volumes", len(info.Volumes)).
			Uint64("total_bytes", info.TotalBytes).
			Msg("storage enriched")
	}
	return changed
}

// pendingEnrichments reports queued identities, for tests
func (m *Monitor) pendingEnrichments() []string {
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
