package monitor

import (
	"sort"

	"github.com/sigreer/devhistory/internal/device"
)

// Diff computes presence transitions between the identity set retained from
// the previous cycle and a fresh enumeration. Devices present in both
// produce nothing, even if their metadata changed. Both results are ordered
// by identity.
func Diff(prev map[string]struct{}, cur []device.ObservedDevice) (connected []device.ObservedDevice, disconnected []string) {
	seen := make(map[string]struct{}, len(cur))
	for _, d := range cur {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		if _, ok := prev[d.ID]; !ok {
			connected = append(connected, d)
		}
	}
	for id := range prev {
		if _, ok := seen[id]; !ok {
			disconnected = append(disconnected, id)
		}
	}

	sort.Slice(connected, func(i, j int) bool { return connected[i].ID < connected[j].ID })
	sort.Strings(disconnected)
	return connected, disconnected
}

// identitySet builds the retained set from an enumeration
func identitySet(devs []device.ObservedDevice) map[string]struct{} {
	set := make(map[string]struct{}, len(devs))
	for _, d := range devs {
		set[d.ID] = struct{}{}
	}
	return set
}

// dedupe drops repeated identities, keeping the first occurrence
func dedupe(devs []device.ObservedDevice) []device.ObservedDevice {
	seen := make(map[string]struct{}, len(devs))
	out := devs[:0:0]
	for _, d := range devs {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}
