package device

import "time"

// Event kinds
const (
	KindConnect    = "connect"
	KindDisconnect = "disconnect"
)

// ObservedDevice is one device as reported by a single enumeration.
// It is rebuilt every poll and never persisted.
type ObservedDevice struct {
	ID           string  `json:"device_id"`
	Name         string  `json:"name"`
	VidPid       *string `json:"vid_pid,omitempty"`
	Class        string  `json:"class"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	Description  string  `json:"description,omitempty"`

	// Category is filled in by the classifier, not the provider
	Category string `json:"category,omitempty"`
}

// VolumeInfo describes one mounted volume on a storage device
type VolumeInfo struct {
	DriveLetter  string `json:"drive_letter"` // "E:" on Windows, mount point elsewhere
	VolumeName   string `json:"volume_name"`
	TotalBytes   uint64 `json:"total_bytes"`
	FreeBytes    uint64 `json:"free_bytes"`
	FileSystem   string `json:"file_system"`
	VolumeSerial string `json:"volume_serial"`
}

// StorageInfo is disk-level metadata for a storage-class device
type StorageInfo struct {
	Model          string       `json:"model"`
	SerialNumber   string       `json:"serial_number"`
	TotalBytes     uint64       `json:"total_bytes"`
	InterfaceType  string       `json:"interface_type"`
	MediaType      string       `json:"media_type"`
	Firmware       string       `json:"firmware"`
	PartitionCount uint32       `json:"partition_count"`
	Status         string       `json:"status"`
	Volumes        []VolumeInfo `json:"volumes"`
}

// Clone returns a deep copy
func (s *StorageInfo) Clone() *StorageInfo {
	if s == nil {
		return nil
	}
	c := *s
	if s.Volumes != nil {
		c.Volumes = make([]VolumeInfo, len(s.Volumes))
		copy(c.Volumes, s.Volumes)
	}
	return &c
}

// VolumeBytes sums the capacity of all volumes
func (s *StorageInfo) VolumeBytes() uint64 {
	var total uint64
	for _, v := range s.Volumes {
		total += v.TotalBytes
	}
	return total
}

// Event is an immutable connect/disconnect record
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	VidPid       *string   `json:"vid_pid"`
	Manufacturer *string   `json:"manufacturer"`
	Class        string    `json:"class"`
	DeviceID     string    `json:"device_id"`
}

// KnownDevice is a ledger entry: everything remembered about a device
// that has ever been observed.
type KnownDevice struct {
	DeviceID           string       `json:"device_id"`
	Name               string       `json:"name"`
	VidPid             string       `json:"vid_pid"`
	Class              string       `json:"class"`
	Manufacturer       string       `json:"manufacturer"`
	Description        string       `json:"description"`
	FirstSeen          time.Time    `json:"first_seen"`
	LastSeen           time.Time    `json:"last_seen"`
	TimesSeen          uint32       `json:"times_seen"`
	CurrentlyConnected bool         `json:"currently_connected"`
	Nickname           *string      `json:"nickname"`
	StorageInfo        *StorageInfo `json:"storage_info"`

	// StorageStale marks StorageInfo as last-known rather than live
	StorageStale bool `json:"storage_stale"`
}

// Clone returns a deep copy
func (k *KnownDevice) Clone() KnownDevice {
	c := *k
	if k.Nickname != nil {
		nick := *k.Nickname
		c.Nickname = &nick
	}
	c.StorageInfo = k.StorageInfo.Clone()
	return c
}

// DisplayName prefers the user nickname over the reported name
func (k *KnownDevice) DisplayName() string {
	if k.Nickname != nil && *k.Nickname != "" {
		return *k.Nickname
	}
	return k.Name
}

// NewEvent builds an event for an observed device
func NewEvent(id string, ts time.Time, kind string, dev ObservedDevice) Event {
	return Event{
		ID:           id,
		Timestamp:    ts,
		Kind:         kind,
		Name:         dev.Name,
		VidPid:       dev.VidPid,
		Manufacturer: dev.Manufacturer,
		Class:        dev.Class,
		DeviceID:     dev.ID,
	}
}
