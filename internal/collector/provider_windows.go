//go:build windows

package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/yusufpapurcu/wmi"

	"github.com/sigreer/devhistory/internal/device"
)

type win32PnPEntity struct {
	Name         *string
	DeviceID     *string
	Description  *string
	Manufacturer *string
	PNPClass     *string
}

type win32DiskDrive struct {
	DeviceID         string
	Index            uint32
	PNPDeviceID      *string
	Model            *string
	SerialNumber     *string
	Size             *uint64
	InterfaceType    *string
	MediaType        *string
	Partitions       *uint32
	FirmwareRevision *string
	Status           *string
}

type win32Association struct {
	Antecedent string
	Dependent  string
}

type win32LogicalDisk struct {
	DeviceID           string
	VolumeName         *string
	Size               *uint64
	FreeSpace          *uint64
	FileSystem         *string
	VolumeSerialNumber *string
}

// wmiProvider enumerates Win32_PnPEntity and matches Win32_DiskDrive rows
// to USB identities
type wmiProvider struct {
	log zerolog.Logger
}

// New returns the WMI provider
func New(opts Options) (Provider, error) {
	return &wmiProvider{log: opts.Log.With().Str("provider", "wmi").Logger()}, nil
}

func (p *wmiProvider) Enumerate(ctx context.Context) ([]device.ObservedDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entities []win32PnPEntity
	err := wmi.Query("SELECT Name, DeviceID, Description, Manufacturer, PNPClass FROM Win32_PnPEntity WHERE DeviceID LIKE 'USB%'", &entities)
	if err != nil {
		return nil, &ProviderError{Op: "query Win32_PnPEntity", Err: err}
	}

	out := make([]device.ObservedDevice, 0, len(entities))
	for _, e := range entities {
		id := device.Deref(e.DeviceID)
		if id == "" {
			continue
		}
		description := device.Deref(e.Description)
		out = append(out, device.ObservedDevice{
			ID:           id,
			Name:         device.DisplayName(device.Deref(e.Name), description),
			VidPid:       device.VidPidFromID(id),
			Class:        device.ClassOrUnknown(device.Deref(e.PNPClass)),
			Manufacturer: device.StringPtr(device.Deref(e.Manufacturer)),
			Description:  description,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *wmiProvider) StorageFor(ctx context.Context, id string) (*device.StorageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usbSerial := instanceSerial(id)
	if usbSerial == "" {
		return nil, nil
	}

	var drives []win32DiskDrive
	err := wmi.Query("SELECT DeviceID, Index, PNPDeviceID, Model, SerialNumber, Size, InterfaceType, MediaType, Partitions, FirmwareRevision, Status FROM Win32_DiskDrive", &drives)
	if err != nil {
		return nil, &ProviderError{Op: "query Win32_DiskDrive", Err: err}
	}

	var matched *win32DiskDrive
	for i := range drives {
		d := &drives[i]
		if serialMatches(device.Deref(d.SerialNumber), usbSerial) ||
			strings.Contains(strings.ToUpper(device.Deref(d.PNPDeviceID)), usbSerial) {
			matched = d
			break
		}
	}
	if matched == nil {
		p.log.Debug().Str("device_id", id).Int("drives", len(drives)).Msg("no disk drive matched")
		return nil, nil
	}

	volumes, err := p.volumesFor(matched.Index)
	if err != nil {
		p.log.Debug().Err(err).Uint32("index", matched.Index).Msg("volume lookup failed")
	}

	info := &device.StorageInfo{
		Model:         device.Deref(matched.Model),
		SerialNumber:  strings.TrimSpace(device.Deref(matched.SerialNumber)),
		InterfaceType: device.Deref(matched.InterfaceType),
		MediaType:     device.Deref(matched.MediaType),
		Firmware:      device.Deref(matched.FirmwareRevision),
		Status:        device.Deref(matched.Status),
		Volumes:       volumes,
	}
	if matched.Size != nil {
		info.TotalBytes = *matched.Size
	}
	if matched.Partitions != nil {
		info.PartitionCount = *matched.Partitions
	}
	return info, nil
}

// volumesFor follows disk -> partition -> logical disk associations for one
// physical drive index
func (p *wmiProvider) volumesFor(index uint32) ([]device.VolumeInfo, error) {
	volumes := []device.VolumeInfo{}

	var driveToPartition []win32Association
	if err := wmi.Query("SELECT Antecedent, Dependent FROM Win32_DiskDriveToDiskPartition", &driveToPartition); err != nil {
		return volumes, fmt.Errorf("failed to query drive to disk partition: %w", err)
	}

	var partitionToLogical []win32Association
	if err := wmi.Query("SELECT Antecedent, Dependent FROM Win32_LogicalDiskToPartition", &partitionToLogical); err != nil {
		return volumes, fmt.Errorf("failed to query partition to logical: %w", err)
	}

	partitions := make(map[string]bool)
	for _, d := range driveToPartition {
		if extractDriveIndex(d.Antecedent) == int(index) {
			if part := extractPartitionName(d.Dependent); part != "" {
				partitions[part] = true
			}
		}
	}

	var letters []string
	for _, l := range partitionToLogical {
		if partitions[extractPartitionName(l.Antecedent)] {
			if letter := extractDriveLetter(l.Dependent); letter != "" {
				letters = append(letters, letter)
			}
		}
	}
	if len(letters) == 0 {
		return volumes, nil
	}
	sort.Strings(letters)

	var disks []win32LogicalDisk
	if err := wmi.Query("SELECT DeviceID, VolumeName, Size, FreeSpace, FileSystem, VolumeSerialNumber FROM Win32_LogicalDisk", &disks); err != nil {
		return volumes, fmt.Errorf("failed to query logical disks: %w", err)
	}
	byLetter := make(map[string]win32LogicalDisk, len(disks))
	for _, d := range disks {
		byLetter[strings.ToUpper(d.DeviceID)] = d
	}

	for _, letter := range letters {
		v := device.VolumeInfo{DriveLetter: letter}
		if d, ok := byLetter[letter]; ok {
			v.VolumeName = device.Deref(d.VolumeName)
			v.FileSystem = device.Deref(d.FileSystem)
			v.VolumeSerial = device.Deref(d.VolumeSerialNumber)
			if d.Size != nil {
				v.TotalBytes = *d.Size
			}
			if d.FreeSpace != nil {
				v.FreeBytes = *d.FreeSpace
			}
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}
