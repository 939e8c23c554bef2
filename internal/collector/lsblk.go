package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/sigreer/devhistory/internal/device"
)

const lsblkColumns = "NAME,KNAME,PATH,TYPE,SIZE,SERIAL,MODEL,VENDOR,REV,TRAN,STATE,RM,FSTYPE,LABEL,UUID,MOUNTPOINT"

// commandRunner runs an external command and returns its stdout
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// usageFunc reports total and free bytes of a mounted filesystem
type usageFunc func(ctx context.Context, mountpoint string) (total, free uint64, err error)

func gopsutilUsage(ctx context.Context, mountpoint string) (uint64, uint64, error) {
	u, err := disk.UsageWithContext(ctx, mountpoint)
	if err != nil {
		return 0, 0, err
	}
	return u.Total, u.Free, nil
}

// lsblkOutput represents the JSON output from lsblk
type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

// lsblkDevice represents a single device in lsblk output. Column types vary
// between util-linux releases, hence the flexible number and bool fields.
type lsblkDevice struct {
	Name        string        `json:"name"`
	Kname       string        `json:"kname"`
	Path        string        `json:"path"`
	Type        string        `json:"type"`
	Size        flexUint64    `json:"size"`
	Serial      string        `json:"serial"`
	Model       string        `json:"model"`
	Vendor      string        `json:"vendor"`
	Rev         string        `json:"rev"`
	Tran        string        `json:"tran"`
	State       string        `json:"state"`
	RM          flexBool      `json:"rm"`
	FSType      string        `json:"fstype"`
	Label       string        `json:"label"`
	UUID        string        `json:"uuid"`
	Mountpoint  string        `json:"mountpoint"`
	Mountpoints []*string     `json:"mountpoints"`
	Children    []lsblkDevice `json:"children,omitempty"`
}

// mountpoint returns the first mount point, whichever column form lsblk used
func (d lsblkDevice) mountpoint() string {
	if d.Mountpoint != "" {
		return d.Mountpoint
	}
	for _, m := range d.Mountpoints {
		if m != nil && *m != "" {
			return *m
		}
	}
	return ""
}

// flexUint64 accepts a JSON number, a numeric string or null
type flexUint64 uint64

func (f *flexUint64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("lsblk size %q: %w", s, err)
	}
	*f = flexUint64(n)
	return nil
}

// flexBool accepts true/false, "1"/"0" or null
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(b)), `"`) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// runLsblk queries one block device, e.g. /dev/sdb
func runLsblk(ctx context.Context, run commandRunner, bin, devPath string) (*lsblkDevice, error) {
	out, err := run(ctx, bin, "-J", "-b", "-o", lsblkColumns, devPath)
	if err != nil {
		return nil, fmt.Errorf("lsblk %s: %w", devPath, err)
	}
	return parseLsblk(out)
}

func parseLsblk(out []byte) (*lsblkDevice, error) {
	var output lsblkOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, fmt.Errorf("decode lsblk output: %w", err)
	}
	for i := range output.Blockdevices {
		if output.Blockdevices[i].Type == "disk" {
			return &output.Blockdevices[i], nil
		}
	}
	return nil, fmt.Errorf("lsblk output has no disk")
}

// storageFromLsblk maps an lsblk disk tree to StorageInfo. Mounted
// partitions, or the disk itself when it carries a filesystem directly,
// become volumes.
func storageFromLsblk(ctx context.Context, d *lsblkDevice, usage usageFunc) *device.StorageInfo {
	info := &device.StorageInfo{
		Model:         strings.TrimSpace(strings.TrimSpace(d.Vendor) + " " + strings.TrimSpace(d.Model)),
		SerialNumber:  strings.TrimSpace(d.Serial),
		TotalBytes:    uint64(d.Size),
		InterfaceType: strings.ToUpper(d.Tran),
		MediaType:     mediaType(bool(d.RM)),
		Firmware:      strings.TrimSpace(d.Rev),
		Status:        diskStatus(d.State),
		Volumes:       []device.VolumeInfo{},
	}

	if v, ok := volumeFrom(ctx, *d, usage); ok {
		info.Volumes = append(info.Volumes, v)
	}
	for _, child := range d.Children {
		if child.Type != "part" {
			continue
		}
		info.PartitionCount++
		if v, ok := volumeFrom(ctx, child, usage); ok {
			info.Volumes = append(info.Volumes, v)
		}
	}

	return info
}

func volumeFrom(ctx context.Context, d lsblkDevice, usage usageFunc) (device.VolumeInfo, bool) {
	mp := d.mountpoint()
	if mp == "" || mp == "[SWAP]" {
		return device.VolumeInfo{}, false
	}
	v := device.VolumeInfo{
		DriveLetter:  mp,
		VolumeName:   d.Label,
		TotalBytes:   uint64(d.Size),
		FileSystem:   d.FSType,
		VolumeSerial: d.UUID,
	}
	if usage != nil {
		if total, free, err := usage(ctx, mp); err == nil {
			v.TotalBytes = total
			v.FreeBytes = free
		}
	}
	return v, true
}

func mediaType(removable bool) string {
	if removable {
		return "Removable Media"
	}
	return "Fixed hard disk media"
}

func diskStatus(state string) string {
	switch state {
	case "running", "live", "":
		return "OK"
	default:
		return state
	}
}
