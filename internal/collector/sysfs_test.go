package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/devhistory/internal/cache"
	"github.com/sigreer/devhistory/internal/device"
)

const (
	idSanDisk  = `USB\VID_0781&PID_5581\4C530001`
	idReceiver = `USB\VID_046D&PID_C52B\1-3`
	idRootHub  = `USB\VID_1D6B&PID_0003\0000:00:14.0`
)

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, value := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644))
	}
}

// fakeTree lays out a minimal sysfs with a root hub, a flash drive that
// owns block device sdb, and a receiver that only udev can name
func fakeTree(t *testing.T) (sysRoot, udevRoot string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sysfs layout uses symlinks")
	}
	sysRoot = t.TempDir()
	udevRoot = t.TempDir()

	hub := filepath.Join(sysRoot, "devices", "pci0000:00", "0000:00:14.0", "usb1")
	writeAttrs(t, hub, map[string]string{
		"idVendor": "1d6b", "idProduct": "0003", "product": "xHCI Host Controller",
		"manufacturer": "Linux 6.8.0 xhci-hcd", "serial": "0000:00:14.0", "bDeviceClass": "09",
	})

	flash := filepath.Join(hub, "1-2")
	writeAttrs(t, flash, map[string]string{
		"idVendor": "0781", "idProduct": "5581", "product": "Ultra", "manufacturer": "SanDisk",
		"serial": "4C530001", "bDeviceClass": "00", "dev": "189:3",
	})
	writeAttrs(t, filepath.Join(flash, "1-2:1.0"), map[string]string{"bInterfaceClass": "08"})

	sdb := filepath.Join(flash, "1-2:1.0", "host3", "target3:0:0", "3:0:0:0", "block", "sdb")
	writeAttrs(t, sdb, map[string]string{"size": "125045424", "removable": "1"})
	writeAttrs(t, filepath.Join(sdb, "device"), map[string]string{"vendor": "SanDisk", "model": "Ultra", "rev": "1.00", "state": "running"})
	writeAttrs(t, filepath.Join(sdb, "sdb1"), map[string]string{"partition": "1"})

	receiver := filepath.Join(hub, "1-3")
	writeAttrs(t, receiver, map[string]string{
		"idVendor": "046d", "idProduct": "c52b", "bDeviceClass": "00", "dev": "189:4",
	})
	writeAttrs(t, filepath.Join(receiver, "1-3:1.0"), map[string]string{"bInterfaceClass": "03"})
	require.NoError(t, os.WriteFile(filepath.Join(udevRoot, "c189:4"), []byte(
		"I:12345\nE:ID_VENDOR=046d\nE:ID_VENDOR_FROM_DATABASE=Logitech, Inc.\nE:ID_MODEL_FROM_DATABASE=Unifying Receiver\nE:DRIVER=usb\n",
	), 0o644))

	bus := filepath.Join(sysRoot, "bus", "usb", "devices")
	require.NoError(t, os.MkdirAll(bus, 0o755))
	require.NoError(t, os.Symlink(hub, filepath.Join(bus, "usb1")))
	require.NoError(t, os.Symlink(flash, filepath.Join(bus, "1-2")))
	require.NoError(t, os.Symlink(filepath.Join(flash, "1-2:1.0"), filepath.Join(bus, "1-2:1.0")))
	require.NoError(t, os.Symlink(receiver, filepath.Join(bus, "1-3")))

	block := filepath.Join(sysRoot, "block")
	require.NoError(t, os.MkdirAll(block, 0o755))
	require.NoError(t, os.Symlink(sdb, filepath.Join(block, "sdb")))

	// a disk that belongs to no USB device
	sda := filepath.Join(sysRoot, "devices", "pci0000:00", "0000:00:17.0", "ata1", "block", "sda")
	writeAttrs(t, sda, map[string]string{"size": "1000"})
	require.NoError(t, os.Symlink(sda, filepath.Join(block, "sda")))

	return sysRoot, udevRoot
}

func newTestProvider(t *testing.T, run commandRunner) *sysfsProvider {
	sysRoot, udevRoot := fakeTree(t)
	p := newSysfsProvider(Options{SysfsRoot: sysRoot, UdevRoot: udevRoot, Log: zerolog.Nop()})
	p.run = run
	p.usage = func(ctx context.Context, mp string) (uint64, uint64, error) {
		return 63_000_000_000, 12_000_000_000, nil
	}
	return p
}

func TestEnumerate(t *testing.T) {
	p := newTestProvider(t, nil)

	devices, err := p.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	byID := make(map[string]device.ObservedDevice)
	for _, d := range devices {
		byID[d.ID] = d
	}

	flash := byID[idSanDisk]
	assert.Equal(t, "Ultra", flash.Name)
	assert.Equal(t, "MassStorage", flash.Class)
	assert.Equal(t, "0781:5581", device.Deref(flash.VidPid))
	assert.Equal(t, "SanDisk", device.Deref(flash.Manufacturer))

	receiver := byID[idReceiver]
	assert.Equal(t, "Unifying Receiver", receiver.Name)
	assert.Equal(t, "HIDClass", receiver.Class)
	assert.Equal(t, "Logitech, Inc.", device.Deref(receiver.Manufacturer))

	hub := byID[idRootHub]
	assert.Equal(t, "USBHub", hub.Class)

	assert.Equal(t, idReceiver, devices[0].ID, "sorted by identity")
}

func TestEnumerateMissingSysfs(t *testing.T) {
	p := newSysfsProvider(Options{SysfsRoot: filepath.Join(t.TempDir(), "nope"), Log: zerolog.Nop()})
	_, err := p.Enumerate(context.Background())
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "enumerate usb devices", perr.Op)
}

func TestStorageForUsesLsblk(t *testing.T) {
	var gotArgs []string
	p := newTestProvider(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(lsblkSample), nil
	})
	_, err := p.Enumerate(context.Background())
	require.NoError(t, err)

	info, err := p.StorageFor(context.Background(), idSanDisk)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "/dev/sdb", gotArgs[len(gotArgs)-1])
	assert.Equal(t, "SanDisk Ultra", info.Model)
	assert.Equal(t, uint64(64023257088), info.TotalBytes)
	assert.Equal(t, "USB", info.InterfaceType)
	assert.Equal(t, uint32(1), info.PartitionCount)
	require.Len(t, info.Volumes, 1)
	assert.Equal(t, "/media/user/BACKUP", info.Volumes[0].DriveLetter)
	assert.Equal(t, uint64(12_000_000_000), info.Volumes[0].FreeBytes)
	assert.GreaterOrEqual(t, info.TotalBytes, info.VolumeBytes())
}

func TestStorageForFallsBackToSysfs(t *testing.T) {
	p := newTestProvider(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exec: lsblk not found")
	})

	info, err := p.StorageFor(context.Background(), idSanDisk)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "SanDisk Ultra", info.Model)
	assert.Equal(t, uint64(125045424*512), info.TotalBytes)
	assert.Equal(t, "Removable Media", info.MediaType)
	assert.Equal(t, uint32(1), info.PartitionCount)
	assert.Empty(t, info.Volumes)
}

func TestStorageForNonStorageDevice(t *testing.T) {
	p := newTestProvider(t, nil)
	info, err := p.StorageFor(context.Background(), idReceiver)
	require.NoError(t, err)
	assert.Nil(t, info)

	info, err = p.StorageFor(context.Background(), `USB\VID_FFFF&PID_0000\GONE`)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestIdentityFallsBackToPort(t *testing.T) {
	d := &SysfsUSBDevice{PortName: "2-1.4", VendorID: "abcd", ProductID: "12ef", Serial: "has space"}
	assert.Equal(t, `USB\VID_ABCD&PID_12EF\2-1.4`, d.Identity())
}

func TestLsblkCachedWithinPollWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	runs := 0
	p := newTestProvider(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		runs++
		return []byte(lsblkSample), nil
	})
	p.paths.WithClock(clock)
	p.lsblk.WithClock(clock)

	ctx := context.Background()
	_, err := p.Enumerate(ctx)
	require.NoError(t, err)

	_, err = p.StorageFor(ctx, idSanDisk)
	require.NoError(t, err)
	_, err = p.StorageFor(ctx, idSanDisk)
	require.NoError(t, err)
	assert.Equal(t, 1, runs)

	// next enumeration evicts the expired tree, the next query reruns lsblk
	now = now.Add(cache.TTLFast + time.Millisecond)
	_, err = p.Enumerate(ctx)
	require.NoError(t, err)
	_, err = p.StorageFor(ctx, idSanDisk)
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
}
