package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sigreer/devhistory/internal/cache"
	"github.com/sigreer/devhistory/internal/device"
)

// SysfsUSBDevice is one USB device as described by /sys/bus/usb/devices
// (no process spawning)
type SysfsUSBDevice struct {
	PortName       string // 1-2, usb1
	Path           string // resolved sysfs directory
	VendorID       string // idVendor, lowercase hex
	ProductID      string // idProduct
	Manufacturer   string
	Product        string
	Serial         string
	DeviceClass    string // bDeviceClass
	InterfaceClass string // bInterfaceClass of the first interface
	MajMin         string // dev
}

// Identity builds the platform identity, USB\VID_xxxx&PID_xxxx\<instance>.
// The instance is the serial number when the device reports one, otherwise
// its port path.
func (d *SysfsUSBDevice) Identity() string {
	instance := d.Serial
	if instance == "" || strings.ContainsAny(instance, ` \`) {
		instance = d.PortName
	}
	return fmt.Sprintf(`USB\VID_%s&PID_%s\%s`,
		strings.ToUpper(d.VendorID), strings.ToUpper(d.ProductID), instance)
}

// ClassName maps the USB class code to the class string reported upward.
// Composite devices (00, EF) take the class of their first interface.
func (d *SysfsUSBDevice) ClassName() string {
	code := strings.ToLower(d.DeviceClass)
	if code == "00" || code == "ef" || code == "" {
		code = strings.ToLower(d.InterfaceClass)
	}
	if name, ok := usbClassNames[code]; ok {
		return name
	}
	return "USB"
}

var usbClassNames = map[string]string{
	"01": "MEDIA",
	"02": "Ports",
	"03": "HIDClass",
	"05": "HIDClass",
	"06": "Image",
	"07": "Printer",
	"08": "MassStorage",
	"09": "USBHub",
	"0a": "Ports",
	"0b": "SmartCardReader",
	"0d": "Security",
	"0e": "Camera",
	"0f": "Health",
	"10": "AudioVideo",
	"11": "Billboard",
	"dc": "Diagnostic",
	"e0": "Bluetooth",
	"fe": "Application",
	"ff": "VendorSpecific",
}

// sysfsProvider enumerates USB devices from sysfs and the udev database and
// matches block devices to them for storage metadata.
type sysfsProvider struct {
	opts  Options
	log   zerolog.Logger
	run   commandRunner
	usage usageFunc

	// identity -> resolved sysfs directory, refreshed every enumeration
	paths *cache.Cache[string, string]
	// kernel block name -> parsed lsblk tree
	lsblk *cache.Cache[string, *lsblkDevice]
}

func newSysfsProvider(opts Options) *sysfsProvider {
	opts = opts.withDefaults()
	return &sysfsProvider{
		opts:  opts,
		log:   opts.Log.With().Str("provider", "sysfs").Logger(),
		run:   execRunner,
		usage: gopsutilUsage,
		paths: cache.New[string, string](),
		lsblk: cache.New[string, *lsblkDevice](),
	}
}

// Enumerate lists every USB device and root hub under /sys/bus/usb/devices.
// Interface entries (names containing ':') are skipped.
func (p *sysfsProvider) Enumerate(ctx context.Context) ([]device.ObservedDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// drop entries for devices that have gone away
	p.paths.Cleanup()
	p.lsblk.Cleanup()

	raw, err := p.collectUSBDevices()
	if err != nil {
		return nil, &ProviderError{Op: "enumerate usb devices", Err: err}
	}

	out := make([]device.ObservedDevice, 0, len(raw))
	for _, d := range raw {
		id := d.Identity()
		p.paths.Set(id, d.Path, cache.TTLMedium)
		out = append(out, p.observe(d, id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *sysfsProvider) observe(d *SysfsUSBDevice, id string) device.ObservedDevice {
	name := d.Product
	description := d.Product
	manufacturer := d.Manufacturer

	if udev := readUdevDevice(p.opts.UdevRoot, "c", d.MajMin); udev != nil {
		if udev.ModelFromDatabase != "" {
			description = udev.ModelFromDatabase
		}
		if name == "" {
			name = udev.Model
		}
		if manufacturer == "" {
			manufacturer = udev.VendorFromDatabase
		}
		if manufacturer == "" {
			manufacturer = udev.Vendor
		}
	}

	return device.ObservedDevice{
		ID:           id,
		Name:         device.DisplayName(name, description),
		VidPid:       device.VidPidFromID(id),
		Class:        device.ClassOrUnknown(d.ClassName()),
		Manufacturer: device.StringPtr(manufacturer),
		Description:  description,
	}
}

// collectUSBDevices reads every device directory under bus/usb/devices
func (p *sysfsProvider) collectUSBDevices() ([]*SysfsUSBDevice, error) {
	base := filepath.Join(p.opts.SysfsRoot, "bus", "usb", "devices")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	var devices []*SysfsUSBDevice
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue
		}
		if dev := collectUSBDevice(base, name); dev != nil {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

// collectUSBDevice gathers data for a single USB device from sysfs
func collectUSBDevice(base, name string) *SysfsUSBDevice {
	link := filepath.Join(base, name)
	path, err := filepath.EvalSymlinks(link)
	if err != nil {
		return nil
	}

	vid := readAttr(path, "idVendor")
	pid := readAttr(path, "idProduct")
	if vid == "" || pid == "" {
		return nil
	}

	dev := &SysfsUSBDevice{
		PortName:     name,
		Path:         path,
		VendorID:     vid,
		ProductID:    pid,
		Manufacturer: readAttr(path, "manufacturer"),
		Product:      readAttr(path, "product"),
		Serial:       readAttr(path, "serial"),
		DeviceClass:  readAttr(path, "bDeviceClass"),
		MajMin:       readAttr(path, "dev"),
	}

	// First interface, e.g. 1-2:1.0
	ifaces, _ := filepath.Glob(filepath.Join(path, name+":*"))
	sort.Strings(ifaces)
	for _, iface := range ifaces {
		if class := readAttr(iface, "bInterfaceClass"); class != "" {
			dev.InterfaceClass = class
			break
		}
	}

	return dev
}

// StorageFor finds the block device hanging off the USB device and
// describes it with lsblk, falling back to sysfs attributes.
func (p *sysfsProvider) StorageFor(ctx context.Context, id string) (*device.StorageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usbPath, ok := p.paths.Get(id)
	if !ok {
		if _, err := p.Enumerate(ctx); err != nil {
			return nil, err
		}
		if usbPath, ok = p.paths.Get(id); !ok {
			return nil, nil
		}
	}

	block := p.blockDeviceUnder(usbPath)
	if block == "" {
		return nil, nil
	}

	tree, err := p.lsblk.GetOrLoad(block, cache.TTLFast, func() (*lsblkDevice, error) {
		return runLsblk(ctx, p.run, p.opts.Lsblk, "/dev/"+block)
	})
	if err != nil {
		p.log.Debug().Err(err).Str("block", block).Msg("lsblk unavailable, using sysfs attributes")
		return p.storageFromSysfs(block), nil
	}
	return storageFromLsblk(ctx, tree, p.usage), nil
}

// blockDeviceUnder returns the first /sys/block entry whose resolved path
// lies below usbPath
func (p *sysfsProvider) blockDeviceUnder(usbPath string) string {
	base := filepath.Join(p.opts.SysfsRoot, "block")
	entries, err := os.ReadDir(base)
	if err != nil {
		return ""
	}
	prefix := usbPath + string(filepath.Separator)
	var names []string
	for _, entry := range entries {
		resolved, err := filepath.EvalSymlinks(filepath.Join(base, entry.Name()))
		if err != nil {
			continue
		}
		if strings.HasPrefix(resolved, prefix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// storageFromSysfs builds a volume-less description from block attributes
func (p *sysfsProvider) storageFromSysfs(block string) *device.StorageInfo {
	blockPath := filepath.Join(p.opts.SysfsRoot, "block", block)
	devicePath := filepath.Join(blockPath, "device")

	info := &device.StorageInfo{
		Model:         strings.TrimSpace(readAttr(devicePath, "vendor") + " " + readAttr(devicePath, "model")),
		Firmware:      readAttr(devicePath, "rev"),
		InterfaceType: "USB",
		MediaType:     mediaType(readAttr(blockPath, "removable") == "1"),
		Status:        diskStatus(readAttr(devicePath, "state")),
		Volumes:       []device.VolumeInfo{},
	}

	// Size (in 512-byte sectors)
	if size, err := strconv.ParseUint(readAttr(blockPath, "size"), 10, 64); err == nil {
		info.TotalBytes = size * 512
	}

	parts, _ := filepath.Glob(filepath.Join(blockPath, block+"*"))
	for _, part := range parts {
		if readAttr(part, "partition") != "" {
			info.PartitionCount++
		}
	}
	return info
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
