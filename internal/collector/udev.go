package collector

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// UdevDevice is the subset of a udev database record used for naming
// devices whose descriptors are sparse.
type UdevDevice struct {
	DevPath            string
	Subsystem          string
	Vendor             string // ID_VENDOR
	Model              string // ID_MODEL
	VendorFromDatabase string // ID_VENDOR_FROM_DATABASE
	ModelFromDatabase  string // ID_MODEL_FROM_DATABASE
	SerialShort        string // ID_SERIAL_SHORT
	Driver             string // DRIVER
	USBInterfaces      string // ID_USB_INTERFACES
}

// readUdevDevice reads /run/udev/data/<kind><maj:min> directly (no udevadm
// process). kind is "c" for character devices, "b" for block devices.
// Returns nil when the record does not exist.
func readUdevDevice(udevRoot, kind, majMin string) *UdevDevice {
	if majMin == "" {
		return nil
	}
	file, err := os.Open(filepath.Join(udevRoot, kind+majMin))
	if err != nil {
		return nil
	}
	defer file.Close()

	dev := &UdevDevice{}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		// Lines starting with E: are environment variables
		if !strings.HasPrefix(line, "E:") {
			continue
		}

		key, value, ok := strings.Cut(strings.TrimPrefix(line, "E:"), "=")
		if !ok {
			continue
		}

		switch key {
		case "DEVPATH":
			dev.DevPath = value
		case "SUBSYSTEM":
			dev.Subsystem = value
		case "ID_VENDOR":
			dev.Vendor = unescapeUdev(value)
		case "ID_MODEL":
			dev.Model = unescapeUdev(value)
		case "ID_VENDOR_FROM_DATABASE":
			dev.VendorFromDatabase = value
		case "ID_MODEL_FROM_DATABASE":
			dev.ModelFromDatabase = value
		case "ID_SERIAL_SHORT":
			dev.SerialShort = value
		case "DRIVER":
			dev.Driver = value
		case "ID_USB_INTERFACES":
			dev.USBInterfaces = value
		}
	}

	return dev
}

// unescapeUdev turns udev's underscore-for-space encoding back into text
func unescapeUdev(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}
