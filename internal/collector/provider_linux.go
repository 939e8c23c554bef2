//go:build linux

package collector

// New returns the sysfs/udev provider
func New(opts Options) (Provider, error) {
	return newSysfsProvider(opts), nil
}
