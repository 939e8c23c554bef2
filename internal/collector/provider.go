// Package collector queries the host for attached USB devices and, for
// storage-class devices, their disk and volume metadata. It is read-only
// and keeps no state beyond short-lived lookup caches.
package collector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sigreer/devhistory/internal/device"
)

// Provider enumerates present devices. Implementations are safe to call
// from one goroutine at a time at poll rate.
type Provider interface {
	// Enumerate returns every device currently attached
	Enumerate(ctx context.Context) ([]device.ObservedDevice, error)

	// StorageFor returns disk metadata for a present storage-class device,
	// or nil when no disk could be matched to it
	StorageFor(ctx context.Context, id string) (*device.StorageInfo, error)
}

// ProviderError reports a failed platform query
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Options configures the platform provider
type Options struct {
	// SysfsRoot and UdevRoot relocate /sys and /run/udev/data (Linux only)
	SysfsRoot string
	UdevRoot  string

	// Lsblk is the lsblk binary used for disk metadata (Linux only)
	Lsblk string

	Log zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.SysfsRoot == "" {
		o.SysfsRoot = "/sys"
	}
	if o.UdevRoot == "" {
		o.UdevRoot = "/run/udev/data"
	}
	if o.Lsblk == "" {
		o.Lsblk = "lsblk"
	}
	return o
}
