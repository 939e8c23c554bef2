//go:build !linux && !windows

package collector

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sigreer/devhistory/internal/device"
)

type unsupportedProvider struct{}

// New returns a provider whose every query fails; the monitor keeps running
// and surfaces the error in each snapshot.
func New(opts Options) (Provider, error) {
	return unsupportedProvider{}, nil
}

func (unsupportedProvider) Enumerate(ctx context.Context) ([]device.ObservedDevice, error) {
	return nil, &ProviderError{Op: "enumerate usb devices", Err: fmt.Errorf("unsupported platform %s", runtime.GOOS)}
}

func (unsupportedProvider) StorageFor(ctx context.Context, id string) (*device.StorageInfo, error) {
	return nil, nil
}
