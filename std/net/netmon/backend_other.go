//go:build !linux

package netmon

import (
	"errors"
	"fmt"
	"runtime"
)

func newPlatformBackend(*Config, *Signals, func(error)) (backend, error) {
	return nil, fmt.Errorf("no network monitor for %s: %w", runtime.GOOS, errors.ErrUnsupported)
}
