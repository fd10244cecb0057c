//go:build !linux && !darwin

package progress

import "errors"

func newPlatformNotifier() (Notifier, error) {
	return nil, errors.New("progress: desktop notifications unsupported on this platform")
}
