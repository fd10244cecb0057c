//go:build !darwin && !linux

package capture

import "kmsend/internal/automation"

func newPlatformLocator(automation.Runner) (Locator, error) {
	return nil, ErrUnsupportedPlatform
}

func newPlatformCapturer(automation.Runner) (Capturer, error) {
	return nil, ErrUnsupportedPlatform
}
