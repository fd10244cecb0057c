//go:build linux

package capture

import "kmsend/internal/automation"

func newPlatformLocator(r automation.Runner) (Locator, error) {
	return X11Locator{Runner: r}, nil
}

func newPlatformCapturer(r automation.Runner) (Capturer, error) {
	return ImportCapturer{Runner: r}, nil
}
