//go:build darwin

package capture

import "kmsend/internal/automation"

func newPlatformLocator(r automation.Runner) (Locator, error) {
	return QuartzLocator{Runner: r}, nil
}

func newPlatformCapturer(r automation.Runner) (Capturer, error) {
	return ScreenCapturer{Runner: r}, nil
}
