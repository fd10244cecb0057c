// Package capture locates the application window, captures its pixels and
// reads text from the image.
//
// A failed capture or an empty recognition is not an error for callers: it is
// the absence of evidence, and verification treats it as such.
package capture

import (
	"context"
	"errors"
	"strings"

	"kmsend/internal/automation"
)

// ErrUnsupportedPlatform is returned on systems without a capture backend.
var ErrUnsupportedPlatform = errors.New("capture: unsupported platform")

// WindowID identifies a window to the platform's capture tool.
type WindowID string

// Window is one on-screen window.
type Window struct {
	ID     WindowID `json:"id"`
	Owner  string   `json:"owner"`
	Title  string   `json:"title,omitempty"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

// Config selects the target window.
type Config struct {
	// OwnerNames are substrings of the owning application's name.
	OwnerNames []string `toml:"owner_names" json:"owner_names" yaml:"owner_names"`
	MinWidth   int      `toml:"min_width" json:"min_width" yaml:"min_width"`
	MinHeight  int      `toml:"min_height" json:"min_height" yaml:"min_height"`
}

// DefaultConfig matches the KakaoTalk main window in either locale.
func DefaultConfig() Config {
	return Config{
		OwnerNames: []string{"KakaoTalk", "카카오톡"},
		MinWidth:   200,
		MinHeight:  200,
	}
}

// Matches reports whether w is a main window of the target application.
// Both dimensions must strictly exceed the minimum.
func (c Config) Matches(w Window) bool {
	if w.Width <= c.MinWidth || w.Height <= c.MinHeight {
		return false
	}
	for _, owner := range c.OwnerNames {
		if owner != "" && strings.Contains(w.Owner, owner) {
			return true
		}
	}
	return false
}

// Select returns the first window that matches c.
func Select(windows []Window, c Config) (Window, bool) {
	for _, w := range windows {
		if c.Matches(w) {
			return w, true
		}
	}
	return Window{}, false
}

// Locator enumerates on-screen windows.
type Locator interface {
	ListWindows(ctx context.Context) ([]Window, error)
}

// Capturer returns a PNG image of a window. A nil image means nothing could
// be captured.
type Capturer interface {
	CaptureWindow(ctx context.Context, id WindowID) ([]byte, error)
}

// Recognizer reads text lines from an image. Lines are unordered and may be
// empty.
type Recognizer interface {
	RecognizeText(ctx context.Context, png []byte) ([]string, error)
}

// Finder locates the target window with a Locator and a Config.
type Finder struct {
	Locator Locator
	Config  Config
}

// FindWindow returns the first matching window. ok is false when none is
// shown.
func (f Finder) FindWindow(ctx context.Context) (Window, bool, error) {
	ws, err := f.Locator.ListWindows(ctx)
	if err != nil {
		return Window{}, false, err
	}
	w, ok := Select(ws, f.Config)
	return w, ok, nil
}

// NewLocator returns the platform window locator.
func NewLocator(r automation.Runner) (Locator, error) {
	if r == nil {
		r = automation.ExecRunner{}
	}
	return newPlatformLocator(r)
}

// NewCapturer returns the platform window capturer.
func NewCapturer(r automation.Runner) (Capturer, error) {
	if r == nil {
		r = automation.ExecRunner{}
	}
	return newPlatformCapturer(r)
}
