// Package automation drives the chat application's user interface through the
// operating system: activation, synthetic keys, menu paste and the clipboard.
//
// Drivers are best effort. A call returns an error only when the underlying
// tool fails outright; a key press that the application ignores is not
// observable here and is caught later by verification.
package automation

import (
	"context"
	"errors"
	"time"

	"github.com/atotto/clipboard"
)

// ErrUnsupportedPlatform is returned by New on systems without a driver.
var ErrUnsupportedPlatform = errors.New("automation: unsupported platform")

// Key is a named key understood by every driver.
type Key string

const (
	KeyEnter     Key = "enter"
	KeyEscape    Key = "escape"
	KeyDown      Key = "down"
	KeyUp        Key = "up"
	KeyBackspace Key = "backspace"
	KeyTab       Key = "tab"
)

// Adapter is the set of UI actions the delivery pipeline needs.
type Adapter interface {
	// Activate brings the application to the foreground, opening a main
	// window if none is shown. It reports whether the application came up.
	Activate(ctx context.Context) (bool, error)

	// AssertFocus makes the application process frontmost again.
	AssertFocus(ctx context.Context) error

	// InjectPaste pastes the clipboard into the focused field.
	InjectPaste(ctx context.Context) error

	PressKey(ctx context.Context, k Key) error

	// OpenSearch shows the contact list and focuses its search field.
	OpenSearch(ctx context.Context) error

	// ClearQuery removes any text left in the focused search field.
	ClearQuery(ctx context.Context) error

	// SelectNextResult moves the result cursor down one row.
	SelectNextResult(ctx context.Context) error

	// OpenSelected opens the chat for the selected result.
	OpenSelected(ctx context.Context) error

	// Submit sends the composed message.
	Submit(ctx context.Context) error

	// CloseOverlay dismisses the chat window and the search overlay.
	CloseOverlay(ctx context.Context) error

	// ShowBaseline returns to the contact list tab.
	ShowBaseline(ctx context.Context) error
}

// Clipboard writes text to the shared system clipboard.
type Clipboard interface {
	WriteText(text string) error
}

// SystemClipboard uses the platform clipboard (pbcopy, xclip, xsel or the
// Windows API, chosen by atotto/clipboard).
type SystemClipboard struct{}

// WriteText replaces the clipboard contents.
func (SystemClipboard) WriteText(text string) error {
	if clipboard.Unsupported {
		return errors.New("clipboard: no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

// ReadText returns the clipboard contents.
func (SystemClipboard) ReadText() (string, error) {
	return clipboard.ReadAll()
}

// Config controls which application the drivers target.
type Config struct {
	// AppName is the application bundle name used by osascript.
	AppName string `toml:"app_name" json:"app_name" yaml:"app_name"`

	// ProcessName is the System Events process name on macOS.
	ProcessName string `toml:"process_name" json:"process_name" yaml:"process_name"`

	// WindowClass is the X11 class matched by xdotool on Linux.
	WindowClass string `toml:"window_class" json:"window_class" yaml:"window_class"`

	// KeyDelay is the pause inside scripts between consecutive keys.
	KeyDelay time.Duration `toml:"key_delay" json:"key_delay" yaml:"key_delay"`

	// PasteMenus lists (menu, item) pairs tried in order for menu paste.
	PasteMenus []MenuItem `toml:"paste_menus" json:"paste_menus" yaml:"paste_menus"`
}

// MenuItem names a menu bar item.
type MenuItem struct {
	Menu string `toml:"menu" json:"menu" yaml:"menu"`
	Item string `toml:"item" json:"item" yaml:"item"`
}

// DefaultConfig targets the KakaoTalk desktop client in Korean or English.
func DefaultConfig() Config {
	return Config{
		AppName:     "KakaoTalk",
		ProcessName: "KakaoTalk",
		WindowClass: "KakaoTalk",
		KeyDelay:    300 * time.Millisecond,
		PasteMenus: []MenuItem{
			{Menu: "편집", Item: "붙여넣기"},
			{Menu: "편집", Item: "Paste"},
			{Menu: "Edit", Item: "Paste"},
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AppName == "" {
		c.AppName = def.AppName
	}
	if c.ProcessName == "" {
		c.ProcessName = c.AppName
	}
	if c.WindowClass == "" {
		c.WindowClass = c.AppName
	}
	if c.KeyDelay <= 0 {
		c.KeyDelay = def.KeyDelay
	}
	if len(c.PasteMenus) == 0 {
		c.PasteMenus = def.PasteMenus
	}
	return c
}

// New returns the driver for the running platform.
func New(cfg Config, r Runner) (Adapter, error) {
	if r == nil {
		r = ExecRunner{}
	}
	return newPlatformAdapter(cfg.withDefaults(), r)
}
