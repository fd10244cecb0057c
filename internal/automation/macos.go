package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Virtual key codes used by System Events.
var macKeyCodes = map[Key]int{
	KeyEnter:     36,
	KeyEscape:    53,
	KeyDown:      125,
	KeyUp:        126,
	KeyBackspace: 51,
	KeyTab:       48,
}

const (
	macKeyCodeA = 0
	macKeyCodeF = 3
)

// MacOS drives the application with AppleScript through osascript.
type MacOS struct {
	cfg    Config
	runner Runner
}

// NewMacOS creates a macOS driver.
func NewMacOS(cfg Config, r Runner) *MacOS {
	return &MacOS{cfg: cfg.withDefaults(), runner: r}
}

func (m *MacOS) run(ctx context.Context, script string) (string, error) {
	out, err := m.runner.Run(ctx, script, "osascript", "-")
	if err != nil {
		return "", fmt.Errorf("osascript: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Activate brings the application forward and opens a window with Cmd+N if
// none is shown. It reports whether the process has at least one window.
func (m *MacOS) Activate(ctx context.Context) (bool, error) {
	out, err := m.run(ctx, m.activateScript())
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

func (m *MacOS) AssertFocus(ctx context.Context) error {
	_, err := m.run(ctx, m.systemEvents(""))
	return err
}

// InjectPaste clicks the Edit menu's paste item. Menu paste survives input
// methods that swallow a synthetic Cmd+V.
func (m *MacOS) InjectPaste(ctx context.Context) error {
	_, err := m.run(ctx, m.pasteScript())
	return err
}

func (m *MacOS) PressKey(ctx context.Context, k Key) error {
	code, ok := macKeyCodes[k]
	if !ok {
		return fmt.Errorf("osascript: unknown key %q", k)
	}
	_, err := m.run(ctx, m.systemEvents(fmt.Sprintf("key code %d", code)))
	return err
}

func (m *MacOS) OpenSearch(ctx context.Context) error {
	_, err := m.run(ctx, m.systemEvents(
		`keystroke "1" using command down`,
		fmt.Sprintf("key code %d using command down", macKeyCodeF),
	))
	return err
}

func (m *MacOS) ClearQuery(ctx context.Context) error {
	_, err := m.run(ctx, m.systemEvents(
		fmt.Sprintf("key code %d using command down", macKeyCodeA),
		fmt.Sprintf("key code %d", macKeyCodes[KeyBackspace]),
	))
	return err
}

func (m *MacOS) SelectNextResult(ctx context.Context) error {
	return m.PressKey(ctx, KeyDown)
}

func (m *MacOS) OpenSelected(ctx context.Context) error {
	return m.PressKey(ctx, KeyEnter)
}

func (m *MacOS) Submit(ctx context.Context) error {
	return m.PressKey(ctx, KeyEnter)
}

// CloseOverlay presses Escape twice: once for the chat window, once for the
// search field.
func (m *MacOS) CloseOverlay(ctx context.Context) error {
	esc := fmt.Sprintf("key code %d", macKeyCodes[KeyEscape])
	_, err := m.run(ctx, m.systemEvents(esc, esc))
	return err
}

func (m *MacOS) ShowBaseline(ctx context.Context) error {
	_, err := m.run(ctx, m.systemEvents(`keystroke "1" using command down`))
	return err
}

func (m *MacOS) activateScript() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tell application %s to activate\n", quote(m.cfg.AppName))
	fmt.Fprintf(&b, "delay %s\n", seconds(m.cfg.KeyDelay))
	b.WriteString("tell application \"System Events\"\n")
	fmt.Fprintf(&b, "\ttell process %s\n", quote(m.cfg.ProcessName))
	b.WriteString("\t\tset frontmost to true\n")
	b.WriteString("\t\tif (count of windows) is 0 then\n")
	b.WriteString("\t\t\tkeystroke \"n\" using command down\n")
	fmt.Fprintf(&b, "\t\t\tdelay %s\n", seconds(m.cfg.KeyDelay))
	b.WriteString("\t\tend if\n")
	b.WriteString("\t\treturn (count of windows) > 0\n")
	b.WriteString("\tend tell\n")
	b.WriteString("end tell\n")
	return b.String()
}

// systemEvents makes the process frontmost and then sends each action with
// KeyDelay between them.
func (m *MacOS) systemEvents(actions ...string) string {
	var b strings.Builder
	b.WriteString("tell application \"System Events\"\n")
	fmt.Fprintf(&b, "\ttell process %s to set frontmost to true\n", quote(m.cfg.ProcessName))
	for _, a := range actions {
		if a == "" {
			continue
		}
		fmt.Fprintf(&b, "\tdelay %s\n", seconds(m.cfg.KeyDelay))
		fmt.Fprintf(&b, "\t%s\n", a)
	}
	b.WriteString("end tell\n")
	return b.String()
}

func (m *MacOS) pasteScript() string {
	var b strings.Builder
	b.WriteString("tell application \"System Events\"\n")
	fmt.Fprintf(&b, "\ttell process %s\n", quote(m.cfg.ProcessName))
	b.WriteString("\t\tset frontmost to true\n")
	writeMenuFallbacks(&b, m.cfg.PasteMenus, "\t\t")
	b.WriteString("\tend tell\n")
	b.WriteString("end tell\n")
	return b.String()
}

// writeMenuFallbacks nests try blocks so each menu item is attempted only if
// the previous one failed. The last attempt raises to the caller.
func writeMenuFallbacks(b *strings.Builder, items []MenuItem, indent string) {
	if len(items) == 0 {
		return
	}
	click := fmt.Sprintf("click menu item %s of menu %s of menu bar 1", quote(items[0].Item), quote(items[0].Menu))
	if len(items) == 1 {
		fmt.Fprintf(b, "%s%s\n", indent, click)
		return
	}
	fmt.Fprintf(b, "%stry\n", indent)
	fmt.Fprintf(b, "%s\t%s\n", indent, click)
	fmt.Fprintf(b, "%son error\n", indent)
	writeMenuFallbacks(b, items[1:], indent+"\t")
	fmt.Fprintf(b, "%send try\n", indent)
}

// quote renders s as an AppleScript string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
