package automation

import (
	"context"
	"fmt"
	"strings"
)

var xdotoolKeys = map[Key]string{
	KeyEnter:     "Return",
	KeyEscape:    "Escape",
	KeyDown:      "Down",
	KeyUp:        "Up",
	KeyBackspace: "BackSpace",
	KeyTab:       "Tab",
}

// Xdotool drives an X11 window (for example the client under Wine) with
// xdotool.
type Xdotool struct {
	cfg    Config
	runner Runner
}

// NewXdotool creates an X11 driver.
func NewXdotool(cfg Config, r Runner) *Xdotool {
	return &Xdotool{cfg: cfg.withDefaults(), runner: r}
}

// window returns the first visible window of the configured class.
func (x *Xdotool) window(ctx context.Context) (string, error) {
	out, err := x.runner.Run(ctx, "", "xdotool", "search", "--onlyvisible", "--class", x.cfg.WindowClass)
	if err != nil {
		// xdotool exits 1 when nothing matches.
		if strings.TrimSpace(string(out)) == "" {
			return "", nil
		}
		return "", fmt.Errorf("xdotool search: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

func (x *Xdotool) Activate(ctx context.Context) (bool, error) {
	id, err := x.window(ctx)
	if err != nil || id == "" {
		return false, err
	}
	if _, err := x.runner.Run(ctx, "", "xdotool", "windowactivate", "--sync", id); err != nil {
		return false, fmt.Errorf("xdotool windowactivate: %w", err)
	}
	return true, nil
}

func (x *Xdotool) AssertFocus(ctx context.Context) error {
	id, err := x.window(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("xdotool: no %s window", x.cfg.WindowClass)
	}
	_, err = x.runner.Run(ctx, "", "xdotool", "windowfocus", "--sync", id)
	return err
}

func (x *Xdotool) keys(ctx context.Context, keys ...string) error {
	args := append([]string{"key", "--clearmodifiers", "--delay", fmt.Sprint(x.cfg.KeyDelay.Milliseconds())}, keys...)
	if _, err := x.runner.Run(ctx, "", "xdotool", args...); err != nil {
		return fmt.Errorf("xdotool key: %w", err)
	}
	return nil
}

func (x *Xdotool) InjectPaste(ctx context.Context) error {
	return x.keys(ctx, "ctrl+v")
}

func (x *Xdotool) PressKey(ctx context.Context, k Key) error {
	name, ok := xdotoolKeys[k]
	if !ok {
		return fmt.Errorf("xdotool: unknown key %q", k)
	}
	return x.keys(ctx, name)
}

func (x *Xdotool) OpenSearch(ctx context.Context) error {
	return x.keys(ctx, "ctrl+1", "ctrl+f")
}

func (x *Xdotool) ClearQuery(ctx context.Context) error {
	return x.keys(ctx, "ctrl+a", "BackSpace")
}

func (x *Xdotool) SelectNextResult(ctx context.Context) error {
	return x.PressKey(ctx, KeyDown)
}

func (x *Xdotool) OpenSelected(ctx context.Context) error {
	return x.PressKey(ctx, KeyEnter)
}

func (x *Xdotool) Submit(ctx context.Context) error {
	return x.PressKey(ctx, KeyEnter)
}

func (x *Xdotool) CloseOverlay(ctx context.Context) error {
	return x.keys(ctx, "Escape", "Escape")
}

func (x *Xdotool) ShowBaseline(ctx context.Context) error {
	return x.keys(ctx, "ctrl+1")
}
