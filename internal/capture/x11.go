package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"kmsend/internal/automation"
)

// X11Locator lists visible windows with xdotool. The owner of each window is
// its WM class as reported by xprop.
type X11Locator struct {
	Runner automation.Runner
}

func (x X11Locator) ListWindows(ctx context.Context) ([]Window, error) {
	out, err := x.Runner.Run(ctx, "", "xdotool", "search", "--onlyvisible", "--name", ".")
	if err != nil {
		if strings.TrimSpace(string(out)) == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("xdotool search: %w", err)
	}

	var ws []Window
	for _, id := range strings.Fields(string(out)) {
		w := Window{ID: WindowID(id)}
		if geo, err := x.Runner.Run(ctx, "", "xdotool", "getwindowgeometry", "--shell", id); err == nil {
			w.Width, w.Height = parseGeometry(string(geo))
		}
		if name, err := x.Runner.Run(ctx, "", "xdotool", "getwindowname", id); err == nil {
			w.Title = strings.TrimSpace(string(name))
		}
		if class, err := x.Runner.Run(ctx, "", "xprop", "-id", id, "WM_CLASS"); err == nil {
			w.Owner = parseWMClass(string(class))
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// parseGeometry reads WIDTH and HEIGHT from getwindowgeometry --shell output.
func parseGeometry(out string) (width, height int) {
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "WIDTH":
			width, _ = strconv.Atoi(v)
		case "HEIGHT":
			height, _ = strconv.Atoi(v)
		}
	}
	return width, height
}

// parseWMClass turns `WM_CLASS(STRING) = "kakaotalk.exe", "KakaoTalk"` into
// "kakaotalk.exe KakaoTalk".
func parseWMClass(out string) string {
	_, v, ok := strings.Cut(out, "=")
	if !ok {
		return ""
	}
	var parts []string
	for _, p := range strings.Split(v, ",") {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// ImportCapturer captures a window with ImageMagick's import.
type ImportCapturer struct {
	Runner automation.Runner
}

func (c ImportCapturer) CaptureWindow(ctx context.Context, id WindowID) ([]byte, error) {
	out, err := c.Runner.Run(ctx, "", "import", "-silent", "-window", string(id), "png:-")
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
