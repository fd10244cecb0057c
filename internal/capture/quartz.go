package capture

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"kmsend/internal/automation"
)

// windowListScript prints one tab-separated line per on-screen window:
// number, owner, width, height, title.
const windowListScript = `ObjC.import('CoreGraphics');
var raw = $.CGWindowListCopyWindowInfo($.kCGWindowListOptionOnScreenOnly, $.kCGNullWindowID);
var wins = ObjC.deepUnwrap(ObjC.castRefToObject(raw)) || [];
wins.map(function (w) {
  var b = w.kCGWindowBounds || {};
  var clean = function (s) { return String(s || '').replace(/[\t\n]/g, ' '); };
  return [w.kCGWindowNumber, clean(w.kCGWindowOwnerName), Math.round(b.Width || 0), Math.round(b.Height || 0), clean(w.kCGWindowName)].join('\t');
}).join('\n');
`

// QuartzLocator lists windows through the window server using JavaScript for
// Automation.
type QuartzLocator struct {
	Runner automation.Runner
}

func (q QuartzLocator) ListWindows(ctx context.Context) ([]Window, error) {
	out, err := q.Runner.Run(ctx, windowListScript, "osascript", "-l", "JavaScript", "-")
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return parseWindowList(string(out)), nil
}

func parseWindowList(out string) []Window {
	var ws []Window
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 4 || fields[0] == "" {
			continue
		}
		w := Window{ID: WindowID(fields[0]), Owner: fields[1]}
		w.Width, _ = strconv.Atoi(fields[2])
		w.Height, _ = strconv.Atoi(fields[3])
		if len(fields) > 4 {
			w.Title = fields[4]
		}
		ws = append(ws, w)
	}
	return ws
}

// ScreenCapturer captures a single window with screencapture, without the
// window shadow and without the shutter sound.
type ScreenCapturer struct {
	Runner automation.Runner
}

func (s ScreenCapturer) CaptureWindow(ctx context.Context, id WindowID) ([]byte, error) {
	f, err := os.CreateTemp("", "kmsend-capture-*.png")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if _, err := s.Runner.Run(ctx, "", "screencapture", "-x", "-o", "-t", "png", "-l"+string(id), path); err != nil {
		return nil, fmt.Errorf("screencapture: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
