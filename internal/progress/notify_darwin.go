//go:build darwin

package progress

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type osascriptNotifier struct{}

func newPlatformNotifier() (Notifier, error) {
	return osascriptNotifier{}, nil
}

func (osascriptNotifier) Notify(ctx context.Context, title, body string) error {
	script := fmt.Sprintf("display notification %s with title %s", appleString(body), appleString(title))
	if out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript notify: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func appleString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
