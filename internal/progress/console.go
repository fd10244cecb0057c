package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	consoleTime    = lipgloss.NewStyle().Faint(true)
	consoleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	consoleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	consoleSummary = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FEE500")).
			Padding(0, 1)
)

// ConsoleSink prints events to a terminal.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink writes to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (c *ConsoleSink) Handle(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case KindLog:
		msg := e.Message
		switch {
		case strings.Contains(msg, "❌"):
			msg = consoleFail.Render(msg)
		case strings.Contains(msg, "✅"):
			msg = consoleOK.Render(msg)
		}
		stamp := ""
		if !e.Time.IsZero() {
			stamp = consoleTime.Render(e.Time.Format("15:04:05")) + " "
		}
		_, err := fmt.Fprintln(c.w, stamp+msg)
		return err
	case KindComplete:
		_, err := fmt.Fprintln(c.w, consoleSummary.Render(FormatSummary(e.Summary)))
		return err
	}
	return nil
}

// FormatSummary renders a summary as one human-readable block.
func FormatSummary(s *Summary) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "delivered %d/%d", s.Delivered, s.Total)
	if len(s.FailedNames) > 0 {
		fmt.Fprintf(&b, "\nfailed (%d): %s", len(s.FailedNames), strings.Join(s.FailedNames, ", "))
	}
	return b.String()
}
