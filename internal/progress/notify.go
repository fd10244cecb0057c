package progress

import (
	"context"
	"fmt"
)

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// NotifySink raises a desktop notification when a run completes.
type NotifySink struct {
	Notifier Notifier
	Title    string
}

func (n NotifySink) Handle(ctx context.Context, e Event) error {
	if e.Kind != KindComplete || e.Summary == nil {
		return nil
	}
	title := n.Title
	if title == "" {
		title = "kmsend"
	}
	body := fmt.Sprintf("완료! (성공: %d/%d)", e.Summary.Delivered, e.Summary.Total)
	if k := len(e.Summary.FailedNames); k > 0 {
		body += fmt.Sprintf(", 실패 %d명", k)
	}
	return n.Notifier.Notify(ctx, title, body)
}

// NewDesktopNotifier returns the platform notifier.
func NewDesktopNotifier() (Notifier, error) {
	return newPlatformNotifier()
}
