//go:build linux

package progress

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod  = notifyService + ".Notify"
)

// dbusNotifier talks to the freedesktop notification service on the session
// bus.
type dbusNotifier struct {
	conn *dbus.Conn
}

func newPlatformNotifier() (Notifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &dbusNotifier{conn: conn}, nil
}

func (n *dbusNotifier) Notify(ctx context.Context, title, body string) error {
	obj := n.conn.Object(notifyService, notifyPath)
	call := obj.CallWithContext(ctx, notifyMethod, 0,
		"kmsend",                  // app_name
		uint32(0),                 // replaces_id
		"",                        // app_icon
		title,                     // summary
		body,                      // body
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		int32(5000),               // expire_timeout in ms
	)
	if call.Err != nil {
		return fmt.Errorf("dbus notify: %w", call.Err)
	}
	return nil
}
