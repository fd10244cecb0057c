//go:build !unix

package instance

import "os"

// Automation drivers exist only for unix desktops; elsewhere the lock is
// advisory only.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
