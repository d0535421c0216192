//go:build linux

package notifier

import (
	"os"
	"strconv"
)

// desktopTimeout is how long the notification stays on screen.
const desktopTimeout = 10000 // ms

func desktopCommand(title, text string) (string, []string) {
	return "notify-send", []string{"-t", strconv.Itoa(desktopTimeout), "--", title, text}
}

// hasDisplay reports whether an X11 or Wayland session is reachable.
func hasDisplay() bool {
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}
