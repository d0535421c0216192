//go:build darwin

package notifier

import "fmt"

func desktopCommand(title, text string) (string, []string) {
	script := fmt.Sprintf(`display notification %q with title %q`, text, title)
	return "osascript", []string{"-e", script}
}

func hasDisplay() bool { return true }
