//go:build !linux && !darwin && !windows

package notifier

func desktopCommand(string, string) (string, []string) { return "", nil }

func hasDisplay() bool { return false }
