package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier raises native desktop notifications
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send raises a desktop notification for the alert
func (d *DesktopNotifier) Send(a Alert) error {
	if !d.enabled {
		return nil
	}

	title := fmt.Sprintf("Agent %s (%s)", a.Kind, a.Severity)
	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(title, a.Text)
	case "linux":
		return d.sendLinux(title, a.Text)
	default:
		return nil // Unsupported
	}
}

func (d *DesktopNotifier) sendMacOS(title, message string) error {
	script := `display notification "` + message + `" with title "` + title + `"`
	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

func (d *DesktopNotifier) sendLinux(title, message string) error {
	// Try notify-send (most common)
	cmd := exec.Command("notify-send", title, message)
	return cmd.Run()
}
