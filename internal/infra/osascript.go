package infra

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

const osascriptBin = "/usr/bin/osascript"

// escapeAppleScript escapes a string for embedding in a double-quoted
// AppleScript literal.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// OSANotifier implements domain.Notifier via macOS notifications.
type OSANotifier struct {
	bin string
}

// NewNotifier creates a notifier using osascript.
func NewNotifier() *OSANotifier {
	return &OSANotifier{bin: osascriptBin}
}

// Notify shows a notification. Best effort.
func (n *OSANotifier) Notify(message, title string) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`,
		escapeAppleScript(message), escapeAppleScript(title))
	if err := exec.Command(n.bin, "-e", script).Run(); err != nil {
		return fmt.Errorf("osascript notification: %w", err)
	}
	return nil
}

// OSAQuitter implements domain.AppQuitter: asks an app to quit gracefully
// before signals are used.
type OSAQuitter struct {
	bin string
}

// NewAppQuitter creates a quitter using osascript.
func NewAppQuitter() *OSAQuitter {
	return &OSAQuitter{bin: osascriptBin}
}

// Quit issues `tell application "<name>" to quit`.
func (q *OSAQuitter) Quit(appName string) error {
	script := fmt.Sprintf(`tell application "%s" to quit`, escapeAppleScript(appName))
	if err := exec.Command(q.bin, "-e", script).Run(); err != nil {
		return fmt.Errorf("osascript quit %s: %w", appName, err)
	}
	return nil
}

// Ensure the osascript helpers implement their domain interfaces.
var (
	_ domain.Notifier   = (*OSANotifier)(nil)
	_ domain.AppQuitter = (*OSAQuitter)(nil)
)
