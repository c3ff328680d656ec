package notify

import (
	"fmt"
	"io"
	"os"
)

// ConsoleNotifier prints alerts as single lines
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier creates a console notifier writing to out,
// defaulting to stdout.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

// Send prints the alert
func (c *ConsoleNotifier) Send(a Alert) error {
	_, err := fmt.Fprintf(c.out, "[%s] %s run=%s project=%s: %s\n",
		a.Severity, a.Kind, a.RunID, a.ProjectID, a.Text)
	return err
}
