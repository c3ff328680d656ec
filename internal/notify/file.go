package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileNotifier appends alerts to a log file, one line each. The file is
// opened per send so an external rotate never holds a stale handle.
type FileNotifier struct {
	path string
}

// NewFileNotifier creates a file notifier appending to path
func NewFileNotifier(path string) *FileNotifier {
	return &FileNotifier{path: path}
}

// Send appends one alert line
func (f *FileNotifier) Send(a Alert) error {
	if f.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	line := fmt.Sprintf("%s [%s] %s run=%s project=%s: %s",
		time.Now().Format(time.RFC3339), a.Severity, a.Kind, a.RunID, a.ProjectID, a.Text)
	if a.Context != "" {
		line += " (" + a.Context + ")"
	}
	_, err = fmt.Fprintln(file, line)
	return err
}
