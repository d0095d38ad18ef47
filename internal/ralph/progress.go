package ralph

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// maxOutputChars caps the output block of one progress entry.
const maxOutputChars = 2000

// Entry is one appended progress.md section.
type Entry struct {
	Iteration int
	Task      string
	Status    string
	Duration  time.Duration
	Output    string
}

// AppendEntry appends one iteration section to the progress file, creating
// it if missing.
func AppendEntry(path string, e Entry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open progress log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(formatEntry(e, time.Now())); err != nil {
		return fmt.Errorf("append progress entry: %w", err)
	}
	return nil
}

func formatEntry(e Entry, now time.Time) string {
	output := e.Output
	if len(output) > maxOutputChars {
		output = output[:maxOutputChars] + "...(truncated)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Iteration %d – Task: %q\n\n", e.Iteration, e.Task)
	fmt.Fprintf(&b, "- Status: %s\n", e.Status)
	fmt.Fprintf(&b, "- Duration: %s\n", e.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Timestamp: %s\n", now.UTC().Format(time.RFC3339))
	if strings.TrimSpace(output) != "" {
		b.WriteString("\n```\n")
		b.WriteString(output)
		if !strings.HasSuffix(output, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}
	b.WriteString("\n")
	return b.String()
}
