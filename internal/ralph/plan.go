// Package ralph drives an agent through a PLAN.md task list: parse, execute
// one task per iteration, verify, retry or block, log progress.
package ralph

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Status of one plan task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
)

// taskRe matches one checkbox task line; group 1 is the marker byte, group 2
// the task text. All other lines are ignored.
var taskRe = regexp.MustCompile(`^\s*-\s*\[([x !~])\]\s+(.+)$`)

var markerToStatus = map[byte]Status{
	'x': StatusDone,
	'!': StatusBlocked,
	'~': StatusInProgress,
	' ': StatusOpen,
}

var statusToMarker = map[Status]byte{
	StatusDone:       'x',
	StatusBlocked:    '!',
	StatusInProgress: '~',
	StatusOpen:       ' ',
}

// Task is one parsed plan entry. Index is the 0-based sequence number over
// matching lines.
type Task struct {
	Index  int
	Text   string
	Status Status
}

// ParsePlan extracts the tasks from plan content.
func ParsePlan(content string) []Task {
	var tasks []Task
	for _, line := range strings.Split(content, "\n") {
		m := taskRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		tasks = append(tasks, Task{
			Index:  len(tasks),
			Text:   m[2],
			Status: markerToStatus[m[1][0]],
		})
	}
	return tasks
}

// UpdateTaskStatus rewrites exactly the marker byte of the index-th task
// line, leaving every other byte of the file intact.
func UpdateTaskStatus(planPath string, index int, status Status) error {
	marker, ok := statusToMarker[status]
	if !ok {
		return fmt.Errorf("unknown status %q", status)
	}
	content, err := os.ReadFile(planPath)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	updated, err := updateInContent(string(content), index, marker)
	if err != nil {
		return err
	}
	if err := os.WriteFile(planPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// updateInContent flips one marker byte. Split/Join on \n round-trips every
// other byte untouched.
func updateInContent(content string, index int, marker byte) (string, error) {
	lines := strings.Split(content, "\n")
	seen := 0
	for i, line := range lines {
		loc := taskRe.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		if seen == index {
			// loc[2] is the start of the marker capture group.
			b := []byte(line)
			b[loc[2]] = marker
			lines[i] = string(b)
			return strings.Join(lines, "\n"), nil
		}
		seen++
	}
	return "", fmt.Errorf("no task at index %d (plan has %d)", index, seen)
}
