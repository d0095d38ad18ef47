package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// SpawnError reports a worker CLI invocation that exited non-zero or timed
// out. The conversation's state is untouched when it is returned.
type SpawnError struct {
	Agent      string
	ExitCode   int
	TimedOut   bool
	StderrTail string
	Err        error
}

func (e *SpawnError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("worker for %s timed out: %s", e.Agent, e.StderrTail)
	}
	return fmt.Sprintf("worker for %s exited %d: %s", e.Agent, e.ExitCode, e.StderrTail)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// resumeFailed reports whether a spawn failure looks like an expired or
// unknown resume id, in which case the caller retries with a fresh session.
func (e *SpawnError) resumeFailed() bool {
	tail := strings.ToLower(e.StderrTail)
	return strings.Contains(tail, "no conversation found") ||
		strings.Contains(tail, "session not found") ||
		strings.Contains(tail, "session expired") ||
		strings.Contains(tail, "--resume")
}

// ToolCall is one tool invocation observed in the transcript.
type ToolCall struct {
	Name  string
	Input string
}

// Transcript is the parsed output of one worker invocation.
type Transcript struct {
	SessionID string
	Text      string // final assistant text
	Turns     int
	ToolCalls []ToolCall
}

// invocation describes one worker CLI run.
type invocation struct {
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
	Agent   string
}

const stderrTailBytes = 2048

// run spawns the CLI and parses its stream-json transcript. On timeout the
// process group gets SIGTERM, then SIGKILL after a grace period.
func run(ctx context.Context, inv invocation) (*Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Agent: inv.Agent, ExitCode: -1, StderrTail: err.Error(), Err: err}
	}

	transcript := parseStream(bufio.NewScanner(stdout))

	err = cmd.Wait()
	if err != nil {
		se := &SpawnError{
			Agent:      inv.Agent,
			ExitCode:   cmd.ProcessState.ExitCode(),
			TimedOut:   ctx.Err() == context.DeadlineExceeded,
			StderrTail: tail(stderr.Bytes(), stderrTailBytes),
			Err:        err,
		}
		return nil, se
	}
	return transcript, nil
}

// parseStream reads line-delimited JSON events. Malformed lines are skipped;
// if no result event arrives the last assistant text is returned best-effort.
func parseStream(scanner *bufio.Scanner) *Transcript {
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	t := &Transcript{}
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Debug("session.transcript_line_skipped", "error", err)
			continue
		}
		if ev.SessionID != "" {
			t.SessionID = ev.SessionID
		}
		switch ev.Type {
		case "assistant":
			t.Turns++
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						t.Text = block.Text
					}
				case "tool_use":
					t.ToolCalls = append(t.ToolCalls, ToolCall{
						Name:  block.Name,
						Input: string(block.Input),
					})
				}
			}
		case "result":
			if ev.Result != "" {
				t.Text = ev.Result
			}
			if ev.NumTurns > 0 {
				t.Turns = ev.NumTurns
			}
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("session.transcript_read_error", "error", err)
	}
	return t
}

type streamEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	NumTurns  int    `json:"num_turns"`
	Message   struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
