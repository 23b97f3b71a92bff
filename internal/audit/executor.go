package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
)

// Executor produces a fresh health snapshot of the deployed system.
type Executor interface {
	Run(ctx context.Context) (*models.AuditSnapshot, error)
}

// CommandExecutor shells out to an external audit tool and reads its result
// from stdout. The tool may log freely; only the last non-empty line is
// parsed, and it must be a JSON object.
type CommandExecutor struct {
	command string
	args    []string
	timeout time.Duration
}

func NewCommandExecutor(command string, args []string, timeout time.Duration) *CommandExecutor {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &CommandExecutor{
		command: command,
		args:    args,
		timeout: timeout,
	}
}

func (e *CommandExecutor) Run(ctx context.Context) (*models.AuditSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, faults.Transientf("audit command failed: %v (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	snapshot, err := parseSnapshot(stdout.String())
	if err != nil {
		return nil, err
	}

	snapshot.TakenAt = time.Now()
	return snapshot, nil
}

func parseSnapshot(output string) (*models.AuditSnapshot, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var snapshot models.AuditSnapshot
		if err := json.Unmarshal([]byte(line), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to parse audit output %q: %w", line, err)
		}
		return &snapshot, nil
	}

	return nil, fmt.Errorf("audit command produced no output")
}
