package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/stratus-tools/paceline/internal/model"
)

// CommandAction wraps a shell command as a work item action. A non-zero exit
// is an ordinary work failure; an inability to spawn the process is an
// execution error; cancellation surfaces as the context error so the pool can
// classify it as a timeout.
func CommandAction(command string) model.Action {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		err := cmd.Run()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: exit status %d", model.ErrWorkFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("spawn command: %w", err)
	}
}

// CommandItems builds work items from shell commands, assigning sequential
// IDs to commands without one.
func CommandItems(commands []RunItemSpec) []model.WorkItem {
	items := make([]model.WorkItem, len(commands))
	for i, c := range commands {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("item-%d", i+1)
		}
		items[i] = model.WorkItem{ID: id, Action: CommandAction(c.Command)}
	}
	return items
}

// RunItemSpec is one caller-supplied work item: an opaque identifier plus the
// shell command to execute.
type RunItemSpec struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}
