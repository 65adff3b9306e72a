// Package forge implements statemachine.Forge by shelling out to the GitHub
// CLI, the same way internal/git drives worktrees by shelling out to git --
// this is an external collaborator the core consults through a narrow
// interface, never a library dependency baked into the state machine.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CLI implements statemachine.Forge via `gh`.
type CLI struct {
	// Bin overrides the "gh" executable name, for tests.
	Bin string
}

func New() *CLI { return &CLI{Bin: "gh"} }

func (c *CLI) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "gh"
}

// PRMerged reports whether prURL's upstream state is MERGED.
func (c *CLI) PRMerged(ctx context.Context, prURL string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.bin(), "pr", "view", prURL, "--json", "state")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("gh pr view %s: %w", prURL, err)
	}
	var resp struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return false, fmt.Errorf("parsing gh pr view output: %w", err)
	}
	return strings.EqualFold(resp.State, "MERGED"), nil
}

// TaskDelivered reports whether repo's PR history shows a merged PR
// referencing taskID in its title or body.
func (c *CLI) TaskDelivered(ctx context.Context, repo, taskID string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.bin(), "pr", "list", "--repo", repo, "--state", "merged",
		"--search", taskID, "--json", "number", "--limit", "1")
	cmd.Dir = repo
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("gh pr list for %s: %w", taskID, err)
	}
	var resp []struct {
		Number int `json:"number"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return false, fmt.Errorf("parsing gh pr list output: %w", err)
	}
	return len(resp) > 0, nil
}
