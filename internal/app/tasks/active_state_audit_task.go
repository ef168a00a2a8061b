package tasks

import (
	"context"
	"fmt"
)

// AuditResult lists the bots whose persisted flag disagrees with the registry.
type AuditResult struct {
	// FlaggedNotRunning are active in the store with no live handle.
	FlaggedNotRunning []string
	// RunningNotFlagged have a live handle but are inactive in the store.
	RunningNotFlagged []string
}

// Drift reports whether any mismatch was found.
func (r AuditResult) Drift() bool {
	return len(r.FlaggedNotRunning) > 0 || len(r.RunningNotFlagged) > 0
}

// Audit compares the active flags in the store with the running set.
func Audit(ctx context.Context, store Store, rt Runtime) (AuditResult, error) {
	bots, err := store.ListBots(ctx, "")
	if err != nil {
		return AuditResult{}, err
	}

	running := make(map[string]bool)
	for _, id := range rt.Running() {
		running[id] = true
	}

	var result AuditResult
	for _, bot := range bots {
		switch {
		case bot.IsActive && !running[bot.ID]:
			result.FlaggedNotRunning = append(result.FlaggedNotRunning, bot.ID)
		case !bot.IsActive && running[bot.ID]:
			result.RunningNotFlagged = append(result.RunningNotFlagged, bot.ID)
		}
	}
	return result, nil
}

// newActiveStateAuditTask logs drift between active flags and live handles.
// It only reports; nothing is repaired.
func newActiveStateAuditTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", ActiveStateAudit)

	return func(ctx context.Context) error {
		result, err := Audit(ctx, deps.Store, deps.Runtime)
		if err != nil {
			log.ErrorContext(ctx, "Active state audit failed", "error", err)
			return fmt.Errorf("active state audit failed: %w", err)
		}

		if !result.Drift() {
			log.DebugContext(ctx, "Active flags match running bots")
			return nil
		}

		log.WarnContext(ctx, "Active flags out of step with running bots",
			"flagged_not_running", result.FlaggedNotRunning,
			"running_not_flagged", result.RunningNotFlagged)
		return nil
	}
}
