package tasks

import "context"

// ScheduledTaskFunc defines the standard signature for all scheduled tasks.
// The context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names, matching the keys of scheduler.tasks in the config.
const (
	SQLMaintenance   = "sql_maintenance"
	ActiveStateAudit = "active_state_audit"
)

// RegisterAllTasks returns every task keyed by its config name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		SQLMaintenance:   newSQLMaintenanceTask(deps),
		ActiveStateAudit: newActiveStateAuditTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
