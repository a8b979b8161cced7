package workflow

import (
	"context"

	"crosspost/internal/queue"
)

// StatusSummary reports the manager and queue state for the status surfaces.
type StatusSummary struct {
	Running bool                `json:"running"`
	Workers int                 `json:"workers"`
	Queue   queue.HealthSummary `json:"queue"`
	LastErr string              `json:"last_error,omitempty"`
}

// StatusSummary gathers current queue health alongside manager state.
func (m *Manager) StatusSummary(ctx context.Context) (StatusSummary, error) {
	health, err := m.store.Health(ctx)
	if err != nil {
		return StatusSummary{}, err
	}
	summary := StatusSummary{
		Running: m.Running(),
		Workers: m.workers,
		Queue:   health,
	}
	if err := m.LastError(); err != nil {
		summary.LastErr = err.Error()
	}
	return summary, nil
}
