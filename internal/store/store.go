package store

import (
	"context"

	"github.com/joescharf/prflow/internal/models"
)

// RunListFilter specifies filters for listing workflow runs.
type RunListFilter struct {
	Repo   string
	Number int
	Status models.RunStatus
	Limit  int
}

// Store defines the persistence interface for prflow's run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*models.WorkflowRun, error)
	ListRuns(ctx context.Context, filter RunListFilter) ([]*models.WorkflowRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
