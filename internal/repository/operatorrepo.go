package repository

import (
	"context"

	"github.com/and161185/attendgate/internal/model"
)

// OperatorRepository stores staff accounts.
type OperatorRepository interface {
	// Create inserts a new operator; errs.ErrAlreadyExists on a taken username.
	Create(ctx context.Context, op *model.Operator) error
	// GetByUsername loads an operator; errs.ErrNotFound when absent.
	GetByUsername(ctx context.Context, username string) (*model.Operator, error)
}
