package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository works on live patients only; soft delete and restore are the
// archive coordinator's concern.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	// GetByID returns a live patient; deleted rows behave as missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetAnyState returns a patient regardless of deletion state, so
	// callers can tell a deleted patient apart from an unknown one.
	GetAnyState(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error)
	// CountCodePrefix counts all rows, deleted included, whose patient_code
	// starts with prefix. Code sequences never reuse numbers.
	CountCodePrefix(ctx context.Context, prefix string) (int, error)
	// RecalcCaseStats recomputes total_cases and last_case_date from the
	// live cases of the patient in one statement.
	RecalcCaseStats(ctx context.Context, id uuid.UUID) error
}
