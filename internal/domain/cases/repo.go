package cases

import (
	"context"

	"github.com/google/uuid"
)

// CaseRepository works on live cases; soft delete and restore are the
// archive coordinator's concern.
type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	// GetByID returns a live case; deleted rows behave as missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	Update(ctx context.Context, c *Case) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Case, int, error)
	// CountCodePrefix counts all rows, deleted included, whose case_code
	// starts with prefix. Sequence numbers are never reused.
	CountCodePrefix(ctx context.Context, prefix string) (int, error)
}

type PredictionRepository interface {
	Create(ctx context.Context, p *Prediction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error)
	// ListByCase returns live predictions newest first.
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Prediction, error)
	// LatestByCase returns the newest live prediction of a case.
	LatestByCase(ctx context.Context, caseID uuid.UUID) (*Prediction, error)
}

type RecommendationRepository interface {
	Create(ctx context.Context, r *Recommendation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Recommendation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// GetLiveDraftByCase returns the single live draft of a case, or a
	// not-found error when none exists.
	GetLiveDraftByCase(ctx context.Context, caseID uuid.UUID) (*Recommendation, error)
	// SupersedeDrafts marks every live draft of a case superseded and
	// returns how many rows changed.
	SupersedeDrafts(ctx context.Context, caseID uuid.UUID) (int, error)
	// ListByCase returns live recommendations newest first, all statuses.
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Recommendation, error)
	// ListPending returns draft recommendations on live cases, optionally
	// scoped to the doctor assigned to the patient.
	ListPending(ctx context.Context, doctorID *uuid.UUID) ([]*PendingRecommendation, error)
}
