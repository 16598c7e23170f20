package cases

// Case status machine. Status normally moves forward automatically as the
// prediction and review steps land; explicit transitions cover cancel and
// reopen.

const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusCancelled  = "cancelled"
)

var validCaseStatuses = map[string]bool{
	StatusDraft: true, StatusInProgress: true,
	StatusComplete: true, StatusCancelled: true,
}

var validRiskLevels = map[string]bool{
	"low": true, "medium": true, "high": true, "critical": true,
}

var validRecommendationStatuses = map[string]bool{
	"draft": true, "saved": true, "discarded": true, "superseded": true,
}

// allowedTransitions lists the explicit status moves a user may request.
// complete and cancelled are only reachable forward or by reopening.
var allowedTransitions = map[string]map[string]bool{
	StatusDraft:      {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusComplete: true, StatusCancelled: true},
	StatusComplete:   {StatusInProgress: true},
	StatusCancelled:  {StatusInProgress: true},
}

// CanTransition reports whether an explicit move from one status to
// another is allowed. Setting the same status is not a transition.
func CanTransition(from, to string) bool {
	return allowedTransitions[from][to]
}

// DeriveStatus computes the automatic status from the case's entity set.
// complete and cancelled are sticky: once a case is there, only an
// explicit transition moves it.
func DeriveStatus(current string, hasPrediction, hasSavedRecommendation bool) string {
	if current == StatusComplete || current == StatusCancelled {
		return current
	}
	switch {
	case hasSavedRecommendation:
		return StatusComplete
	case hasPrediction:
		return StatusInProgress
	default:
		return StatusDraft
	}
}
