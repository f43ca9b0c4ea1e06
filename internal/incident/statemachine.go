package incident

import (
	"slices"

	"github.com/miradorstack/mirador-ir/internal/models"
)

var transitions = map[models.IncidentStatus][]models.IncidentStatus{
	models.StatusNew:           {models.StatusAssigned, models.StatusInvestigating, models.StatusClosed},
	models.StatusAssigned:      {models.StatusInProgress, models.StatusInvestigating, models.StatusClosed},
	models.StatusInProgress:    {models.StatusInvestigating, models.StatusContained, models.StatusClosed},
	models.StatusInvestigating: {models.StatusContained, models.StatusInProgress, models.StatusClosed},
	models.StatusContained:     {models.StatusEradicated, models.StatusInvestigating},
	models.StatusEradicated:    {models.StatusRecovering, models.StatusInvestigating},
	models.StatusRecovering:    {models.StatusResolved, models.StatusInvestigating},
	models.StatusResolved:      {models.StatusClosed, models.StatusReopened},
	models.StatusClosed:        {models.StatusReopened},
	models.StatusReopened:      {models.StatusAssigned, models.StatusInProgress, models.StatusInvestigating},
}

// closeFrom lists the statuses Close resolves from.
var closeFrom = []models.IncidentStatus{models.StatusResolved, models.StatusRecovering, models.StatusEradicated}

// reopenFrom lists the statuses Reopen accepts.
var reopenFrom = []models.IncidentStatus{models.StatusClosed, models.StatusResolved}

// assignFrom lists the statuses Assign accepts besides a re-assignment while Assigned.
var assignFrom = []models.IncidentStatus{models.StatusNew, models.StatusReopened}

// CanTransition reports whether the lifecycle graph has an edge from -> to.
func CanTransition(from, to models.IncidentStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Successors returns the statuses reachable from status in one step.
func Successors(status models.IncidentStatus) []models.IncidentStatus {
	return slices.Clone(transitions[status])
}

// Reachable returns every status reachable from start, start included.
func Reachable(start models.IncidentStatus) map[models.IncidentStatus]bool {
	seen := map[models.IncidentStatus]bool{start: true}
	queue := []models.IncidentStatus{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
