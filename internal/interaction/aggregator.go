// Package interaction derives per-session interaction records from raw
// agent-runtime snapshots and reduces them over a session tree.
//
// Every function here is pure: inputs are never mutated and results never
// share backing arrays with them, so callers can recompute on every poll
// tick.
package interaction

import (
	"math"

	"github.com/frak-id/atelier-sub002/internal/models"
)

// statusRank orders normalized statuses for tree reduction. Higher wins.
var statusRank = map[models.SessionStatus]int{
	models.SessionStatusBusy:    3,
	models.SessionStatusIdle:    2,
	models.SessionStatusWaiting: 1,
	models.SessionStatusUnknown: 0,
}

var rawStatusMap = map[models.RawStatus]models.SessionStatus{
	models.RawStatusIdle:  models.SessionStatusIdle,
	models.RawStatusBusy:  models.SessionStatusBusy,
	models.RawStatusRetry: models.SessionStatusWaiting,
}

// MapStatus normalizes a runtime status. Anything unrecognized, including
// the empty status of a session missing from the status map, is unknown.
func MapStatus(raw models.RawStatus) models.SessionStatus {
	if s, ok := rawStatusMap[raw]; ok {
		return s
	}
	return models.SessionStatusUnknown
}

// Rank returns the priority of a status; unrecognized values rank lowest.
func Rank(s models.SessionStatus) int {
	return statusRank[s]
}

// ReduceStatus returns the highest-priority status, or unknown for no input.
func ReduceStatus(statuses ...models.SessionStatus) models.SessionStatus {
	best := models.SessionStatusUnknown
	for _, s := range statuses {
		if _, ok := statusRank[s]; ok && statusRank[s] > statusRank[best] {
			best = s
		}
	}
	return best
}

// Inputs is one sandbox's raw snapshot.
type Inputs struct {
	Statuses    map[string]models.RawStatus
	Permissions []models.PermissionRequest
	Questions   []models.QuestionRequest
	Todos       map[string][]models.Todo
}

// BuildInteractions returns one Interaction per session id, in the given order.
func BuildInteractions(in Inputs, sessionIDs []string) []models.Interaction {
	out := make([]models.Interaction, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		out = append(out, BuildInteraction(in, id))
	}
	return out
}

// BuildInteraction derives the Interaction of a single session.
func BuildInteraction(in Inputs, sessionID string) models.Interaction {
	it := models.Interaction{
		SessionID:          sessionID,
		Status:             MapStatus(in.Statuses[sessionID]),
		PendingPermissions: []models.PermissionRequest{},
		PendingQuestions:   []models.QuestionRequest{},
		Todos:              append([]models.Todo{}, in.Todos[sessionID]...),
	}
	for _, p := range in.Permissions {
		if p.SessionID == sessionID {
			it.PendingPermissions = append(it.PendingPermissions, p)
		}
	}
	for _, q := range in.Questions {
		if q.SessionID == sessionID {
			it.PendingQuestions = append(it.PendingQuestions, copyQuestion(q))
		}
	}
	return it
}

// Aggregate is the reduction of a set of interactions.
type Aggregate struct {
	State           models.AggregatedInteractionState `json:"state"`
	NeedsAttention  bool                              `json:"needsAttention"`
	HasBusySessions bool                              `json:"hasBusySessions"`
}

// Reduce concatenates pending requests in interaction order and reduces the
// statuses by priority.
func Reduce(interactions []models.Interaction) Aggregate {
	agg := Aggregate{
		State: models.AggregatedInteractionState{
			Status:             models.SessionStatusUnknown,
			PendingPermissions: []models.PermissionRequest{},
			PendingQuestions:   []models.QuestionRequest{},
		},
	}

	statuses := make([]models.SessionStatus, 0, len(interactions))
	for _, it := range interactions {
		statuses = append(statuses, it.Status)
		agg.State.PendingPermissions = append(agg.State.PendingPermissions, it.PendingPermissions...)
		for _, q := range it.PendingQuestions {
			agg.State.PendingQuestions = append(agg.State.PendingQuestions, copyQuestion(q))
		}
		if it.NeedsAttention() {
			agg.NeedsAttention = true
		}
		if it.Status == models.SessionStatusBusy {
			agg.HasBusySessions = true
		}
	}
	agg.State.Status = ReduceStatus(statuses...)
	return agg
}

// TodoProgress counts todos across interactions. Cancelled todos are left
// out of the total entirely.
func TodoProgress(interactions []models.Interaction) models.TodoProgress {
	var p models.TodoProgress
	for _, it := range interactions {
		for _, todo := range it.Todos {
			switch todo.Status {
			case models.TodoStatusCompleted:
				p.Completed++
			case models.TodoStatusInProgress:
				p.InProgress++
			case models.TodoStatusPending:
				p.Pending++
			default:
				continue
			}
			p.Total++
		}
	}
	return p
}

// CompletedSubsessionCount counts non-root sessions that have fallen idle.
func CompletedSubsessionCount(interactions []models.Interaction, rootIDs map[string]bool) int {
	n := 0
	for _, it := range interactions {
		if !rootIDs[it.SessionID] && it.Status == models.SessionStatusIdle {
			n++
		}
	}
	return n
}

// ProgressPercent returns round(100*completed/total), or 0 when total is 0.
func ProgressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// AllIdle reports whether every interaction is idle. An empty set is not idle.
func AllIdle(interactions []models.Interaction) bool {
	if len(interactions) == 0 {
		return false
	}
	for _, it := range interactions {
		if it.Status != models.SessionStatusIdle {
			return false
		}
	}
	return true
}

func copyQuestion(q models.QuestionRequest) models.QuestionRequest {
	prompts := make([]models.QuestionPrompt, len(q.Prompts))
	for i, p := range q.Prompts {
		p.Options = append([]models.QuestionOption(nil), p.Options...)
		prompts[i] = p
	}
	q.Prompts = prompts
	return q
}
