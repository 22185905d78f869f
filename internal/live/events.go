// Package live keeps one event stream open per running sandbox and turns
// runtime events into narrow snapshot invalidations.
package live

import (
	"github.com/frak-id/atelier-sub002/internal/opencode"
	"github.com/frak-id/atelier-sub002/internal/snapshot"
)

// Invalidator is told which cached slices an event made stale.
type Invalidator interface {
	Invalidate(url string, slices ...string)
	InvalidateAll(url string)
}

var eventSlices = map[string]string{
	opencode.EventSessionCreated:    snapshot.SliceSessions,
	opencode.EventSessionUpdated:    snapshot.SliceSessions,
	opencode.EventSessionDeleted:    snapshot.SliceSessions,
	opencode.EventSessionStatus:     snapshot.SliceStatuses,
	opencode.EventSessionIdle:       snapshot.SliceStatuses,
	opencode.EventPermissionAsked:   snapshot.SlicePermissions,
	opencode.EventPermissionReplied: snapshot.SlicePermissions,
	opencode.EventQuestionAsked:     snapshot.SliceQuestions,
	opencode.EventQuestionReplied:   snapshot.SliceQuestions,
	opencode.EventQuestionRejected:  snapshot.SliceQuestions,
}

// SlicesFor returns the cache slices an event invalidates. Unknown events
// invalidate nothing.
func SlicesFor(ev opencode.Event) []string {
	if ev.Type == opencode.EventTodoUpdated {
		if id := ev.SessionID(); id != "" {
			return []string{snapshot.TodoSlice(id)}
		}
		return nil
	}
	if s, ok := eventSlices[ev.Type]; ok {
		return []string{s}
	}
	return nil
}
