// Package progress computes the live read view of a task: its session
// tree, per-session interactions and their aggregate.
package progress

import (
	"context"

	"github.com/frak-id/atelier-sub002/internal/hierarchy"
	"github.com/frak-id/atelier-sub002/internal/interaction"
	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/snapshot"
	"github.com/frak-id/atelier-sub002/internal/tasks"
)

// SourceSandbox marks a task whose sandbox is unknown or not running.
const SourceSandbox = "sandbox"

// TaskProgress is derived on every read and never persisted.
type TaskProgress struct {
	TaskID                   string                            `json:"taskId"`
	SandboxID                string                            `json:"sandboxId,omitempty"`
	Hierarchy                []*hierarchy.Node                 `json:"hierarchy"`
	SessionInteractions      []models.Interaction              `json:"sessionInteractions"`
	AggregatedInteraction    models.AggregatedInteractionState `json:"aggregatedInteraction"`
	NeedsAttention           bool                              `json:"needsAttention"`
	HasBusySessions          bool                              `json:"hasBusySessions"`
	TodoProgress             models.TodoProgress               `json:"todoProgress"`
	RootSessionCount         int                               `json:"rootSessionCount"`
	TotalSessionCount        int                               `json:"totalSessionCount"`
	SubsessionCount          int                               `json:"subsessionCount"`
	CompletedSubsessionCount int                               `json:"completedSubsessionCount"`
	ProgressPercent          int                               `json:"progressPercent"`
	Unavailable              []string                          `json:"unavailable"`
}

// AllIdle reports whether the task has sessions and every one is idle.
func (p *TaskProgress) AllIdle() bool {
	return interaction.AllIdle(p.SessionInteractions)
}

func empty(task *models.Task) *TaskProgress {
	return &TaskProgress{
		TaskID:              task.ID,
		SandboxID:           task.Data.SandboxID,
		Hierarchy:           []*hierarchy.Node{},
		SessionInteractions: []models.Interaction{},
		AggregatedInteraction: models.AggregatedInteractionState{
			Status:             models.SessionStatusUnknown,
			PendingPermissions: []models.PermissionRequest{},
			PendingQuestions:   []models.QuestionRequest{},
		},
		Unavailable: []string{},
	}
}

// Compute derives a task's progress from one sandbox snapshot. It is pure.
func Compute(task *models.Task, snap *snapshot.Snapshot) *TaskProgress {
	p := empty(task)
	p.Unavailable = append(p.Unavailable, snap.Unavailable...)

	tree := hierarchy.ForTask(hierarchy.Build(snap.Sessions), task.SessionIDs())
	ids := make([]string, len(tree.All))
	for i, s := range tree.All {
		ids[i] = s.ID
	}

	its := interaction.BuildInteractions(snap.Inputs(), ids)
	agg := interaction.Reduce(its)
	completed := interaction.CompletedSubsessionCount(its, tree.RootIDs())

	p.Hierarchy = tree.Roots
	p.SessionInteractions = its
	p.AggregatedInteraction = agg.State
	p.NeedsAttention = agg.NeedsAttention
	p.HasBusySessions = agg.HasBusySessions
	p.TodoProgress = interaction.TodoProgress(its)
	p.RootSessionCount = tree.RootCount
	p.TotalSessionCount = tree.TotalCount
	p.SubsessionCount = tree.SubsessionCount
	p.CompletedSubsessionCount = completed
	p.ProgressPercent = interaction.ProgressPercent(completed, tree.TotalCount)
	return p
}

// SandboxLookup resolves sandbox ids to their records.
type SandboxLookup interface {
	Get(id string) (models.Sandbox, bool)
}

// Service computes progress views against the shared snapshot cache.
type Service struct {
	sandboxes SandboxLookup
	cache     *snapshot.Cache
}

func NewService(sandboxes SandboxLookup, cache *snapshot.Cache) *Service {
	return &Service{sandboxes: sandboxes, cache: cache}
}

// ForTask returns the live progress of a task. A task without a reachable
// sandbox yields an empty view rather than an error.
func (s *Service) ForTask(ctx context.Context, task *models.Task) *TaskProgress {
	if task.Data.SandboxID == "" || len(task.Data.Sessions) == 0 {
		return empty(task)
	}

	sb, ok := s.sandboxes.Get(task.Data.SandboxID)
	if !ok || !sb.Running() {
		p := empty(task)
		p.Unavailable = append(p.Unavailable, SourceSandbox)
		return p
	}

	roots := task.SessionIDs()
	snap := s.cache.Fetch(ctx, sb.OpencodeURL, func(sessions []models.Session) []string {
		tree := hierarchy.ForTask(hierarchy.Build(sessions), roots)
		ids := make([]string, len(tree.All))
		for i, sess := range tree.All {
			ids[i] = sess.ID
		}
		return ids
	})
	return Compute(task, snap)
}

// SandboxSessions is the whole session forest of one sandbox.
type SandboxSessions struct {
	SandboxID           string               `json:"sandboxId"`
	Hierarchy           []*hierarchy.Node    `json:"hierarchy"`
	SessionInteractions []models.Interaction `json:"sessionInteractions"`
	Unavailable         []string             `json:"unavailable"`
}

// ForSandbox returns every session of a running sandbox as a forest.
func (s *Service) ForSandbox(ctx context.Context, sandboxID string) (*SandboxSessions, error) {
	sb, ok := s.sandboxes.Get(sandboxID)
	if !ok {
		return nil, &tasks.NotFoundError{Kind: "Sandbox", ID: sandboxID}
	}

	out := &SandboxSessions{
		SandboxID:           sandboxID,
		Hierarchy:           []*hierarchy.Node{},
		SessionInteractions: []models.Interaction{},
		Unavailable:         []string{},
	}
	if !sb.Running() {
		out.Unavailable = append(out.Unavailable, SourceSandbox)
		return out, nil
	}

	// Todos are only loaded for task views.
	snap := s.cache.Fetch(ctx, sb.OpencodeURL, func([]models.Session) []string { return nil })
	forest := hierarchy.Build(snap.Sessions)
	ids := make([]string, 0, len(snap.Sessions))
	for _, sess := range hierarchy.Flatten(forest) {
		ids = append(ids, sess.ID)
	}

	out.Hierarchy = forest
	out.SessionInteractions = interaction.BuildInteractions(snap.Inputs(), ids)
	out.Unavailable = append(out.Unavailable, snap.Unavailable...)
	return out, nil
}
