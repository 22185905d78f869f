// Package snapshot keeps one shared, read-only view of each sandbox's
// agent-runtime data per poll interval.
package snapshot

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/frak-id/atelier-sub002/internal/interaction"
	"github.com/frak-id/atelier-sub002/internal/models"
)

// Slice names. Todos are cached per session under TodoSlice(sessionID).
const (
	SliceSessions    = "sessions"
	SliceStatuses    = "statuses"
	SlicePermissions = "permissions"
	SliceQuestions   = "questions"
	todoPrefix       = "todos/"
)

// TodoSlice names the todo entry of one session.
func TodoSlice(sessionID string) string {
	return todoPrefix + sessionID
}

// Source is the subset of the runtime client the cache reads from.
type Source interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	SessionStatuses(ctx context.Context) (map[string]models.RawStatus, error)
	ListPermissions(ctx context.Context) ([]models.PermissionRequest, error)
	ListQuestions(ctx context.Context) ([]models.QuestionRequest, error)
	ListTodos(ctx context.Context, sessionID string) ([]models.Todo, error)
}

// SourceFactory builds the Source for a runtime base URL.
type SourceFactory func(baseURL string) Source

// TodoSelector picks the sessions whose todos a Fetch should load. A nil
// selector loads todos for every session.
type TodoSelector func(sessions []models.Session) []string

// Snapshot is a caller-owned copy of one sandbox's data.
type Snapshot struct {
	URL         string                      `json:"url"`
	Sessions    []models.Session            `json:"sessions"`
	Statuses    map[string]models.RawStatus `json:"statuses"`
	Permissions []models.PermissionRequest  `json:"permissions"`
	Questions   []models.QuestionRequest    `json:"questions"`
	Todos       map[string][]models.Todo    `json:"todos"`
	Unavailable []string                    `json:"unavailable"`
}

// Inputs adapts the snapshot for the interaction aggregator.
func (s *Snapshot) Inputs() interaction.Inputs {
	return interaction.Inputs{
		Statuses:    s.Statuses,
		Permissions: s.Permissions,
		Questions:   s.Questions,
		Todos:       s.Todos,
	}
}

type entry struct {
	value     any
	fetchedAt time.Time
	stale     bool
}

// Cache serves slices younger than the poll interval and re-fetches the
// rest. Concurrent loads of the same slice share one request. Failed loads
// are never cached.
type Cache struct {
	ttl             time.Duration
	todoConcurrency int
	newSource       SourceFactory
	logger          *slog.Logger
	now             func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	gens    map[string]uint64
	sources map[string]Source
	group   singleflight.Group
}

func NewCache(ttl time.Duration, todoConcurrency int, newSource SourceFactory, logger *slog.Logger) *Cache {
	if todoConcurrency <= 0 {
		todoConcurrency = 8
	}
	return &Cache{
		ttl:             ttl,
		todoConcurrency: todoConcurrency,
		newSource:       newSource,
		logger:          logger.With("component", "snapshot"),
		now:             time.Now,
		entries:         make(map[string]*entry),
		gens:            make(map[string]uint64),
		sources:         make(map[string]Source),
	}
}

func cacheKey(url, slice string) string {
	return url + "\x00" + slice
}

// Invalidate marks slices of a sandbox stale so the next read re-fetches
// them. Loads already in flight finish but their result is stored stale.
func (c *Cache) Invalidate(url string, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range names {
		key := cacheKey(url, s)
		c.gens[key]++
		if e, ok := c.entries[key]; ok {
			e.stale = true
		}
	}
}

// InvalidateAll marks every slice of a sandbox stale.
func (c *Cache) InvalidateAll(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := url + "\x00"
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.gens[key]++
			e.stale = true
		}
	}
}

// Forget drops everything cached for a sandbox.
func (c *Cache) Forget(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := url + "\x00"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	for key := range c.gens {
		if strings.HasPrefix(key, prefix) {
			delete(c.gens, key)
		}
	}
	delete(c.sources, url)
}

// Fetch returns a snapshot of the sandbox at url. The four sandbox-wide
// slices load together; todos then fan out for the selected sessions.
// A failed slice is empty in the result and named in Unavailable.
func (c *Cache) Fetch(ctx context.Context, url string, selectTodos TodoSelector) *Snapshot {
	src := c.source(url)
	snap := &Snapshot{
		URL:         url,
		Sessions:    []models.Session{},
		Statuses:    map[string]models.RawStatus{},
		Permissions: []models.PermissionRequest{},
		Questions:   []models.QuestionRequest{},
		Todos:       map[string][]models.Todo{},
		Unavailable: []string{},
	}

	var (
		sessions    []models.Session
		statuses    map[string]models.RawStatus
		permissions []models.PermissionRequest
		questions   []models.QuestionRequest
		failed      [4]bool
	)

	var g errgroup.Group
	g.Go(func() error {
		v, err := load(ctx, c, url, SliceSessions, src.ListSessions)
		sessions, failed[0] = v, err != nil
		return nil
	})
	g.Go(func() error {
		v, err := load(ctx, c, url, SliceStatuses, src.SessionStatuses)
		statuses, failed[1] = v, err != nil
		return nil
	})
	g.Go(func() error {
		v, err := load(ctx, c, url, SlicePermissions, src.ListPermissions)
		permissions, failed[2] = v, err != nil
		return nil
	})
	g.Go(func() error {
		v, err := load(ctx, c, url, SliceQuestions, src.ListQuestions)
		questions, failed[3] = v, err != nil
		return nil
	})
	_ = g.Wait()

	for i, name := range []string{SliceSessions, SliceStatuses, SlicePermissions, SliceQuestions} {
		if failed[i] {
			snap.Unavailable = append(snap.Unavailable, name)
		}
	}
	if sessions != nil {
		snap.Sessions = slices.Clone(sessions)
	}
	if statuses != nil {
		snap.Statuses = maps.Clone(statuses)
	}
	if permissions != nil {
		snap.Permissions = slices.Clone(permissions)
	}
	for _, q := range questions {
		snap.Questions = append(snap.Questions, cloneQuestion(q))
	}

	var todoIDs []string
	if selectTodos != nil {
		todoIDs = selectTodos(snap.Sessions)
	} else {
		for _, s := range snap.Sessions {
			todoIDs = append(todoIDs, s.ID)
		}
	}
	todoIDs = uniq(todoIDs)

	todos := make([][]models.Todo, len(todoIDs))
	todoFailed := make([]bool, len(todoIDs))
	var tg errgroup.Group
	tg.SetLimit(c.todoConcurrency)
	for i, id := range todoIDs {
		tg.Go(func() error {
			v, err := load(ctx, c, url, TodoSlice(id), func(ctx context.Context) ([]models.Todo, error) {
				return src.ListTodos(ctx, id)
			})
			todos[i], todoFailed[i] = v, err != nil
			return nil
		})
	}
	_ = tg.Wait()

	for i, id := range todoIDs {
		if todoFailed[i] {
			snap.Unavailable = append(snap.Unavailable, TodoSlice(id))
			continue
		}
		snap.Todos[id] = slices.Clone(todos[i])
		if snap.Todos[id] == nil {
			snap.Todos[id] = []models.Todo{}
		}
	}
	return snap
}

// load returns a fresh cached slice or fetches it. The fetch runs detached
// from the caller's cancellation so that a shared load survives one caller
// giving up; the source's own timeout bounds it.
func load[T any](ctx context.Context, c *Cache, url, slice string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	key := cacheKey(url, slice)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.value.(T), nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		gen := c.gens[key]
		c.mu.Unlock()

		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			c.logger.Warn("sandbox source unavailable", "sandbox", url, "source", slice, "error", err)
			return nil, err
		}

		c.mu.Lock()
		if _, known := c.sources[url]; known {
			c.entries[key] = &entry{value: v, fetchedAt: c.now(), stale: c.gens[key] != gen}
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (c *Cache) source(url string) Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.sources[url]
	if !ok {
		src = c.newSource(url)
		c.sources[url] = src
	}
	return src
}

func cloneQuestion(q models.QuestionRequest) models.QuestionRequest {
	prompts := make([]models.QuestionPrompt, len(q.Prompts))
	for i, p := range q.Prompts {
		p.Options = slices.Clone(p.Options)
		prompts[i] = p
	}
	q.Prompts = prompts
	return q
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
