package reconcile

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/internal/cache"
	"classroom.app/discussion/internal/model"
)

// Refresher reloads the first page of a scope. *cache.Engine satisfies it.
type Refresher interface {
	LoadFirstPage(ctx context.Context, scope cache.Scope) error
}

// Coordinator treats every inbound event as an invalidation signal: it never
// patches cached items, it refetches page 0 of each open scope the event can
// affect. Refreshes run in the background and a newer refresh of the same
// scope supersedes an older one, so duplicate events are harmless.
type Coordinator struct {
	cache Refresher

	mu   sync.Mutex
	open map[cache.Scope]struct{}
	wg   sync.WaitGroup
}

func NewCoordinator(refresher Refresher) *Coordinator {
	return &Coordinator{
		cache: refresher,
		open:  make(map[cache.Scope]struct{}),
	}
}

// Track marks scope as rendered, making it eligible for event-driven refresh.
func (c *Coordinator) Track(scope cache.Scope) {
	c.mu.Lock()
	c.open[scope] = struct{}{}
	c.mu.Unlock()
}

// Untrack stops routing events to scope.
func (c *Coordinator) Untrack(scope cache.Scope) {
	c.mu.Lock()
	delete(c.open, scope)
	c.mu.Unlock()
}

func (c *Coordinator) Tracked() []cache.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cache.Scope, 0, len(c.open))
	for s := range c.open {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b cache.Scope) int {
		if n := cmp.Compare(a.Kind, b.Kind); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (c *Coordinator) tracked(scope cache.Scope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.open[scope]
	return ok
}

// Targets returns the open scopes an event can affect. A root-level change
// affects the root list of its discussion; any change whose thread is open
// affects that thread. A reply never invalidates the root list.
func (c *Coordinator) Targets(ev model.Event) []cache.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []cache.Scope
	if ev.IsRootLevel() {
		roots := cache.RootsScope(ev.DiscussionID)
		if _, ok := c.open[roots]; ok {
			out = append(out, roots)
		}
	}
	if rootID, ok := ev.ThreadRootID(); ok {
		thread := cache.ThreadScope(rootID)
		if _, ok := c.open[thread]; ok {
			out = append(out, thread)
		}
	}
	return out
}

// HandleEvent starts a refresh of every scope the event affects and returns
// those scopes.
func (c *Coordinator) HandleEvent(ctx context.Context, ev model.Event) []cache.Scope {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DiscussionID: logger.Ptr(ev.DiscussionID),
		EventType:    logger.Ptr(string(ev.Type)),
		Component:    "discussion.reconcile.coordinator",
	})

	targets := c.Targets(ev)
	if len(targets) == 0 {
		slog.DebugContext(ctx, "event affects no open scope", "comment_id", ev.Data.ID)
		return nil
	}
	for _, scope := range targets {
		c.refresh(ctx, scope)
	}
	return targets
}

// RefreshAll refetches every tracked scope.
func (c *Coordinator) RefreshAll(ctx context.Context) []cache.Scope {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "discussion.reconcile.coordinator"})
	scopes := c.Tracked()
	for _, scope := range scopes {
		c.refresh(ctx, scope)
	}
	if len(scopes) > 0 {
		slog.InfoContext(ctx, "refreshing all open scopes", "count", len(scopes))
	}
	return scopes
}

// OnEvent implements transport.Listener.
func (c *Coordinator) OnEvent(ctx context.Context, ev model.Event) {
	c.HandleEvent(ctx, ev)
}

// OnReconnect implements transport.Listener. Events may have been missed
// while the connection was down, so everything open is refetched.
func (c *Coordinator) OnReconnect(ctx context.Context) {
	c.RefreshAll(ctx)
}

// Wait blocks until every refresh started so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) refresh(ctx context.Context, scope cache.Scope) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Scope: logger.Ptr(scope.String())})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if !c.tracked(scope) {
			return
		}
		if err := c.cache.LoadFirstPage(ctx, scope); err != nil {
			// cached pages stay as they were; the next event or reconnect retries
			slog.WarnContext(ctx, "scope refresh failed", "error", err)
		}
	}()
}
