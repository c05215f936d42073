package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/internal/model"
)

var (
	ErrNotLoaded    = errors.New("scope has no pages loaded")
	ErrUnknownScope = errors.New("unknown scope kind")
)

// PageSource fetches single pages for a scope. The repository client
// satisfies it.
type PageSource interface {
	FetchRoots(ctx context.Context, discussionID int64, page, size int) (model.Page, error)
	FetchReplies(ctx context.Context, rootID int64, page, size int) (model.Page, error)
}

type scopeState struct {
	pages []model.Page
	seen  map[int64]struct{}

	// gen is bumped by every LoadFirstPage. A fetch commits only if the
	// generation it started under is still current.
	gen    uint64
	cancel context.CancelFunc

	loadingFirst bool
	fetchingNext bool
	lastErr      error
}

// Engine accumulates pages per scope into a de-duplicated list. It is safe
// for concurrent use; fetches run on the caller's goroutine.
type Engine struct {
	source   PageSource
	pageSize int

	mu       sync.Mutex
	scopes   map[Scope]*scopeState
	onChange func(Scope)
}

func NewEngine(source PageSource, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Engine{
		source:   source,
		pageSize: pageSize,
		scopes:   make(map[Scope]*scopeState),
	}
}

// OnChange registers fn to be called after every committed change to a scope.
func (e *Engine) OnChange(fn func(Scope)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

func (e *Engine) PageSize() int {
	return e.pageSize
}

// Open mounts a scope so that loads for it are kept. Opening a scope that is
// already open keeps its pages.
func (e *Engine) Open(scope Scope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.scopes[scope]; !ok {
		e.scopes[scope] = &scopeState{seen: make(map[int64]struct{})}
	}
}

// LoadFirstPage replaces every page of the scope with a fresh page 0. A call
// supersedes any fetch still in flight for the scope; the superseded call
// returns nil and its result is dropped. A scope that is not open is left
// alone and the call returns nil without fetching.
func (e *Engine) LoadFirstPage(ctx context.Context, scope Scope) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Scope:     logger.Ptr(scope.String()),
		Component: "discussion.cache.engine",
	})
	sc := logger.StartSpan(ctx, "discussion.cache.load_first_page")
	defer sc.End()
	ctx = sc.Context()

	e.mu.Lock()
	st, ok := e.scopes[scope]
	if !ok {
		e.mu.Unlock()
		slog.DebugContext(ctx, "skipping load for scope that is not open")
		return nil
	}
	if st.cancel != nil {
		st.cancel()
	}
	st.gen++
	gen := st.gen
	fetchCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.loadingFirst = true
	st.fetchingNext = false
	e.mu.Unlock()
	e.notify(scope)
	defer cancel()

	page, err := e.fetch(fetchCtx, scope, 0)

	e.mu.Lock()
	if !e.current(scope, st, gen) {
		e.mu.Unlock()
		slog.DebugContext(ctx, "dropping superseded first page")
		return nil
	}
	st.loadingFirst = false
	st.cancel = nil
	if err != nil {
		st.lastErr = err
		e.mu.Unlock()
		sc.RecordError(err)
		e.notify(scope)
		return fmt.Errorf("loading first page of %s: %w", scope, err)
	}

	page.Number = 0
	st.seen = make(map[int64]struct{}, len(page.Items))
	page.Items = st.admit(page.Items)
	st.pages = []model.Page{page}
	st.lastErr = nil
	e.mu.Unlock()

	slog.DebugContext(ctx, "first page loaded", "items", len(page.Items), "last", page.Last)
	e.notify(scope)
	return nil
}

// LoadNextPage fetches the page after the last one held and appends it. It is
// a no-op once the last page has been reached or while another fetch for the
// scope is in flight.
func (e *Engine) LoadNextPage(ctx context.Context, scope Scope) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Scope:     logger.Ptr(scope.String()),
		Component: "discussion.cache.engine",
	})
	sc := logger.StartSpan(ctx, "discussion.cache.load_next_page")
	defer sc.End()
	ctx = sc.Context()

	e.mu.Lock()
	st, ok := e.scopes[scope]
	if !ok || (len(st.pages) == 0 && !st.loadingFirst) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLoaded, scope)
	}
	if st.loadingFirst || st.fetchingNext || st.pages[len(st.pages)-1].Last {
		e.mu.Unlock()
		return nil
	}
	next := st.pages[len(st.pages)-1].Number + 1
	gen := st.gen
	fetchCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.fetchingNext = true
	e.mu.Unlock()
	e.notify(scope)
	defer cancel()

	page, err := e.fetch(fetchCtx, scope, next)

	e.mu.Lock()
	if !e.current(scope, st, gen) {
		e.mu.Unlock()
		slog.DebugContext(ctx, "dropping superseded next page", "page", next)
		return nil
	}
	st.fetchingNext = false
	st.cancel = nil
	if err != nil {
		st.lastErr = err
		e.mu.Unlock()
		sc.RecordError(err)
		e.notify(scope)
		return fmt.Errorf("loading page %d of %s: %w", next, scope, err)
	}

	fetched := len(page.Items)
	page.Number = next
	page.Items = st.admit(page.Items)
	st.pages = append(st.pages, page)
	st.lastErr = nil
	e.mu.Unlock()

	if skipped := fetched - len(page.Items); skipped > 0 {
		slog.DebugContext(ctx, "skipped items already held", "page", next, "skipped", skipped)
	}
	e.notify(scope)
	return nil
}

// Discard forgets a scope. A fetch still in flight for it is cancelled and
// its result dropped, and later loads are skipped until the scope is opened
// again.
func (e *Engine) Discard(scope Scope) {
	e.mu.Lock()
	st, ok := e.scopes[scope]
	if ok {
		if st.cancel != nil {
			st.cancel()
		}
		delete(e.scopes, scope)
	}
	e.mu.Unlock()
}

func (e *Engine) Snapshot(scope Scope) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Scope: scope, LastPageNumber: -1}
	st, ok := e.scopes[scope]
	if !ok {
		return snap
	}

	n := 0
	for _, p := range st.pages {
		n += len(p.Items)
	}
	snap.Items = make([]model.Comment, 0, n)
	for _, p := range st.pages {
		snap.Items = append(snap.Items, p.Items...)
	}
	snap.Pages = len(st.pages)
	if len(st.pages) > 0 {
		last := st.pages[len(st.pages)-1]
		snap.LastPageNumber = last.Number
		snap.IsLastPage = last.Last
	}
	snap.IsLoading = st.loadingFirst
	snap.IsFetchingNext = st.fetchingNext
	snap.Err = st.lastErr
	return snap
}

// Has reports whether the scope is open.
func (e *Engine) Has(scope Scope) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.scopes[scope]
	return ok
}

func (e *Engine) fetch(ctx context.Context, scope Scope, page int) (model.Page, error) {
	switch scope.Kind {
	case KindRoots:
		return e.source.FetchRoots(ctx, scope.ID, page, e.pageSize)
	case KindThread:
		return e.source.FetchReplies(ctx, scope.ID, page, e.pageSize)
	default:
		return model.Page{}, fmt.Errorf("%w: %q", ErrUnknownScope, scope.Kind)
	}
}

// current must be called with e.mu held.
func (e *Engine) current(scope Scope, st *scopeState, gen uint64) bool {
	cur, ok := e.scopes[scope]
	return ok && cur == st && cur.gen == gen
}

func (e *Engine) notify(scope Scope) {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn(scope)
	}
}

// admit returns the items whose id has not been seen yet and records them.
func (st *scopeState) admit(items []model.Comment) []model.Comment {
	out := items[:0:0]
	for _, it := range items {
		if _, dup := st.seen[it.ID]; dup {
			continue
		}
		st.seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}
