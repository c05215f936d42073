package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/internal/cache"
	"classroom.app/discussion/internal/model"
	"classroom.app/discussion/internal/reconcile"
	"classroom.app/discussion/internal/transport"
)

var (
	ErrNoDiscussion   = errors.New("no discussion open")
	ErrNoThread       = errors.New("no thread open")
	ErrNotRootComment = errors.New("not a root comment of the open discussion")
)

type State int

const (
	Closed State = iota
	RootsOpen
	ThreadOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case RootsOpen:
		return "roots_open"
	case ThreadOpen:
		return "thread_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Creator submits new comments. The repository client satisfies it.
type Creator interface {
	Create(ctx context.Context, req model.CreateComment) (model.Comment, error)
}

// Connector opens a handle on the shared broker connection.
type Connector interface {
	Connect(ctx context.Context, l transport.Listener) *transport.Handle
}

// Session tracks which discussion and thread are on screen and keeps their
// scopes and topic subscriptions mounted. At most one thread is open at a
// time, so a session holds at most two live scopes.
type Session struct {
	engine    *cache.Engine
	creator   Creator
	connector Connector
	coord     *reconcile.Coordinator

	mu              sync.Mutex
	state           State
	discussionID    int64
	thread          model.Comment
	handle          *transport.Handle
	unsubDiscussion func()
	unsubThread     func()
	likes           map[int64]bool
}

func NewSession(engine *cache.Engine, creator Creator, connector Connector) *Session {
	return &Session{
		engine:    engine,
		creator:   creator,
		connector: connector,
		coord:     reconcile.NewCoordinator(engine),
		likes:     make(map[int64]bool),
	}
}

// OpenDiscussion mounts the root list of a discussion. Opening the discussion
// that is already open is a no-op; opening another one closes the current one
// first.
func (s *Session) OpenDiscussion(ctx context.Context, discussionID int64) error {
	ctx = s.logContext(ctx, discussionID)

	s.mu.Lock()
	if s.state != Closed && s.discussionID == discussionID {
		s.mu.Unlock()
		return nil
	}
	if s.state != Closed {
		s.closeLocked(ctx)
	}

	s.handle = s.connector.Connect(ctx, s.coord)
	unsub, err := s.handle.Subscribe(ctx, transport.DiscussionTopic(discussionID))
	if err != nil {
		_ = s.handle.Close()
		s.handle = nil
		s.mu.Unlock()
		return fmt.Errorf("subscribing to discussion %d: %w", discussionID, err)
	}
	s.unsubDiscussion = unsub
	s.discussionID = discussionID
	s.state = RootsOpen
	scope := cache.RootsScope(discussionID)
	s.engine.Open(scope)
	s.coord.Track(scope)
	s.mu.Unlock()

	slog.InfoContext(ctx, "discussion opened")
	return s.engine.LoadFirstPage(ctx, scope)
}

// SelectThread mounts the reply thread of a root comment. A thread that is
// already open is torn down before the new one is mounted.
func (s *Session) SelectThread(ctx context.Context, root model.Comment) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrNoDiscussion
	}
	if !root.IsRoot() || root.RootID != root.ID || root.DiscussionID != s.discussionID {
		s.mu.Unlock()
		return fmt.Errorf("%w: comment %d", ErrNotRootComment, root.ID)
	}
	ctx = logger.WithLogFields(s.logContext(ctx, s.discussionID), logger.LogFields{RootID: logger.Ptr(root.ID)})

	if s.state == ThreadOpen {
		if s.thread.ID == root.ID {
			s.mu.Unlock()
			return nil
		}
		s.closeThreadLocked()
	}

	unsub, err := s.handle.Subscribe(ctx, transport.ThreadTopic(root.ID))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("subscribing to thread %d: %w", root.ID, err)
	}
	s.unsubThread = unsub
	s.thread = root
	s.state = ThreadOpen
	scope := cache.ThreadScope(root.ID)
	s.engine.Open(scope)
	s.coord.Track(scope)
	s.mu.Unlock()

	slog.InfoContext(ctx, "thread opened")
	return s.engine.LoadFirstPage(ctx, scope)
}

// CloseThread unmounts the open thread and keeps the root list.
func (s *Session) CloseThread() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ThreadOpen {
		return ErrNoThread
	}
	s.closeThreadLocked()
	return nil
}

// CloseDiscussion unmounts everything. It is safe to call in any state.
func (s *Session) CloseDiscussion(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.closeLocked(s.logContext(ctx, s.discussionID))
}

func (s *Session) closeThreadLocked() {
	scope := cache.ThreadScope(s.thread.ID)
	s.coord.Untrack(scope)
	if s.unsubThread != nil {
		s.unsubThread()
		s.unsubThread = nil
	}
	s.engine.Discard(scope)
	s.thread = model.Comment{}
	s.state = RootsOpen
}

func (s *Session) closeLocked(ctx context.Context) {
	if s.state == ThreadOpen {
		s.closeThreadLocked()
	}
	scope := cache.RootsScope(s.discussionID)
	s.coord.Untrack(scope)
	if s.unsubDiscussion != nil {
		s.unsubDiscussion()
		s.unsubDiscussion = nil
	}
	s.engine.Discard(scope)
	if s.handle != nil {
		_ = s.handle.Close()
		s.handle = nil
	}
	clear(s.likes)
	s.discussionID = 0
	s.state = Closed
	slog.InfoContext(ctx, "discussion closed")
}

func (s *Session) LoadMoreRoots(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrNoDiscussion
	}
	scope := cache.RootsScope(s.discussionID)
	s.mu.Unlock()
	return s.engine.LoadNextPage(ctx, scope)
}

func (s *Session) LoadMoreReplies(ctx context.Context) error {
	s.mu.Lock()
	if s.state != ThreadOpen {
		s.mu.Unlock()
		return ErrNoThread
	}
	scope := cache.ThreadScope(s.thread.ID)
	s.mu.Unlock()
	return s.engine.LoadNextPage(ctx, scope)
}

// Refresh refetches the first page of every mounted scope. A scope closed
// while the refresh runs stays closed.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrNoDiscussion
	}
	scopes := []cache.Scope{cache.RootsScope(s.discussionID)}
	if s.state == ThreadOpen {
		scopes = append(scopes, cache.ThreadScope(s.thread.ID))
	}
	s.mu.Unlock()

	var errs []error
	for _, scope := range scopes {
		if err := s.engine.LoadFirstPage(ctx, scope); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Submit posts a new root comment to the open discussion. Nothing is added
// to the root list until the refetch that follows a successful create.
func (s *Session) Submit(ctx context.Context, text string) (model.Comment, error) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return model.Comment{}, ErrNoDiscussion
	}
	discussionID := s.discussionID
	s.mu.Unlock()

	return s.create(ctx, model.CreateComment{DiscussionID: discussionID, Text: text}, cache.RootsScope(discussionID))
}

// Reply posts a reply to the open thread. Replies always attach to the
// thread's root comment.
func (s *Session) Reply(ctx context.Context, text string) (model.Comment, error) {
	s.mu.Lock()
	if s.state != ThreadOpen {
		s.mu.Unlock()
		return model.Comment{}, ErrNoThread
	}
	rootID := s.thread.ID
	discussionID := s.discussionID
	s.mu.Unlock()

	req := model.CreateComment{DiscussionID: discussionID, Text: text, ParentID: &rootID}
	return s.create(ctx, req, cache.ThreadScope(rootID))
}

func (s *Session) create(ctx context.Context, req model.CreateComment, owner cache.Scope) (model.Comment, error) {
	ctx = s.logContext(ctx, req.DiscussionID)

	created, err := s.creator.Create(ctx, req)
	if err != nil {
		return model.Comment{}, err
	}

	if s.isMounted(owner) {
		if err := s.engine.LoadFirstPage(ctx, owner); err != nil {
			slog.WarnContext(ctx, "refresh after create failed", "error", err, "comment_id", created.ID)
		}
	}
	return created, nil
}

func (s *Session) isMounted(scope cache.Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch scope.Kind {
	case cache.KindRoots:
		return s.state != Closed && s.discussionID == scope.ID
	case cache.KindThread:
		return s.state == ThreadOpen && s.thread.ID == scope.ID
	}
	return false
}

// ToggleLike flips the local like mark on a comment and returns the new
// value. Likes are never sent to the server and are forgotten on close.
func (s *Session) ToggleLike(commentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.likes[commentID] {
		delete(s.likes, commentID)
		return false
	}
	s.likes[commentID] = true
	return true
}

func (s *Session) Liked(commentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes[commentID]
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) DiscussionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discussionID
}

// Thread returns the root comment of the open thread.
func (s *Session) Thread() (model.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread, s.state == ThreadOpen
}

func (s *Session) Roots() cache.Snapshot {
	s.mu.Lock()
	scope := cache.RootsScope(s.discussionID)
	s.mu.Unlock()
	return s.engine.Snapshot(scope)
}

func (s *Session) Replies() cache.Snapshot {
	s.mu.Lock()
	open := s.state == ThreadOpen
	scope := cache.ThreadScope(s.thread.ID)
	s.mu.Unlock()
	if !open {
		return cache.Snapshot{Scope: scope, LastPageNumber: -1}
	}
	return s.engine.Snapshot(scope)
}

// Topics returns the broker topics the session is subscribed to.
func (s *Session) Topics() []transport.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	return s.handle.Topics()
}

// Wait blocks until event-driven refreshes started so far have finished.
func (s *Session) Wait() {
	s.coord.Wait()
}

func (s *Session) logContext(ctx context.Context, discussionID int64) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		DiscussionID: logger.Ptr(discussionID),
		Component:    "discussion.view.session",
	})
}
