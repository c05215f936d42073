package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"classroom.app/discussion/internal/model"
)

type memoryCommentStore struct {
	mu sync.RWMutex

	byID    map[int64]model.Comment
	roots   map[int64][]int64
	replies map[int64][]int64
}

// NewMemoryCommentStore returns a CommentStore that keeps everything in
// process memory. Used when no database is configured.
func NewMemoryCommentStore() CommentStore {
	return &memoryCommentStore{
		byID:    make(map[int64]model.Comment),
		roots:   make(map[int64][]int64),
		replies: make(map[int64][]int64),
	}
}

func (s *memoryCommentStore) GetByID(_ context.Context, id int64) (*model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *memoryCommentStore) Create(_ context.Context, c *model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *c
	stored.Edited = false
	stored.Deleted = false
	stored.ReplyCount = 0
	stored.UpdatedAt = nil

	if stored.IsRoot() {
		s.roots[stored.DiscussionID] = s.insertOrdered(s.roots[stored.DiscussionID], stored)
	} else {
		root, ok := s.byID[stored.RootID]
		if !ok {
			return ErrNotFound
		}
		root.ReplyCount++
		s.byID[root.ID] = root
		s.replies[stored.RootID] = s.insertOrdered(s.replies[stored.RootID], stored)
	}
	s.byID[stored.ID] = stored

	*c = stored
	return nil
}

func (s *memoryCommentStore) UpdateText(_ context.Context, id int64, text string, at time.Time) (*model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Text = text
	c.Edited = true
	c.UpdatedAt = &at
	s.byID[id] = c
	return &c, nil
}

func (s *memoryCommentStore) SoftDelete(_ context.Context, id int64, at time.Time) (*model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Deleted = true
	c.Text = ""
	c.UpdatedAt = &at
	s.byID[id] = c
	return &c, nil
}

func (s *memoryCommentStore) ListRoots(_ context.Context, discussionID int64, page, size int) (model.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageOf(s.roots[discussionID], page, size), nil
}

func (s *memoryCommentStore) ListReplies(_ context.Context, rootID int64, page, size int) (model.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageOf(s.replies[rootID], page, size), nil
}

// insertOrdered keeps ids sorted by (created_at, id). Must be called with s.mu held.
func (s *memoryCommentStore) insertOrdered(ids []int64, c model.Comment) []int64 {
	i, _ := slices.BinarySearchFunc(ids, c, func(id int64, target model.Comment) int {
		other := s.byID[id]
		if n := other.CreatedAt.Compare(target.CreatedAt); n != 0 {
			return n
		}
		switch {
		case other.ID < target.ID:
			return -1
		case other.ID > target.ID:
			return 1
		}
		return 0
	})
	return slices.Insert(ids, i, c.ID)
}

// pageOf must be called with s.mu held.
func (s *memoryCommentStore) pageOf(ids []int64, page, size int) model.Page {
	first, ok := offset(page, size)
	if !ok {
		return model.Page{Items: []model.Comment{}, Number: page, Last: true}
	}
	start := min(first, len(ids))
	end := min(start+size+1, len(ids))

	items := make([]model.Comment, 0, end-start)
	for _, id := range ids[start:end] {
		items = append(items, s.byID[id])
	}
	return toPage(items, page, size)
}
