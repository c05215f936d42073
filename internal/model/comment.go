package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidComment = errors.New("invalid comment")

// Comment is a single discussion post. Threads are exactly two levels deep:
// a root comment and the replies flattened under its id.
type Comment struct {
	ID           int64      `json:"id"`
	DiscussionID int64      `json:"discussionId"`
	AuthorID     int64      `json:"authorId"`
	AuthorName   string     `json:"authorName"`
	Text         string     `json:"text"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
	Edited       bool       `json:"edited"`
	Deleted      bool       `json:"deleted"`
	ParentID     *int64     `json:"parentId"`
	RootID       int64      `json:"rootId"`
	ReplyCount   int        `json:"replyCount"`
}

func (c Comment) IsRoot() bool {
	return c.ParentID == nil
}

// Validate checks the root/reply invariant: a comment has no parent exactly
// when it is its own root.
func (c Comment) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidComment, c.ID)
	}
	if c.DiscussionID <= 0 {
		return fmt.Errorf("%w: comment %d has no discussion", ErrInvalidComment, c.ID)
	}
	if c.IsRoot() != (c.RootID == c.ID) {
		return fmt.Errorf("%w: comment %d has parent=%v root=%d", ErrInvalidComment, c.ID, ptrString(c.ParentID), c.RootID)
	}
	if c.ParentID != nil && *c.ParentID == c.ID {
		return fmt.Errorf("%w: comment %d is its own parent", ErrInvalidComment, c.ID)
	}
	return nil
}

// CreateComment is the body of a create call. A nil ParentID creates a root comment.
type CreateComment struct {
	DiscussionID int64  `json:"discussionId"`
	Text         string `json:"text"`
	ParentID     *int64 `json:"parentId,omitempty"`
}

func (r CreateComment) IsReply() bool {
	return r.ParentID != nil
}

func ptrString(p *int64) string {
	if p == nil {
		return "null"
	}
	return fmt.Sprint(*p)
}
