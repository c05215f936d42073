package store

import (
	"context"
	"errors"
	"math"
	"time"

	"classroom.app/discussion/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// MaxOffset bounds page*size for list queries. Pages starting past it are
// always empty.
const MaxOffset = math.MaxInt32

// CommentStore defines the contract for comment data access.
// Pages are 0-based and ordered by creation time, then id.
type CommentStore interface {
	GetByID(ctx context.Context, id int64) (*model.Comment, error)
	// Create inserts c and, for a reply, bumps the reply count of its root.
	Create(ctx context.Context, c *model.Comment) error
	UpdateText(ctx context.Context, id int64, text string, at time.Time) (*model.Comment, error)
	SoftDelete(ctx context.Context, id int64, at time.Time) (*model.Comment, error)
	ListRoots(ctx context.Context, discussionID int64, page, size int) (model.Page, error)
	ListReplies(ctx context.Context, rootID int64, page, size int) (model.Page, error)
}

// offset returns the first row of a page, or false if it lies past MaxOffset.
func offset(page, size int) (int, bool) {
	if page < 0 || size <= 0 || page > MaxOffset/size {
		return 0, false
	}
	return page * size, true
}
