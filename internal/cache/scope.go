package cache

import (
	"fmt"

	"classroom.app/discussion/internal/model"
)

type Kind string

const (
	KindRoots  Kind = "roots"
	KindThread Kind = "thread"
)

// Scope is the unit of pagination: the roots of one discussion or the
// replies of one thread.
type Scope struct {
	Kind Kind
	ID   int64
}

func RootsScope(discussionID int64) Scope {
	return Scope{Kind: KindRoots, ID: discussionID}
}

func ThreadScope(rootID int64) Scope {
	return Scope{Kind: KindThread, ID: rootID}
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%d", s.Kind, s.ID)
}

// Snapshot is a copy of a scope's state at one point in time.
type Snapshot struct {
	Scope          Scope
	Items          []model.Comment
	Pages          int
	LastPageNumber int
	IsLastPage     bool
	IsLoading      bool
	IsFetchingNext bool
	Err            error
}

// Loaded reports whether at least one page has been committed.
func (s Snapshot) Loaded() bool {
	return s.Pages > 0
}
