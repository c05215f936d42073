package model

// Author is the authenticated poster of a comment.
type Author struct {
	ID   int64
	Name string
}
