package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEvent = errors.New("malformed event")

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// Event is a comment-change notification delivered over the broker. The
// envelope ids are optional; routing falls back to the embedded comment.
type Event struct {
	Type         EventType `json:"type"`
	Data         Comment   `json:"data"`
	DiscussionID int64     `json:"discussionId"`
	RootID       *int64    `json:"rootId,omitempty"`
	ParentID     *int64    `json:"parentId,omitempty"`
}

// NewEvent builds the envelope for a change to c.
func NewEvent(t EventType, c Comment) Event {
	ev := Event{
		Type:         t,
		Data:         c,
		DiscussionID: c.DiscussionID,
		ParentID:     c.ParentID,
	}
	if c.RootID != 0 {
		rootID := c.RootID
		ev.RootID = &rootID
	}
	return ev
}

// IsRootLevel reports whether the change concerns a root comment.
func (e Event) IsRootLevel() bool {
	if e.ParentID != nil {
		return false
	}
	if e.Data.ID != 0 {
		return e.Data.ParentID == nil
	}
	return true
}

// ThreadRootID returns the root id of the thread the change belongs to.
func (e Event) ThreadRootID() (int64, bool) {
	if e.RootID != nil {
		return *e.RootID, true
	}
	if e.Data.RootID != 0 {
		return e.Data.RootID, true
	}
	return 0, false
}

// ParseEvent decodes and validates a broker payload.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, ev.Type)
	}
	if ev.DiscussionID <= 0 {
		return Event{}, fmt.Errorf("%w: missing discussionId", ErrMalformedEvent)
	}
	if ev.Data.DiscussionID != 0 && ev.Data.DiscussionID != ev.DiscussionID {
		return Event{}, fmt.Errorf("%w: data belongs to discussion %d, envelope says %d",
			ErrMalformedEvent, ev.Data.DiscussionID, ev.DiscussionID)
	}
	return ev, nil
}
