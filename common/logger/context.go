package logger

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// A component enriches its context once and every slog call made with that context
// carries the discussion/thread it is working on.
type LogFields struct {
	DiscussionID *int64  // Discussion (assignment) the comments belong to
	RootID       *int64  // Root comment of an open thread
	CommentID    *int64  // Comment being created, edited or deleted
	Topic        *string // Pub/sub topic address
	Scope        *string // Cache scope, e.g. "roots/42" or "thread/7"
	EventType    *string // CREATED, UPDATED or DELETED
	Component    string  // Component name, e.g. "discussion.transport.client"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.DiscussionID != nil {
		result.DiscussionID = next.DiscussionID
	}
	if next.RootID != nil {
		result.RootID = next.RootID
	}
	if next.CommentID != nil {
		result.CommentID = next.CommentID
	}
	if next.Topic != nil {
		result.Topic = next.Topic
	}
	if next.Scope != nil {
		result.Scope = next.Scope
	}
	if next.EventType != nil {
		result.EventType = next.EventType
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

func (f LogFields) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 7)
	if f.DiscussionID != nil {
		attrs = append(attrs, slog.Int64("discussion_id", *f.DiscussionID))
	}
	if f.RootID != nil {
		attrs = append(attrs, slog.Int64("root_id", *f.RootID))
	}
	if f.CommentID != nil {
		attrs = append(attrs, slog.Int64("comment_id", *f.CommentID))
	}
	if f.Topic != nil {
		attrs = append(attrs, slog.String("topic", *f.Topic))
	}
	if f.Scope != nil {
		attrs = append(attrs, slog.String("scope", *f.Scope))
	}
	if f.EventType != nil {
		attrs = append(attrs, slog.String("event_type", *f.EventType))
	}
	if f.Component != "" {
		attrs = append(attrs, slog.String("component", f.Component))
	}
	return attrs
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{RootID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen runes, appending "..." if it was cut.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
