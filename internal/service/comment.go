package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"classroom.app/discussion/common/id"
	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/internal/model"
	"classroom.app/discussion/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
)

const maxPageSize = 100

// EventPublisher delivers comment events to subscribers. Publish failures
// never fail the request that caused them.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

type CommentService interface {
	ListRoots(ctx context.Context, discussionID int64, page, size int) (model.Page, error)
	ListReplies(ctx context.Context, rootID int64, page, size int) (model.Page, error)
	Create(ctx context.Context, author model.Author, req model.CreateComment) (*model.Comment, error)
	Edit(ctx context.Context, author model.Author, id int64, text string) (*model.Comment, error)
	Delete(ctx context.Context, author model.Author, id int64) (*model.Comment, error)
}

type CommentServiceConfig struct {
	MaxTextLength int
}

type commentService struct {
	comments  store.CommentStore
	publisher EventPublisher
	maxText   int
	now       func() time.Time
}

func NewCommentService(comments store.CommentStore, publisher EventPublisher, cfg CommentServiceConfig) CommentService {
	maxText := cfg.MaxTextLength
	if maxText <= 0 {
		maxText = 2000
	}
	return &commentService{
		comments:  comments,
		publisher: publisher,
		maxText:   maxText,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *commentService) ListRoots(ctx context.Context, discussionID int64, page, size int) (model.Page, error) {
	if discussionID <= 0 {
		return model.Page{}, fmt.Errorf("%w: discussion id must be positive", ErrInvalidInput)
	}
	if err := validatePaging(page, size); err != nil {
		return model.Page{}, err
	}
	p, err := s.comments.ListRoots(ctx, discussionID, page, size)
	if err != nil {
		return model.Page{}, fmt.Errorf("listing roots: %w", err)
	}
	return p, nil
}

func (s *commentService) ListReplies(ctx context.Context, rootID int64, page, size int) (model.Page, error) {
	if err := validatePaging(page, size); err != nil {
		return model.Page{}, err
	}
	root, err := s.get(ctx, rootID)
	if err != nil {
		return model.Page{}, err
	}
	if !root.IsRoot() {
		return model.Page{}, fmt.Errorf("%w: comment %d is not a root comment", ErrInvalidInput, rootID)
	}

	p, err := s.comments.ListReplies(ctx, rootID, page, size)
	if err != nil {
		return model.Page{}, fmt.Errorf("listing replies: %w", err)
	}
	return p, nil
}

// Create stores a new root comment or reply. A reply to a reply joins the
// thread of its parent's root, so threads stay two levels deep.
func (s *commentService) Create(ctx context.Context, author model.Author, req model.CreateComment) (*model.Comment, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DiscussionID: logger.Ptr(req.DiscussionID),
		Component:    "discussion.service.comment",
	})

	if req.DiscussionID <= 0 {
		return nil, fmt.Errorf("%w: discussion id must be positive", ErrInvalidInput)
	}
	text, err := s.validateText(req.Text)
	if err != nil {
		return nil, err
	}

	c := &model.Comment{
		ID:           id.New(),
		DiscussionID: req.DiscussionID,
		AuthorID:     author.ID,
		AuthorName:   author.Name,
		Text:         text,
		CreatedAt:    s.now(),
	}
	c.RootID = c.ID

	if req.ParentID != nil {
		parent, err := s.get(ctx, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.DiscussionID != req.DiscussionID {
			return nil, fmt.Errorf("%w: parent %d belongs to another discussion", ErrInvalidInput, parent.ID)
		}
		if parent.Deleted {
			return nil, fmt.Errorf("%w: parent %d was deleted", ErrInvalidInput, parent.ID)
		}
		c.ParentID = &parent.ID
		c.RootID = parent.RootID
	}

	if err := s.comments.Create(ctx, c); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: thread root %d", ErrNotFound, c.RootID)
		}
		slog.ErrorContext(ctx, "failed to create comment", "error", err)
		return nil, fmt.Errorf("creating comment: %w", err)
	}

	slog.InfoContext(ctx, "comment created", "comment_id", c.ID, "root_id", c.RootID, "author_id", author.ID)
	s.publish(ctx, model.NewEvent(model.EventCreated, *c))

	// the root's reply count changed, so root lists need a refetch too
	if !c.IsRoot() {
		root, err := s.comments.GetByID(ctx, c.RootID)
		if err != nil {
			slog.WarnContext(ctx, "failed to reload thread root", "error", err, "root_id", c.RootID)
			return c, nil
		}
		s.publish(ctx, model.NewEvent(model.EventUpdated, *root))
	}
	return c, nil
}

func (s *commentService) Edit(ctx context.Context, author model.Author, commentID int64, text string) (*model.Comment, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommentID: logger.Ptr(commentID),
		Component: "discussion.service.comment",
	})

	text, err := s.validateText(text)
	if err != nil {
		return nil, err
	}
	existing, err := s.owned(ctx, author, commentID)
	if err != nil {
		return nil, err
	}
	if existing.Deleted {
		return nil, fmt.Errorf("%w: comment %d was deleted", ErrInvalidInput, commentID)
	}

	updated, err := s.comments.UpdateText(ctx, commentID, text, s.now())
	if err != nil {
		return nil, s.mapStoreErr(err, "editing comment")
	}

	slog.InfoContext(ctx, "comment edited")
	s.publish(ctx, model.NewEvent(model.EventUpdated, *updated))
	return updated, nil
}

// Delete soft-deletes a comment. Replies stay addressable under their root.
func (s *commentService) Delete(ctx context.Context, author model.Author, commentID int64) (*model.Comment, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommentID: logger.Ptr(commentID),
		Component: "discussion.service.comment",
	})

	existing, err := s.owned(ctx, author, commentID)
	if err != nil {
		return nil, err
	}
	if existing.Deleted {
		return existing, nil
	}

	deleted, err := s.comments.SoftDelete(ctx, commentID, s.now())
	if err != nil {
		return nil, s.mapStoreErr(err, "deleting comment")
	}

	slog.InfoContext(ctx, "comment deleted")
	s.publish(ctx, model.NewEvent(model.EventDeleted, *deleted))
	return deleted, nil
}

func (s *commentService) get(ctx context.Context, commentID int64) (*model.Comment, error) {
	c, err := s.comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, s.mapStoreErr(err, "loading comment")
	}
	return c, nil
}

func (s *commentService) owned(ctx context.Context, author model.Author, commentID int64) (*model.Comment, error) {
	c, err := s.get(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if c.AuthorID != author.ID {
		slog.WarnContext(ctx, "comment change by non-author rejected", "author_id", author.ID)
		return nil, fmt.Errorf("%w: only the author may change comment %d", ErrForbidden, commentID)
	}
	return c, nil
}

func (s *commentService) publish(ctx context.Context, ev model.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "failed to publish comment event",
			"error", err,
			"event_type", ev.Type,
			"comment_id", ev.Data.ID)
	}
}

func (s *commentService) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > s.maxText {
		return "", fmt.Errorf("%w: text exceeds %d characters", ErrInvalidInput, s.maxText)
	}
	return text, nil
}

func (s *commentService) mapStoreErr(err error, action string) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", action, err)
}

func validatePaging(page, size int) error {
	if page < 0 {
		return fmt.Errorf("%w: page must not be negative", ErrInvalidInput)
	}
	if size <= 0 || size > maxPageSize {
		return fmt.Errorf("%w: size must be between 1 and %d", ErrInvalidInput, maxPageSize)
	}
	if page > store.MaxOffset/size {
		return fmt.Errorf("%w: page %d is out of range", ErrInvalidInput, page)
	}
	return nil
}
