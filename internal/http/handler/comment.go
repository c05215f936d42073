package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"classroom.app/discussion/internal/http/dto"
	"classroom.app/discussion/internal/http/middleware"
	"classroom.app/discussion/internal/service"
)

const defaultPageSize = 20

type CommentHandler struct {
	commentService service.CommentService
}

func NewCommentHandler(commentService service.CommentService) *CommentHandler {
	return &CommentHandler{commentService: commentService}
}

// ListRoots serves GET /discussions/:id/comments/roots.
func (h *CommentHandler) ListRoots(c *gin.Context) {
	ctx := c.Request.Context()

	discussionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	q, ok := bindPage(c)
	if !ok {
		return
	}

	page, err := h.commentService.ListRoots(ctx, discussionID, q.Page, q.Size)
	if err != nil {
		respondError(c, err, "failed to list comments")
		return
	}

	c.JSON(http.StatusOK, dto.ToPageResponse(page))
}

// ListReplies serves GET /comments/:id/replies.
func (h *CommentHandler) ListReplies(c *gin.Context) {
	ctx := c.Request.Context()

	rootID, ok := pathID(c, "id")
	if !ok {
		return
	}
	q, ok := bindPage(c)
	if !ok {
		return
	}

	page, err := h.commentService.ListReplies(ctx, rootID, q.Page, q.Size)
	if err != nil {
		respondError(c, err, "failed to list replies")
		return
	}

	c.JSON(http.StatusOK, dto.ToPageResponse(page))
}

func (h *CommentHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	author, ok := middleware.GetAuthor(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req dto.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.commentService.Create(ctx, author, req.ToModel())
	if err != nil {
		respondError(c, err, "failed to create comment")
		return
	}

	c.JSON(http.StatusCreated, dto.ToCommentResponse(comment))
}

func (h *CommentHandler) Edit(c *gin.Context) {
	ctx := c.Request.Context()

	author, ok := middleware.GetAuthor(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	commentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.EditCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.commentService.Edit(ctx, author, commentID, req.Text)
	if err != nil {
		respondError(c, err, "failed to edit comment")
		return
	}

	c.JSON(http.StatusOK, dto.ToCommentResponse(comment))
}

func (h *CommentHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	author, ok := middleware.GetAuthor(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	commentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	comment, err := h.commentService.Delete(ctx, author, commentID)
	if err != nil {
		respondError(c, err, "failed to delete comment")
		return
	}

	c.JSON(http.StatusOK, dto.ToCommentResponse(comment))
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func bindPage(c *gin.Context) (dto.PageQuery, bool) {
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return q, false
	}
	if q.Size == 0 {
		q.Size = defaultPageSize
	}
	return q, true
}

func respondError(c *gin.Context, err error, msg string) {
	ctx := c.Request.Context()

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the author may change this comment"})
	default:
		slog.ErrorContext(ctx, msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
