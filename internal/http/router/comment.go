package router

import (
	"github.com/gin-gonic/gin"

	"classroom.app/discussion/internal/http/handler"
)

func DiscussionRouter(rg *gin.RouterGroup, h *handler.CommentHandler) {
	rg.GET("/:id/comments/roots", h.ListRoots)
}

func CommentRouter(rg *gin.RouterGroup, h *handler.CommentHandler) {
	rg.POST("", h.Create)
	rg.GET("/:id/replies", h.ListReplies)
	rg.PATCH("/:id", h.Edit)
	rg.DELETE("/:id", h.Delete)
}
