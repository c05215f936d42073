package router

import (
	"github.com/gin-gonic/gin"

	"classroom.app/discussion/internal/http/handler"
	"classroom.app/discussion/internal/http/middleware"
	"classroom.app/discussion/internal/service"
)

type RouterConfig struct {
	Tokens middleware.Tokens
}

func SetupRoutes(router *gin.Engine, comments service.CommentService, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	authed := router.Group("", middleware.RequireAuth(cfg.Tokens))
	{
		commentHandler := handler.NewCommentHandler(comments)
		DiscussionRouter(authed.Group("/discussions"), commentHandler)
		CommentRouter(authed.Group("/comments"), commentHandler)
	}
}
