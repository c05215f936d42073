package dto

import (
	"time"

	"classroom.app/discussion/internal/model"
)

type CreateCommentRequest struct {
	DiscussionID int64  `json:"discussionId" binding:"required,gt=0"`
	Text         string `json:"text" binding:"required"`
	ParentID     *int64 `json:"parentId,omitempty" binding:"omitempty,gt=0"`
}

func (r CreateCommentRequest) ToModel() model.CreateComment {
	return model.CreateComment{
		DiscussionID: r.DiscussionID,
		Text:         r.Text,
		ParentID:     r.ParentID,
	}
}

type EditCommentRequest struct {
	Text string `json:"text" binding:"required"`
}

// PageQuery is bound from ?page=&size=. Size 0 means the server default.
type PageQuery struct {
	Page int `form:"page" binding:"min=0"`
	Size int `form:"size" binding:"min=0,max=100"`
}

type CommentResponse struct {
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

func ToCommentResponse(c *model.Comment) *CommentResponse {
	return &CommentResponse{
		ID:           c.ID,
		DiscussionID: c.DiscussionID,
		AuthorID:     c.AuthorID,
		AuthorName:   c.AuthorName,
		Text:         c.Text,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Edited:       c.Edited,
		Deleted:      c.Deleted,
		ParentID:     c.ParentID,
		RootID:       c.RootID,
		ReplyCount:   c.ReplyCount,
	}
}

type PageResponse struct {
	Content []*CommentResponse `json:"content"`
	Number  int                `json:"number"`
	Last    bool               `json:"last"`
}

func ToPageResponse(p model.Page) *PageResponse {
	content := make([]*CommentResponse, 0, len(p.Items))
	for i := range p.Items {
		content = append(content, ToCommentResponse(&p.Items[i]))
	}
	return &PageResponse{Content: content, Number: p.Number, Last: p.Last}
}
