package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classroom.app/discussion/core/db"
	"classroom.app/discussion/internal/model"
	"github.com/jackc/pgx/v5"
)

const commentColumns = `id, discussion_id, author_id, author_name, text, created_at, updated_at,
	edited, deleted, parent_id, root_id, reply_count`

const (
	getCommentSQL = `SELECT ` + commentColumns + ` FROM comments WHERE id = $1`

	insertCommentSQL = `INSERT INTO comments (id, discussion_id, author_id, author_name, text, created_at,
	edited, deleted, parent_id, root_id, reply_count)
VALUES ($1, $2, $3, $4, $5, $6, false, false, $7, $8, 0)
RETURNING ` + commentColumns

	bumpReplyCountSQL = `UPDATE comments SET reply_count = reply_count + 1 WHERE id = $1`

	updateTextSQL = `UPDATE comments SET text = $2, edited = true, updated_at = $3
WHERE id = $1
RETURNING ` + commentColumns

	softDeleteSQL = `UPDATE comments SET deleted = true, text = '', updated_at = $2
WHERE id = $1
RETURNING ` + commentColumns

	listRootsSQL = `SELECT ` + commentColumns + ` FROM comments
WHERE discussion_id = $1 AND parent_id IS NULL
ORDER BY created_at, id
LIMIT $2 OFFSET $3`

	listRepliesSQL = `SELECT ` + commentColumns + ` FROM comments
WHERE root_id = $1 AND parent_id IS NOT NULL
ORDER BY created_at, id
LIMIT $2 OFFSET $3`
)

type commentStore struct {
	db *db.DB
}

func NewPostgresCommentStore(database *db.DB) CommentStore {
	return &commentStore{db: database}
}

func (s *commentStore) GetByID(ctx context.Context, id int64) (*model.Comment, error) {
	c, err := scanComment(s.db.Conn().QueryRow(ctx, getCommentSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *commentStore) Create(ctx context.Context, c *model.Comment) error {
	return s.db.WithTx(ctx, func(tx db.DBTX) error {
		row, err := scanComment(tx.QueryRow(ctx, insertCommentSQL,
			c.ID, c.DiscussionID, c.AuthorID, c.AuthorName, c.Text, c.CreatedAt, c.ParentID, c.RootID))
		if err != nil {
			return fmt.Errorf("inserting comment: %w", err)
		}

		if !row.IsRoot() {
			tag, err := tx.Exec(ctx, bumpReplyCountSQL, row.RootID)
			if err != nil {
				return fmt.Errorf("bumping reply count: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrNotFound
			}
		}

		*c = *row
		return nil
	})
}

func (s *commentStore) UpdateText(ctx context.Context, id int64, text string, at time.Time) (*model.Comment, error) {
	c, err := scanComment(s.db.Conn().QueryRow(ctx, updateTextSQL, id, text, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *commentStore) SoftDelete(ctx context.Context, id int64, at time.Time) (*model.Comment, error) {
	c, err := scanComment(s.db.Conn().QueryRow(ctx, softDeleteSQL, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *commentStore) ListRoots(ctx context.Context, discussionID int64, page, size int) (model.Page, error) {
	return s.list(ctx, listRootsSQL, discussionID, page, size)
}

func (s *commentStore) ListReplies(ctx context.Context, rootID int64, page, size int) (model.Page, error) {
	return s.list(ctx, listRepliesSQL, rootID, page, size)
}

// list fetches one extra row to learn whether this is the last page.
func (s *commentStore) list(ctx context.Context, query string, key int64, page, size int) (model.Page, error) {
	first, ok := offset(page, size)
	if !ok {
		return model.Page{Items: []model.Comment{}, Number: page, Last: true}, nil
	}
	rows, err := s.db.Conn().Query(ctx, query, key, size+1, first)
	if err != nil {
		return model.Page{}, err
	}
	defer rows.Close()

	items := make([]model.Comment, 0, size+1)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return model.Page{}, err
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return model.Page{}, err
	}

	return toPage(items, page, size), nil
}

func scanComment(row pgx.Row) (*model.Comment, error) {
	var c model.Comment
	err := row.Scan(
		&c.ID,
		&c.DiscussionID,
		&c.AuthorID,
		&c.AuthorName,
		&c.Text,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.Edited,
		&c.Deleted,
		&c.ParentID,
		&c.RootID,
		&c.ReplyCount,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// toPage trims a size+1 result to one page.
func toPage(items []model.Comment, page, size int) model.Page {
	last := len(items) <= size
	if !last {
		items = items[:size]
	}
	return model.Page{Items: items, Number: page, Last: last}
}
