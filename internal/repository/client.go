package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/internal/model"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBody = 512

// TokenSource supplies the bearer credential for every call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: no token configured", ErrAuth)
	}
	return string(t), nil
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryMax      int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
	MaxTextLength int
}

// Client is the read/create boundary of the comment API. It keeps no state
// between calls.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	tokens  TokenSource
	maxText int
}

func NewClient(cfg Config, tokens TokenSource) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = slog.Default()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	maxText := cfg.MaxTextLength
	if maxText <= 0 {
		maxText = 2000
	}

	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  tokens,
		maxText: maxText,
	}
}

// FetchRoots returns one page of root comments for a discussion.
func (c *Client) FetchRoots(ctx context.Context, discussionID int64, page, size int) (model.Page, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DiscussionID: logger.Ptr(discussionID),
		Component:    "discussion.repository",
	})
	sc := logger.StartSpan(ctx, "discussion.repository.fetch_roots")
	defer sc.End()
	ctx = sc.Context()

	if err := validatePaging(page, size); err != nil {
		return model.Page{}, err
	}

	path := fmt.Sprintf("/discussions/%d/comments/roots", discussionID)
	p, err := c.fetchPage(ctx, path, page, size)
	if err != nil {
		sc.RecordError(err)
		return model.Page{}, err
	}

	p.Items = keepValid(ctx, p.Items, func(cm model.Comment) bool {
		return cm.IsRoot() && cm.DiscussionID == discussionID
	})
	return p, nil
}

// FetchReplies returns one page of replies in the thread rooted at rootID.
func (c *Client) FetchReplies(ctx context.Context, rootID int64, page, size int) (model.Page, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RootID:    logger.Ptr(rootID),
		Component: "discussion.repository",
	})
	sc := logger.StartSpan(ctx, "discussion.repository.fetch_replies")
	defer sc.End()
	ctx = sc.Context()

	if err := validatePaging(page, size); err != nil {
		return model.Page{}, err
	}

	path := fmt.Sprintf("/comments/%d/replies", rootID)
	p, err := c.fetchPage(ctx, path, page, size)
	if err != nil {
		sc.RecordError(err)
		return model.Page{}, err
	}

	p.Items = keepValid(ctx, p.Items, func(cm model.Comment) bool {
		return !cm.IsRoot() && cm.RootID == rootID
	})
	return p, nil
}

// Create submits a new root comment or reply. Invalid text is rejected
// before any request is made.
func (c *Client) Create(ctx context.Context, req model.CreateComment) (model.Comment, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DiscussionID: logger.Ptr(req.DiscussionID),
		Component:    "discussion.repository",
	})
	sc := logger.StartSpan(ctx, "discussion.repository.create")
	defer sc.End()
	ctx = sc.Context()

	if err := c.validateCreate(req); err != nil {
		return model.Comment{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return model.Comment{}, fmt.Errorf("encoding comment: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/comments", bytes.NewReader(body))
	if err != nil {
		return model.Comment{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, httpReq.Header); err != nil {
		return model.Comment{}, err
	}

	// creates are not idempotent, so they bypass the retrying transport
	resp, err := c.http.HTTPClient.Do(httpReq)
	if err != nil {
		sc.RecordError(err)
		return model.Comment{}, fmt.Errorf("%w: posting comment: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		sc.RecordError(err)
		return model.Comment{}, err
	}

	var created model.Comment
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return model.Comment{}, fmt.Errorf("%w: decoding created comment: %v", ErrNetwork, err)
	}
	if err := created.Validate(); err != nil {
		return model.Comment{}, fmt.Errorf("%w: server returned %v", ErrNetwork, err)
	}

	slog.DebugContext(ctx, "comment created", "comment_id", created.ID, "reply", req.IsReply())
	return created, nil
}

func (c *Client) validateCreate(req model.CreateComment) error {
	if req.DiscussionID <= 0 {
		return fmt.Errorf("%w: discussion id is required", ErrValidation)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fmt.Errorf("%w: text is empty", ErrValidation)
	}
	if utf8.RuneCountInString(text) > c.maxText {
		return fmt.Errorf("%w: text exceeds %d characters", ErrValidation, c.maxText)
	}
	if req.ParentID != nil && *req.ParentID <= 0 {
		return fmt.Errorf("%w: invalid parent id %d", ErrValidation, *req.ParentID)
	}
	return nil
}

func (c *Client) fetchPage(ctx context.Context, path string, page, size int) (model.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return model.Page{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req.Header); err != nil {
		return model.Page{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Page{}, fmt.Errorf("%w: GET %s: %v", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return model.Page{}, err
	}

	var p model.Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return model.Page{}, fmt.Errorf("%w: decoding page: %v", ErrNetwork, err)
	}
	return p, nil
}

func (c *Client) authorize(ctx context.Context, h http.Header) error {
	if c.tokens == nil {
		return fmt.Errorf("%w: no token source", ErrAuth)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrNetwork, resp.StatusCode, msg)
	}
}

func validatePaging(page, size int) error {
	if page < 0 {
		return fmt.Errorf("%w: page must not be negative, got %d", ErrValidation, page)
	}
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrValidation, size)
	}
	return nil
}

// keepValid drops items that break the root/reply invariant or do not belong
// to the requested scope.
func keepValid(ctx context.Context, items []model.Comment, inScope func(model.Comment) bool) []model.Comment {
	out := make([]model.Comment, 0, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			slog.WarnContext(ctx, "dropping invalid comment from page", "error", err)
			continue
		}
		if !inScope(it) {
			slog.WarnContext(ctx, "dropping out-of-scope comment from page",
				"comment_id", it.ID,
				"root_id_of_item", it.RootID)
			continue
		}
		out = append(out, it)
	}
	return out
}
