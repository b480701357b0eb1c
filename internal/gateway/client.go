package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/boardsync/internal/models"
	"github.com/charlesng35/boardsync/pkg/logger"
	"github.com/charlesng35/boardsync/pkg/metrics"
	"github.com/charlesng35/boardsync/pkg/validator"

	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

const defaultRequestTimeout = 15 * time.Second

// Client wraps the comment and chat REST endpoints. It seeds and mutates the
// stores outside the event stream; the authoritative copies of all writes
// still arrive as stream broadcasts.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// New constructs a gateway client for the given API base URL. The token, when
// set, is attached as a bearer credential. A nil http client gets a default
// with a request timeout.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    httpClient,
		log:     logger.WithModule("gateway"),
	}, nil
}

// CreateCommentInput is the payload for a comment create call.
type CreateCommentInput struct {
	Content     string    `json:"content" validate:"required,max=4000"`
	Coordinates []float64 `json:"coordinates" validate:"required,len=2"`
}

// UpdateCommentInput is the payload for a comment content edit.
type UpdateCommentInput struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// ListComments returns the comment history for a room. A 404 means the room
// has no history yet and yields an empty result, not an error.
func (c *Client) ListComments(ctx context.Context, roomID string) ([]models.CommentRecord, error) {
	var records []models.CommentRecord
	status, err := c.do(ctx, http.MethodGet, "/comments/dashboards/"+url.PathEscape(roomID), nil, &records, "list comments")
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CreateComment persists a new comment for the author in the room.
func (c *Client) CreateComment(ctx context.Context, roomID, userID string, in CreateCommentInput) (models.CommentRecord, error) {
	if err := validator.Struct(in); err != nil {
		return models.CommentRecord{}, &apperrors.PersistError{Op: "create comment", StatusCode: http.StatusUnprocessableEntity, Internal: err}
	}

	path := fmt.Sprintf("/comments/dashboards/%s/users/%s/comments", url.PathEscape(roomID), url.PathEscape(userID))
	var record models.CommentRecord
	if _, err := c.do(ctx, http.MethodPost, path, in, &record, "create comment"); err != nil {
		return models.CommentRecord{}, err
	}
	return record, nil
}

// UpdateComment replaces a comment's content.
func (c *Client) UpdateComment(ctx context.Context, commentID string, in UpdateCommentInput) (models.CommentRecord, error) {
	if err := validator.Struct(in); err != nil {
		return models.CommentRecord{}, &apperrors.PersistError{Op: "update comment", StatusCode: http.StatusUnprocessableEntity, Internal: err}
	}

	var record models.CommentRecord
	if _, err := c.do(ctx, http.MethodPut, "/comments/"+url.PathEscape(commentID), in, &record, "update comment"); err != nil {
		return models.CommentRecord{}, err
	}
	return record, nil
}

// UpdateCommentCoordinates moves a comment. The body is the bare coordinate
// pair, matching the backend contract.
func (c *Client) UpdateCommentCoordinates(ctx context.Context, commentID string, x, y float64) error {
	path := "/comments/" + url.PathEscape(commentID) + "/coordinates"
	_, err := c.do(ctx, http.MethodPut, path, []float64{x, y}, nil, "update comment coordinates")
	return err
}

// DeleteComment removes a comment. Deleting an already-removed comment is
// treated as success.
func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/comments/"+url.PathEscape(commentID), nil, nil, "delete comment")
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// ChatHistory returns a page of chat messages for a room, oldest first.
func (c *Client) ChatHistory(ctx context.Context, roomID string, limit, skip int) ([]models.ChatMessageRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if skip > 0 {
		query.Set("skip", strconv.Itoa(skip))
	}

	path := "/chat/messages/" + url.PathEscape(roomID)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var records []models.ChatMessageRecord
	status, err := c.do(ctx, http.MethodGet, path, nil, &records, "chat history")
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ClearChat wipes the chat history of a room.
func (c *Client) ClearChat(ctx context.Context, roomID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/chat/messages/"+url.PathEscape(roomID), nil, nil, "clear chat")
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// RoomUsers returns the presence snapshot for a room.
func (c *Client) RoomUsers(ctx context.Context, roomID string) ([]models.PresenceMember, error) {
	var members []models.PresenceMember
	status, err := c.do(ctx, http.MethodGet, "/chat/users/"+url.PathEscape(roomID), nil, &members, "room users")
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return members, nil
}

// do issues one request and decodes the response. Non-success statuses are
// mapped onto PersistError with any structured validation detail attached.
func (c *Client) do(ctx context.Context, method, path string, body, out any, op string) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, &apperrors.PersistError{Op: op, Internal: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, &apperrors.PersistError{Op: op, Internal: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RESTLatency.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return 0, &apperrors.PersistError{Op: op, Internal: err}
	}
	defer resp.Body.Close()

	metrics.RESTLatency.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, c.errorFromResponse(op, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &apperrors.PersistError{Op: op, StatusCode: resp.StatusCode, Internal: err}
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) errorFromResponse(op string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	perr := &apperrors.PersistError{Op: op, StatusCode: resp.StatusCode}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && len(envelope.Detail) > 0 {
		var details []apperrors.ValidationDetail
		if err := json.Unmarshal(envelope.Detail, &details); err == nil {
			perr.Details = details
		} else {
			var message string
			if err := json.Unmarshal(envelope.Detail, &message); err == nil && message != "" {
				perr.Details = []apperrors.ValidationDetail{{Msg: message}}
			}
		}
	}

	logFn := c.log.Warn
	if resp.StatusCode == http.StatusNotFound {
		// Callers soften 404 on lists, deletes, and wipes; keep those flows
		// quiet.
		logFn = c.log.Debug
	}
	logFn("request failed",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.String("detail", perr.Detail()))
	return perr
}
