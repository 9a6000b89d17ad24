package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/blackmichael/debate-feed/internal/domain"
)

const defaultBaseURL = "http://localhost:8000/api"

// Client is a minimal client for the discussion resource API. It covers the
// read/write surface the reconciliation engine depends on; authentication is
// handled upstream of this service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new resource API client. If baseURL is empty, it
// defaults to a local development server.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListPostsOptions filters and sorts a post listing.
type ListPostsOptions struct {
	Sort    domain.SortOption
	TopicID int64
	Search  string
}

// ListPosts retrieves the post feed.
func (c *Client) ListPosts(ctx context.Context, opts ListPostsOptions) ([]domain.Post, error) {
	q := url.Values{}
	if opts.Sort != "" {
		q.Set("sort", string(opts.Sort))
	}
	if opts.TopicID > 0 {
		q.Set("topic", strconv.FormatInt(opts.TopicID, 10))
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}

	path := "/posts/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var posts []domain.Post
	if err := c.get(ctx, path, &posts); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// TrendingPosts retrieves posts ranked by recent activity.
func (c *Client) TrendingPosts(ctx context.Context) ([]domain.Post, error) {
	var posts []domain.Post
	if err := c.get(ctx, "/posts/trending/", &posts); err != nil {
		return nil, fmt.Errorf("trending posts: %w", err)
	}
	return posts, nil
}

// GetPost retrieves a single post. The server counts this request as a view.
func (c *Client) GetPost(ctx context.Context, postID int64) (*domain.Post, error) {
	var post domain.Post
	if err := c.get(ctx, fmt.Sprintf("/post/%d/", postID), &post); err != nil {
		return nil, fmt.Errorf("get post %d: %w", postID, err)
	}
	return &post, nil
}

// TrackView registers a view for the post. The resource API tracks views on
// the post detail endpoint, so this fetches and discards the detail body.
func (c *Client) TrackView(ctx context.Context, postID int64) error {
	if err := c.get(ctx, fmt.Sprintf("/post/%d/", postID), nil); err != nil {
		return fmt.Errorf("track view for post %d: %w", postID, err)
	}
	return nil
}

// CreatePostRequest is the body for creating a post.
type CreatePostRequest struct {
	Content   string `json:"content"`
	TopicID   int64  `json:"topic"`
	CreatedBy int64  `json:"created_by"`
}

// CreatePost creates a new post and returns the server's view of it.
func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (*domain.Post, error) {
	var post domain.Post
	if err := c.post(ctx, "/post/create/", req, &post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// commentRecord is the wire shape of a reply as served by the resource API.
type commentRecord struct {
	ID        int64             `json:"id"`
	CreatedBy domain.UserDetail `json:"created_by_detail"`
	CreatedAt time.Time         `json:"created_at"`
	Content   string            `json:"content"`
	Post      int64             `json:"post"`
	Parent    *int64            `json:"parent"`
}

func (r commentRecord) toReply() domain.Reply {
	return domain.Reply{
		ID:        strconv.FormatInt(r.ID, 10),
		PostID:    r.Post,
		Author:    r.CreatedBy,
		Body:      r.Content,
		CreatedAt: r.CreatedAt,
	}
}

// CommentsForPost retrieves the authoritative reply list for a post in
// chronological order.
func (c *Client) CommentsForPost(ctx context.Context, postID int64) ([]domain.Reply, error) {
	var records []commentRecord
	if err := c.get(ctx, fmt.Sprintf("/post/%d/comments/", postID), &records); err != nil {
		return nil, fmt.Errorf("comments for post %d: %w", postID, err)
	}

	replies := make([]domain.Reply, len(records))
	for i, rec := range records {
		replies[i] = rec.toReply()
	}
	return replies, nil
}

// CreateCommentRequest is the body for creating a reply over REST (the push
// channel is the usual path; this is the fallback).
type CreateCommentRequest struct {
	Content   string `json:"content"`
	PostID    int64  `json:"post"`
	CreatedBy int64  `json:"created_by"`
}

// CreateComment creates a reply on a post.
func (c *Client) CreateComment(ctx context.Context, req CreateCommentRequest) (*domain.Reply, error) {
	var rec commentRecord
	if err := c.post(ctx, "/comment/create/", req, &rec); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	reply := rec.toReply()
	return &reply, nil
}

// ToggleReaction flips a like or dislike on a post. The server interprets a
// repeat of the current reaction as removal and an opposite kind as a switch.
func (c *Client) ToggleReaction(ctx context.Context, postID int64, kind domain.ReactionKind) error {
	body := map[string]any{
		"post_id": postID,
		"type":    kind,
	}
	if err := c.post(ctx, "/reaction/toggle/", body, nil); err != nil {
		return fmt.Errorf("toggle %s on post %d: %w", kind, postID, err)
	}
	return nil
}

// ToggleBookmark flips the bookmark flag on a post.
func (c *Client) ToggleBookmark(ctx context.Context, postID int64) error {
	body := map[string]any{
		"post_id": postID,
	}
	if err := c.post(ctx, "/bookmark/toggle/", body, nil); err != nil {
		return fmt.Errorf("toggle bookmark on post %d: %w", postID, err)
	}
	return nil
}

// ListUsers retrieves all participants, human and automated.
func (c *Client) ListUsers(ctx context.Context) ([]domain.UserDetail, error) {
	var users []domain.UserDetail
	if err := c.get(ctx, "/users/", &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetUser retrieves one participant profile.
func (c *Client) GetUser(ctx context.Context, userID int64) (*domain.UserDetail, error) {
	var user domain.UserDetail
	if err := c.get(ctx, fmt.Sprintf("/user/%d/", userID), &user); err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return &user, nil
}

// PostsForUser retrieves the posts authored by a participant.
func (c *Client) PostsForUser(ctx context.Context, userID int64) ([]domain.Post, error) {
	var posts []domain.Post
	if err := c.get(ctx, fmt.Sprintf("/user/%d/posts/", userID), &posts); err != nil {
		return nil, fmt.Errorf("posts for user %d: %w", userID, err)
	}
	return posts, nil
}

// CreateTopicRequest is the body for creating a topic.
type CreateTopicRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateTopic creates a new discussion topic.
func (c *Client) CreateTopic(ctx context.Context, req CreateTopicRequest) (*domain.Topic, error) {
	var topic domain.Topic
	if err := c.post(ctx, "/topic/create/", req, &topic); err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return &topic, nil
}

// ListTopics retrieves all topics ordered by activity.
func (c *Client) ListTopics(ctx context.Context) ([]domain.Topic, error) {
	var topics []domain.Topic
	if err := c.get(ctx, "/topics/", &topics); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// SearchTopics retrieves topics matching the query by name or description.
func (c *Client) SearchTopics(ctx context.Context, query string) ([]domain.Topic, error) {
	q := url.Values{}
	q.Set("q", query)

	var topics []domain.Topic
	if err := c.get(ctx, "/topics/search/?"+q.Encode(), &topics); err != nil {
		return nil, fmt.Errorf("search topics: %w", err)
	}
	return topics, nil
}

// Statistics retrieves the aggregate dashboard numbers.
func (c *Client) Statistics(ctx context.Context) (*domain.Statistics, error) {
	var stats domain.Statistics
	if err := c.get(ctx, "/statistics/", &stats); err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	return &stats, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
