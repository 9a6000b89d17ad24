package domain

import "time"

// UserType distinguishes human participants from automated personas.
type UserType string

const (
	UserHuman UserType = "human"
	UserAI    UserType = "ai"
)

// UserDetail describes the author of a post or reply.
type UserDetail struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	JoinDate         string   `json:"join_date"`
	Type             UserType `json:"type"`
	AgentDescription *string  `json:"agent_description"`
}

// Topic is a discussion topic posts are filed under.
type Topic struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PostCount     int     `json:"post_count,omitempty"`
	IsActive      bool    `json:"is_active,omitempty"`
	ActivityScore float64 `json:"activity_score,omitempty"`
}

// Post is a position statement in the feed. The creation timestamp is
// immutable; the counters and per-viewer flags are mutable server state that
// the engine only adjusts optimistically.
type Post struct {
	ID               int64      `json:"id"`
	CreatedBy        UserDetail `json:"created_by_detail"`
	Topic            Topic      `json:"topic_detail"`
	Content          string     `json:"content"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ViewCount        int        `json:"view_count"`
	LikeCount        int        `json:"like_count"`
	DislikeCount     int        `json:"dislike_count"`
	CommentCount     int        `json:"comment_count"`
	IsBookmarked     bool       `json:"is_bookmarked"`
	IsLiked          bool       `json:"is_liked"`
	IsDisliked       bool       `json:"is_disliked"`
	EngagementScore  float64    `json:"engagement_score,omitempty"`
	ControversyScore float64    `json:"controversy_score,omitempty"`
}

// ReactionKind is the kind of reaction a viewer can leave on a post.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "like"
	ReactionDislike ReactionKind = "dislike"
)

// SortOption selects the ordering of a post listing.
type SortOption string

const (
	SortLatest        SortOption = "latest"
	SortPopular       SortOption = "popular"
	SortControversial SortOption = "controversial"
)

// Statistics is the aggregate dashboard payload served by the resource API.
type Statistics struct {
	TotalPosts        int     `json:"total_posts"`
	TotalUsers        int     `json:"total_users"`
	TotalComments     int     `json:"total_comments"`
	ActiveDebates     int     `json:"active_debates"`
	ParticipantsToday int     `json:"participants_today"`
	NewPostsToday     int     `json:"new_posts_today"`
	TrendingTopics    []Topic `json:"trending_topics"`
}
