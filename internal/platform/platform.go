// Package platform defines the boundary to the social platform adapters.
// The execution core treats an adapter as an opaque capability set; the real
// browser-backed implementations live outside this repo.
package platform

import (
	"context"

	"outreachd/internal/model"
)

type UserProfile struct {
	ID        string
	Username  string
	FullName  string
	Followers int
	Posts     int
	Private   bool
}

type Post struct {
	ID       string
	AuthorID string
	Caption  string
	Likes    int
}

type Comment struct {
	ID             string
	PostID         string
	AuthorID       string
	AuthorUsername string
	Text           string
}

type Credentials struct {
	Username string
	Password string
}

// Client is one platform-bound adapter session. Implementations are not
// required to be safe for concurrent use; a worker owns its client.
type Client interface {
	Platform() model.Platform

	Login(ctx context.Context, creds Credentials) error
	VerifyLogin(ctx context.Context) error

	GetUserProfile(ctx context.Context, username string) (UserProfile, error)
	GetPost(ctx context.Context, postID string) (Post, error)
	GetPostComments(ctx context.Context, postID string, limit int) ([]Comment, error)
	GetPostLikes(ctx context.Context, postID string, limit int) ([]UserProfile, error)
	GetHashtagPosts(ctx context.Context, hashtag string, limit int) ([]Post, error)

	FollowUser(ctx context.Context, username string) error
	LikePost(ctx context.Context, postID string) error
	SendMessage(ctx context.Context, username, text string) error

	// Close releases the underlying session/browser resource.
	Close() error
}

// Classifier qualifies comment text against free-form criteria. The AI-backed
// implementation is external; KeywordClassifier is the built-in fallback.
type Classifier interface {
	Decide(ctx context.Context, text, criteria string) (bool, error)
}

// KeywordClassifier approves text that mentions the criteria string at all.
// It exists so lead qualification degrades gracefully without the external
// classifier wired in.
type KeywordClassifier struct{}

func (KeywordClassifier) Decide(_ context.Context, text, criteria string) (bool, error) {
	if criteria == "" {
		return true, nil
	}
	return model.LeadCriteria{Keywords: []string{criteria}}.MatchKeywords(text), nil
}
