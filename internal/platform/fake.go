package platform

import (
	"context"
	"sync"

	"outreachd/internal/model"
)

// Fake is an in-memory Client used by worker and scheduler tests. Per-method
// hooks let a test script failures; unset hooks succeed with canned data.
type Fake struct {
	Kind model.Platform

	mu    sync.Mutex
	calls map[string]int

	LoginErr  error
	VerifyErr error

	Profiles map[string]UserProfile
	Posts    map[string]Post
	Comments map[string][]Comment
	Likers   map[string][]UserProfile
	Hashtags map[string][]Post

	// Err, when set for a method name, is returned by that method.
	Err map[string]error
}

func NewFake(p model.Platform) *Fake {
	return &Fake{
		Kind:     p,
		calls:    map[string]int{},
		Profiles: map[string]UserProfile{},
		Posts:    map[string]Post{},
		Comments: map[string][]Comment{},
		Likers:   map[string][]UserProfile{},
		Hashtags: map[string][]Post{},
		Err:      map[string]error{},
	}
}

// Calls returns how many times the named method ran.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.Err[method]
}

func (f *Fake) Platform() model.Platform { return f.Kind }

func (f *Fake) Login(_ context.Context, _ Credentials) error {
	if err := f.record("Login"); err != nil {
		return err
	}
	return f.LoginErr
}

func (f *Fake) VerifyLogin(_ context.Context) error {
	if err := f.record("VerifyLogin"); err != nil {
		return err
	}
	return f.VerifyErr
}

func (f *Fake) GetUserProfile(_ context.Context, username string) (UserProfile, error) {
	if err := f.record("GetUserProfile"); err != nil {
		return UserProfile{}, err
	}
	return f.Profiles[username], nil
}

func (f *Fake) GetPost(_ context.Context, postID string) (Post, error) {
	if err := f.record("GetPost"); err != nil {
		return Post{}, err
	}
	return f.Posts[postID], nil
}

func (f *Fake) GetPostComments(_ context.Context, postID string, limit int) ([]Comment, error) {
	if err := f.record("GetPostComments"); err != nil {
		return nil, err
	}
	cs := f.Comments[postID]
	if limit > 0 && limit < len(cs) {
		cs = cs[:limit]
	}
	return cs, nil
}

func (f *Fake) GetPostLikes(_ context.Context, postID string, limit int) ([]UserProfile, error) {
	if err := f.record("GetPostLikes"); err != nil {
		return nil, err
	}
	ls := f.Likers[postID]
	if limit > 0 && limit < len(ls) {
		ls = ls[:limit]
	}
	return ls, nil
}

func (f *Fake) GetHashtagPosts(_ context.Context, hashtag string, limit int) ([]Post, error) {
	if err := f.record("GetHashtagPosts"); err != nil {
		return nil, err
	}
	ps := f.Hashtags[hashtag]
	if limit > 0 && limit < len(ps) {
		ps = ps[:limit]
	}
	return ps, nil
}

func (f *Fake) FollowUser(_ context.Context, _ string) error {
	return f.record("FollowUser")
}

func (f *Fake) LikePost(_ context.Context, _ string) error {
	return f.record("LikePost")
}

func (f *Fake) SendMessage(_ context.Context, _, _ string) error {
	return f.record("SendMessage")
}

func (f *Fake) Close() error {
	return f.record("Close")
}
