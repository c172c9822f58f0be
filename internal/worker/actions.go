package worker

import (
	"context"
	"fmt"
	"time"

	"outreachd/internal/model"
	logx "outreachd/pkg/logx"
)

// execute performs one action's platform logic and returns the leads it
// qualified. Errors are classified by the caller.
func (w *Worker) execute(ctx context.Context, iv model.Intervention, a model.Action) ([]model.Lead, error) {
	switch a.Type {
	case model.ActionMock:
		return nil, nil

	case model.ActionLikePost:
		if err := w.sleep(ctx, w.sampler.ViewDuration()); err != nil {
			return nil, err
		}
		return nil, w.client.LikePost(ctx, a.PostID)

	case model.ActionFollowUser:
		return nil, w.client.FollowUser(ctx, a.Username)

	case model.ActionSendMessage:
		// Compose at human typing speed before sending.
		typing := time.Duration(len(a.Message)) * w.sampler.TypingDelay()
		if err := w.sleep(ctx, typing); err != nil {
			return nil, err
		}
		return nil, w.client.SendMessage(ctx, a.Username, a.Message)

	case model.ActionViewProfile:
		p, err := w.client.GetUserProfile(ctx, a.Username)
		if err != nil {
			return nil, err
		}
		if err := w.sleep(ctx, w.sampler.ViewDuration()); err != nil {
			return nil, err
		}
		if iv.Criteria.MatchProfile(p.Followers, p.Posts) {
			return []model.Lead{w.newLead(iv, a.Type, p)}, nil
		}
		return nil, nil

	case model.ActionViewComments:
		return w.leadsFromComments(ctx, iv, a)

	case model.ActionScrapePostLikes:
		likers, err := w.client.GetPostLikes(ctx, a.PostID, a.Limit)
		if err != nil {
			return nil, err
		}
		var leads []model.Lead
		for _, p := range likers {
			if iv.Criteria.MatchProfile(p.Followers, p.Posts) {
				leads = append(leads, w.newLead(iv, a.Type, p))
			}
		}
		return leads, nil

	case model.ActionScrapeHashtag:
		posts, err := w.client.GetHashtagPosts(ctx, a.Hashtag, a.Limit)
		if err != nil {
			return nil, err
		}
		var leads []model.Lead
		for _, post := range posts {
			p, err := w.client.GetUserProfile(ctx, post.AuthorID)
			if err != nil {
				return leads, err
			}
			if iv.Criteria.MatchProfile(p.Followers, p.Posts) {
				leads = append(leads, w.newLead(iv, a.Type, p))
			}
		}
		return leads, nil

	default:
		return nil, fmt.Errorf("unsupported action type %q", a.Type)
	}
}

// leadsFromComments qualifies commenters: keyword screen first, then the
// configured classifier for the free-form criteria, then profile bounds.
func (w *Worker) leadsFromComments(ctx context.Context, iv model.Intervention, a model.Action) ([]model.Lead, error) {
	comments, err := w.client.GetPostComments(ctx, a.PostID, a.Limit)
	if err != nil {
		return nil, err
	}

	var leads []model.Lead
	for _, c := range comments {
		if !iv.Criteria.MatchKeywords(c.Text) {
			continue
		}
		if iv.Criteria.AICriteria != "" {
			ok, err := w.classifier.Decide(ctx, c.Text, iv.Criteria.AICriteria)
			if err != nil {
				// Classifier trouble disqualifies the comment, not the run.
				w.log.Warn("classifier error, comment skipped", logx.String("comment", c.ID), logx.Err(err))
				continue
			}
			if !ok {
				continue
			}
		}
		p, err := w.client.GetUserProfile(ctx, c.AuthorUsername)
		if err != nil {
			return leads, err
		}
		if iv.Criteria.MatchProfile(p.Followers, p.Posts) {
			leads = append(leads, w.newLead(iv, a.Type, p))
		}
	}
	return leads, nil
}
