package ratelimit

import "outreachd/internal/model"

// Limits holds the per-platform daily action budgets, scoring weights and the
// account activity windows. A zero/absent max means the action type is
// unlimited (it is still tracked for usage scoring).
type Limits struct {
	// Defaults apply when a platform has no specific entry for the type.
	Defaults map[model.ActionType]int

	// Platforms overrides Defaults per platform.
	Platforms map[model.Platform]map[model.ActionType]int

	// Weights bias the usage score toward the riskier action types.
	// Unlisted types weigh 1.
	Weights map[model.ActionType]float64

	// ActiveHours are the local hours (0..23) during which workers may act.
	ActiveHours []int

	// PeakHours is the subset of active hours with the highest expected
	// audience activity.
	PeakHours []int
}

// DefaultLimits mirrors conservative human-activity budgets. Messaging is the
// scarcest and heaviest-weighted budget on every platform.
func DefaultLimits() Limits {
	return Limits{
		Defaults: map[model.ActionType]int{
			model.ActionLikePost:        120,
			model.ActionFollowUser:      60,
			model.ActionSendMessage:     40,
			model.ActionViewComments:    200,
			model.ActionScrapePostLikes: 150,
			model.ActionScrapeHashtag:   80,
		},
		Platforms: map[model.Platform]map[model.ActionType]int{
			model.PlatformInstagram: {
				model.ActionSendMessage: 30,
				model.ActionFollowUser:  50,
			},
			model.PlatformTikTok: {
				model.ActionLikePost: 200,
			},
		},
		Weights: map[model.ActionType]float64{
			model.ActionSendMessage: 3,
			model.ActionFollowUser:  2,
			model.ActionLikePost:    1.5,
		},
		ActiveHours: []int{9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21},
		PeakHours:   []int{12, 13, 18, 19, 20},
	}
}

// maxFor resolves the daily maximum for an action type on a platform.
// ok=false means no maximum is configured anywhere (unlimited).
func (l Limits) maxFor(p model.Platform, t model.ActionType) (int, bool) {
	if pm, ok := l.Platforms[p]; ok {
		if m, ok := pm[t]; ok && m > 0 {
			return m, true
		}
	}
	if m, ok := l.Defaults[t]; ok && m > 0 {
		return m, true
	}
	return 0, false
}

// weightFor returns the scoring weight for a type (1 when unlisted).
func (l Limits) weightFor(t model.ActionType) float64 {
	if w, ok := l.Weights[t]; ok && w > 0 {
		return w
	}
	return 1
}

// limitedTypes returns every action type with a configured maximum on the
// given platform (platform overrides merged over defaults).
func (l Limits) limitedTypes(p model.Platform) map[model.ActionType]int {
	out := make(map[model.ActionType]int, len(l.Defaults))
	for t, m := range l.Defaults {
		if m > 0 {
			out[t] = m
		}
	}
	for t, m := range l.Platforms[p] {
		if m > 0 {
			out[t] = m
		}
	}
	return out
}
