package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChallenge marks a platform challenge/checkpoint: the account was asked
// to prove it is human (or re-verify) and no further automated action is safe
// until an operator intervenes.
var ErrChallenge = errors.New("platform challenge")

// Challenge wraps err so IsChallenge recognizes it regardless of message.
func Challenge(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrChallenge, err)
}

// challengePhrases are the message fragments adapters surface when a platform
// interposes a checkpoint. Matching is case-insensitive.
var challengePhrases = []string{
	"challenge",
	"checkpoint",
	"verify your identity",
	"verify your account",
	"suspicious login",
	"confirm it's you",
	"unusual activity",
	"account has been restricted",
}

// IsChallenge reports whether err signals a platform challenge/checkpoint,
// either via the ErrChallenge sentinel or by message-content heuristics
// (adapters wrap raw platform errors whose text is all we have).
func IsChallenge(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChallenge) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range challengePhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
