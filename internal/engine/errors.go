package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCharacterNotFound    = errors.New("character not found")
	ErrMissionAlreadyActive = errors.New("already on a mission")
	ErrMissionNotFound      = errors.New("mission not found")
	ErrMissionUnavailable   = errors.New("mission is not available")
	ErrNoActiveMission      = errors.New("no active mission")
)

// RateLimitError rejects a start inside the cooldown window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests; retry in %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds is the remaining wait rounded up to a whole second.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	return ceilSeconds(e.RetryAfter)
}

// NotYetCompleteError rejects settlement before the mission's end time.
type NotYetCompleteError struct {
	EndsAt    time.Time
	Remaining time.Duration
}

func (e *NotYetCompleteError) Error() string {
	return fmt.Sprintf("mission not yet complete; %ds remaining", e.RemainingSeconds())
}

func (e *NotYetCompleteError) RemainingSeconds() int64 {
	return ceilSeconds(e.Remaining)
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
