// Package validate judges whether a track fits a persona's style.
package validate

import (
	"context"

	"github.com/osa030/duet/internal/domain/track"
)

// Status is the validator's decision.
type Status int

const (
	// StatusUnavailable means no verdict could be produced. Callers accept the track.
	StatusUnavailable Status = iota
	StatusAccepted
	StatusRejected
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "unavailable"
	}
}

// Verdict is the result of a validation.
type Verdict struct {
	Status       Status
	ShortSummary string
	Reasoning    string
}

// Rejected reports whether the validator explicitly refused the track.
// An unavailable validator never rejects.
func (v Verdict) Rejected() bool {
	return v.Status == StatusRejected
}

// Unavailable returns a verdict without a decision.
func Unavailable(reason string) Verdict {
	return Verdict{Status: StatusUnavailable, Reasoning: reason}
}

// Validator checks stylistic fit. Validate never fails: problems reaching the
// underlying model are reported as an unavailable verdict.
type Validator interface {
	Validate(ctx context.Context, t track.Track, personaDescription string) Verdict
}

// Disabled is a validator that never has a verdict.
type Disabled struct{}

// Validate returns an unavailable verdict.
func (Disabled) Validate(ctx context.Context, t track.Track, personaDescription string) Verdict {
	return Unavailable("validation disabled")
}
