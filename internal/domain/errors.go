package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrExperimentNotFound is returned when no experiment exists for an id.
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrExperimentInactive is returned when a client asks for an experiment that is not accepting participants.
	ErrExperimentInactive = errors.New("experiment not active")
	// ErrResponseNotFound is returned when no stored response matches a lookup.
	ErrResponseNotFound = errors.New("response not found")
	// ErrDuplicateSubmission is returned by stores when a response already exists for a participant key.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrCompletionCodeTaken is returned by stores when another response already holds the completion code.
	ErrCompletionCodeTaken = errors.New("completion code already issued")
	// ErrInsufficientData marks statistics that cannot be computed from the available groups.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrProportionOutOfRange marks a proportion outside [0, 1].
	ErrProportionOutOfRange = errors.New("proportion out of range")
	// ErrInvalidEffectSize marks a non-positive effect size where one is required.
	ErrInvalidEffectSize = errors.New("effect size must be positive")
	// ErrInvalidStatus indicates an unknown experiment lifecycle state.
	ErrInvalidStatus = errors.New("invalid experiment status")
	// ErrLockBusy indicates another submission for the same participant is in flight.
	ErrLockBusy = errors.New("participant submission in progress")
	// ErrCodeSpaceExhausted indicates no unused completion code was found.
	ErrCodeSpaceExhausted = errors.New("could not generate unique completion code")
)

// ValidationError lists the fields that failed request validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
