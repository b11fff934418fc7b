package experiment

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedStimulus = errors.New("malformed stimulus")
	ErrAlreadyCommitted  = errors.New("trial already committed")
	ErrUnexpectedEvent   = errors.New("event does not match the current wait")
	ErrTimerPending      = errors.New("timer has not elapsed")
	ErrFinished          = errors.New("session finished")
	ErrNotStarted        = errors.New("session not started")
)

// ValidationError is returned when a gated wait refuses to advance. The
// participant may correct the input and try again.
type ValidationError struct {
	TrialID string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "validation failed for " + e.TrialID
	}
	return "validation failed for " + e.TrialID + ": " + e.Message
}

// ResourceLoadError is reported when the client could not load a document a
// trial depends on. The trial stays on the blocking step.
type ResourceLoadError struct {
	TrialID  string
	Resource string
	Reason   string
}

func (e *ResourceLoadError) Error() string {
	return fmt.Sprintf("load %s for %s: %s", e.Resource, e.TrialID, e.Reason)
}

// ConfigurationError makes a plan or catalog unusable. It is raised before
// a session starts.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "experiment configuration: " + e.Message
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
