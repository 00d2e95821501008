package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks lookups for unknown file or task identifiers.
	ErrNotFound = errors.New("not found")
	// ErrQueueFull marks submissions rejected by queue backpressure.
	ErrQueueFull = errors.New("queue full")
	// ErrValidation marks malformed or unsupported caller input.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrPrecondition marks a requested stage whose prerequisite never completed.
	ErrPrecondition = errors.New("stage precondition not met")
	// ErrTerminal marks operations against tasks already in a terminal state.
	ErrTerminal = errors.New("task already terminal")
	// ErrCollaborator marks failures returned by an external stage collaborator.
	ErrCollaborator = errors.New("collaborator failure")
	// ErrTransient marks recoverable failures with no better classification.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
