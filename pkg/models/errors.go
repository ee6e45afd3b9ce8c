// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"errors"
	"fmt"
)

// Conflict errors. Callers retry or re-enqueue.
var (
	// ErrDuplicatePlayer is returned on enqueue when a member of the ticket
	// already has an active ticket in the queue.
	ErrDuplicatePlayer = errors.New("player already has an active ticket")

	// ErrMembershipConflict is returned when a proposed group cannot be
	// committed because a member ticket was withdrawn or claimed elsewhere
	// between snapshot and commit.
	ErrMembershipConflict = errors.New("one or more member tickets are no longer available")
)

// Not-found errors.
var (
	ErrLobbyNotFound   = errors.New("lobby not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrMemberNotFound  = errors.New("player is not a member of this lobby")
)

// ErrLobbyFull is returned when joining a lobby that already reached its target size.
var ErrLobbyFull = errors.New("lobby is full")

// ErrExternal wraps failures of external collaborators (provisioning, rating store).
var ErrExternal = errors.New("external collaborator failure")

// ValidationError rejects malformed tickets or criteria at the door,
// before they enter the queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// StateError is returned when an operation is invalid for the entity's
// current state. The entity is left unchanged.
type StateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s while in state %s", e.Entity, e.ID, e.Op, e.State)
}

func NewStateError(entity, id, state, op string) error {
	return StateError{Entity: entity, ID: id, State: state, Op: op}
}

func IsStateError(err error) bool {
	var se StateError
	return errors.As(err, &se)
}

func ExternalFailure(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternal, op, cause)
}
