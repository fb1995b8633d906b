package statemachine

import (
	"errors"
	"fmt"
	"strings"

	"boss-office/internal/models"
)

// MaxNoteLength is the longest note, in characters, an audit entry may carry.
const MaxNoteLength = 1000

// Sentinel errors for rejected transitions.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNoteTooLong       = fmt.Errorf("note exceeds maximum length of %d characters", MaxNoteLength)
	ErrUnknownActor      = errors.New("unknown actor")
	ErrNoRepository      = errors.New("no job repository configured")
)

// TransitionError names the illegal edge and what the current status allows.
type TransitionError struct {
	From    models.Status
	To      models.Status
	Allowed []models.Status
}

func (e *TransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("Status %s is terminal and cannot transition to any other status", e.From)
	}
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("Invalid transition: %s → %s. Allowed: %s", e.From, e.To, strings.Join(allowed, ", "))
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsRejection reports whether err is a validation failure callers should show
// to the user rather than treat as a server fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNoteTooLong) || errors.Is(err, ErrUnknownActor)
}
