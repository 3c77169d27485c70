package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sjperalta/opcost-api/internal/statemachine"
	"gorm.io/gorm"
)

// Common service errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidState = errors.New("invalid state transition")
	ErrValidation   = errors.New("validation failed")
	ErrDuplicate    = errors.New("duplicate record")
	ErrAlreadySent  = errors.New("statement already delivered to this tenant")
	ErrNoRecipient  = errors.New("tenant has no email address")
)

// ValidationError carries per-field messages and matches ErrValidation
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

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// notFound translates a missing row into ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// invalidState maps a rejected lifecycle event to ErrInvalidState
func invalidState(err error) error {
	if errors.Is(err, statemachine.ErrTransitionNotAllowed) {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return err
}
