package app

import (
	"errors"
	"fmt"
	"net/http"

	"papyrus/api/internal/store"
	"papyrus/api/internal/treepath"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errThrottled() *DomainError {
	return domainError(http.StatusTooManyRequests, "THROTTLED", "Too many requests", nil)
}

// mapStoreErr lifts store and tree sentinels into the API error taxonomy.
// Anything unrecognized passes through and surfaces as a server error.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return errNotFound()
	case errors.Is(err, store.ErrCyclicMove):
		return domainError(http.StatusBadRequest, "CYCLIC_MOVE", "Cannot move a node under its own descendant", nil)
	case errors.Is(err, store.ErrTooManyDescendants):
		return domainError(http.StatusBadRequest, "TOO_MANY_DESCENDANTS", "Subtree too large to move", nil)
	case errors.Is(err, store.ErrNodeDeleted):
		return domainError(http.StatusConflict, "CONFLICT", "Node is deleted", nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(http.StatusConflict, "CONFLICT", "Concurrent modification, retry", nil)
	case errors.Is(err, treepath.ErrDepthExceeded):
		return errValidation("Maximum tree depth exceeded", nil)
	case errors.Is(err, treepath.ErrSiblingSpaceExhausted):
		return domainError(http.StatusConflict, "SIBLING_SPACE_EXHAUSTED", "No sibling slot available at this position", nil)
	default:
		return err
	}
}
