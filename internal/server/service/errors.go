package service

import "errors"

// Sentinel errors for the service layer. Callers match with errors.Is;
// the api package maps each to its HTTP status.
var (
	ErrInvalidUserID = errors.New("user id is required")
	ErrNotFound      = errors.New("file not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrHasReferences = errors.New("cannot delete original file with active references")
)
