package config

import "fmt"

// LoadError describes a configuration file that could not be used.
type LoadError struct {
	// File is the path that failed to load (empty for in-memory data).
	File string

	// Field names the offending key, if known.
	Field string

	// Message describes the problem.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

func fieldError(field, msg string, cause error) *LoadError {
	return &LoadError{Field: field, Message: msg, Cause: cause}
}
