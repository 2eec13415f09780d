package tui

import "errors"

var (
	// ErrAborted signals the user interrupted input with Ctrl+C.
	ErrAborted = errors.New("tui: aborted")
	// ErrNotSubmittable is returned when the final revalidation still fails.
	ErrNotSubmittable = errors.New("tui: form has invalid answers")
)
