package engine

import "errors"

var (
	// ErrAlreadyConverted means the lead already carries a client link.
	ErrAlreadyConverted = errors.New("lead already converted")
	// ErrInvalidPack means the lead's pack code is not in the configured set.
	ErrInvalidPack = errors.New("invalid pack")
	// ErrDuplicateActiveProject means an open project already exists for the lead.
	ErrDuplicateActiveProject = errors.New("active project already exists for lead")
	// ErrUnknownStage means the stage key is not one of the four fixed stages.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrNotConverted means undo was requested on a lead with no client link.
	ErrNotConverted = errors.New("lead not converted")
)
