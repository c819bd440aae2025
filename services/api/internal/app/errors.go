package app

import "errors"

var (
	ErrInvalidQuestion = errors.New("question is required")
	ErrInvalidLevel    = errors.New("invalid simplicity level")
	// ErrProviderUnavailable wraps every answer, companion or transcription
	// provider failure.
	ErrProviderUnavailable = errors.New("answer provider unavailable")

	ErrCompanionNotFound = errors.New("companion not found")
	ErrCompanionExists   = errors.New("companion already exists")
	ErrInvalidArchetype  = errors.New("invalid companion archetype")
	ErrMessageNotFound   = errors.New("companion message not found")

	ErrShareNotFound = errors.New("share not found")

	ErrUnsupportedAudio      = errors.New("unsupported audio format")
	ErrTranscriptionDisabled = errors.New("transcription is not configured")
	ErrBillingDisabled       = errors.New("billing is not configured")
)
