package event

import "errors"

// Sentinel errors for envelope handling.
var (
	// ErrNilContent indicates an attempt to process or store nil content.
	ErrNilContent = errors.New("event content cannot be nil")

	// ErrNilEnvelope indicates a nil envelope was passed where one is required.
	ErrNilEnvelope = errors.New("envelope cannot be nil")

	// ErrEmptyKind indicates an envelope was created without a content kind.
	ErrEmptyKind = errors.New("content kind is required")

	// ErrUnknownKind indicates a persisted envelope references an unregistered kind.
	ErrUnknownKind = errors.New("unknown content kind")

	// ErrInvalidPriority indicates a priority string could not be parsed.
	ErrInvalidPriority = errors.New("invalid priority")
)
