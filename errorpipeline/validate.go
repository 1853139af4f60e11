package errorpipeline

import "errors"

var (
	ErrMessageTooLarge  = errors.New("errorpipeline: message exceeds 2KiB")
	ErrStackTooLarge    = errors.New("errorpipeline: stack exceeds 8KiB")
	ErrMetadataTooLarge = errors.New("errorpipeline: metadata exceeds 4KiB")
	ErrMissingErrorType = errors.New("errorpipeline: error_type is required")
	ErrMissingMessage   = errors.New("errorpipeline: message is required")
	ErrTooManyEvents    = errors.New("errorpipeline: batch exceeds 50 events")
)

// Validate enforces the per-field size invariants and required
// fields from the event schema. The overall 32KiB payload cap is
// enforced upstream by the request verifier, before the body is ever
// parsed into a RawEvent.
func Validate(e RawEvent) error {
	if e.ErrorType == "" {
		return ErrMissingErrorType
	}
	if e.Message == "" {
		return ErrMissingMessage
	}
	if len(e.Message) > maxMessageBytes {
		return ErrMessageTooLarge
	}
	if len(e.Stack) > maxStackBytes {
		return ErrStackTooLarge
	}
	if len(e.Metadata) > maxMetadataBytes {
		return ErrMetadataTooLarge
	}
	return nil
}

// ValidateBatch enforces the batch-size cap.
func ValidateBatch(b BatchRequest) error {
	if len(b.Events) > maxBatchEntries {
		return ErrTooManyEvents
	}
	return nil
}
