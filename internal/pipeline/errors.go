package pipeline

import "fmt"

// TranscriptionError indicates the completion service could not produce a
// transcript for a document, or the document type is not supported.
type TranscriptionError struct {
	DocumentName string
	Reason       string
	Err          error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed for %q: %s", e.DocumentName, e.Reason)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// UnknownClientError indicates no registered client profile matched the
// transcribed text.
type UnknownClientError struct {
	DocumentName string
}

func (e *UnknownClientError) Error() string {
	return fmt.Sprintf("no registered client matched document %q", e.DocumentName)
}

// ExtractionError indicates the structured record could not be produced or
// did not satisfy the profile schema.
type ExtractionError struct {
	ProfileName string
	Reason      string
	Err         error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for profile %q: %s", e.ProfileName, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NormalizationError indicates a structured record could not be flattened
// into tabular rows.
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed: %s", e.Reason)
}
