package pipeline

import (
	"bytes"
	"strings"

	"go.uber.org/zap"
)

// Preprocess performs best-effort cleanup of a raw document before
// transcription: everything from the first configured boundary marker
// onward (trailing legal boilerplate, general purchase conditions) is cut.
// If no marker matches, or cutting would empty the document, the input is
// returned unchanged. Never fails.
func Preprocess(document []byte, documentName string, markers []string) []byte {
	if len(markers) == 0 || len(document) == 0 {
		return document
	}

	lower := bytes.ToLower(document)
	cut := -1
	for _, marker := range markers {
		m := []byte(strings.ToLower(marker))
		if len(m) == 0 {
			continue
		}
		if idx := bytes.Index(lower, m); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut <= 0 {
		// No marker found, or the marker opens the document: cutting would
		// leave nothing useful behind.
		return document
	}

	trimmed := document[:cut]
	if len(bytes.TrimSpace(trimmed)) == 0 {
		return document
	}

	zap.L().Debug("preprocess: truncated document at boundary marker",
		zap.String("document", documentName),
		zap.Int("original_bytes", len(document)),
		zap.Int("kept_bytes", len(trimmed)),
	)
	return trimmed
}
