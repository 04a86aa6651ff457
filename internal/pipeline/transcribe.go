package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/pkg/anthropic"
)

const transcribeSystemPrompt = `Read the document you are given and convert it to markdown text.
Preserve the structure and visual layout of the original content, and respond in the same language the document uses.
If the document contains images, transcribe them and include their content in the markdown.
Respond only with the markdown text.`

// Transcriber converts a raw document into layout-preserving markdown via
// one deterministic completion call. No retry: a failed call is a failed
// document.
type Transcriber struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewTranscriber creates a Transcriber.
func NewTranscriber(client anthropic.Client, cfg config.AnthropicConfig) *Transcriber {
	return &Transcriber{client: client, cfg: cfg}
}

// Transcribe returns the markdown transcript of the document. Only .pdf and
// .txt documents are accepted; anything else fails without a service call.
func (t *Transcriber) Transcribe(ctx context.Context, document []byte, documentName string) (string, error) {
	var msg anthropic.Message
	switch strings.ToLower(filepath.Ext(documentName)) {
	case ".pdf":
		msg = anthropic.Message{
			Role:     "user",
			Document: &anthropic.DocumentAttachment{MediaType: "application/pdf", Data: document},
		}
	case ".txt":
		msg = anthropic.Message{Role: "user", Content: string(document)}
	default:
		return "", &TranscriptionError{
			DocumentName: documentName,
			Reason:       "unsupported document type",
		}
	}

	resp, err := t.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       t.cfg.TranscribeModel,
		MaxTokens:   t.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(transcribeSystemPrompt),
		Messages:    []anthropic.Message{msg},
		Temperature: anthropic.DeterministicTemperature(),
	})
	if err != nil {
		return "", &TranscriptionError{DocumentName: documentName, Reason: "completion call failed", Err: err}
	}
	resp.Usage.LogCost(t.cfg.TranscribeModel, "transcribe")

	transcript := strings.TrimSpace(resp.Text())
	if transcript == "" {
		return "", &TranscriptionError{DocumentName: documentName, Reason: "empty transcript"}
	}
	return transcript, nil
}
