package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/pkg/anthropic"
)

const extractSystemPrompt = `You extract structured purchase order data from markdown documents.
Return a valid JSON object matching the provided JSON schema exactly. Respond only with the JSON object.`

const extractUserPromptTmpl = `Extract the order information from the document below.

Output JSON schema:
%s

Document:
%s`

// Extractor produces a schema-conformant structured record from a
// transcript using the completion service's schema-constrained generation.
type Extractor struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewExtractor creates an Extractor.
func NewExtractor(client anthropic.Client, cfg config.AnthropicConfig) *Extractor {
	return &Extractor{client: client, cfg: cfg}
}

// Extract returns the structured record for the transcript per the
// profile's schema. The schema is rendered verbatim into the prompt; the
// parsed response is checked against every required field, including the
// fields of each item in the item list.
func (e *Extractor) Extract(ctx context.Context, transcript string, profile model.ClientProfile) (map[string]any, error) {
	schemaJSON, err := profile.Schema.JSONSchema()
	if err != nil {
		return nil, &ExtractionError{ProfileName: profile.Name, Reason: "render schema", Err: err}
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.cfg.ExtractModel,
		MaxTokens:   e.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(extractSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: fmt.Sprintf(extractUserPromptTmpl, schemaJSON, transcript)}},
		Temperature: anthropic.DeterministicTemperature(),
	})
	if err != nil {
		return nil, &ExtractionError{ProfileName: profile.Name, Reason: "completion call failed", Err: err}
	}
	resp.Usage.LogCost(e.cfg.ExtractModel, "extract")

	var record map[string]any
	cleaned := cleanJSONFromText(resp.Text())
	if err := json.Unmarshal([]byte(cleaned), &record); err != nil {
		return nil, &ExtractionError{ProfileName: profile.Name, Reason: "response is not valid JSON", Err: err}
	}

	if err := checkRequired(record, profile.Schema); err != nil {
		return nil, &ExtractionError{ProfileName: profile.Name, Reason: err.Error()}
	}
	return record, nil
}

// checkRequired verifies every required schema field is present and
// non-null in the record, descending into the item list.
func checkRequired(record map[string]any, schema model.Schema) error {
	for _, f := range schema.Fields {
		v, ok := record[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if !f.IsItemList {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("field %q is not a list", f.Name)
		}
		for i, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("item %d of %q is not an object", i, f.Name)
			}
			for _, itemField := range f.Items {
				if iv, ok := item[itemField.Name]; itemField.Required && (!ok || iv == nil) {
					return fmt.Errorf("item %d of %q missing required field %q", i, f.Name, itemField.Name)
				}
			}
		}
	}
	return nil
}
