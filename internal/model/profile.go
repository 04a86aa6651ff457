package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// BootstrapProfileName is the sentinel profile name that puts the classifier
// into bootstrap mode: the issuing company is named directly from the text
// instead of being matched against registered profiles.
const BootstrapProfileName = "unregistered"

// ClientProfile is a registered classification description plus extraction
// schema for one document-issuing party.
type ClientProfile struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Classifier string    `json:"classifier"`
	Schema     Schema    `json:"schema"`
	Locked     bool      `json:"locked"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Bootstrap reports whether p is the sentinel bootstrap profile.
func (p ClientProfile) Bootstrap() bool {
	return p.Name == BootstrapProfileName
}

// FieldKind is the declared type of a schema field.
type FieldKind string

const (
	FieldString  FieldKind = "string"
	FieldInteger FieldKind = "integer"
	FieldNumber  FieldKind = "number"
	FieldBoolean FieldKind = "boolean"
)

// SchemaField describes one field of an extraction schema. A field marked
// IsItemList carries the per-item sub-fields in Items; exactly one such
// field may exist per schema.
type SchemaField struct {
	Name        string        `json:"name" yaml:"name"`
	Kind        FieldKind     `json:"kind" yaml:"kind"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool          `json:"required" yaml:"required"`
	IsItemList  bool          `json:"is_item_list,omitempty" yaml:"is_item_list,omitempty"`
	Items       []SchemaField `json:"items,omitempty" yaml:"items,omitempty"`
}

// Schema is the ordered extraction schema for one client profile.
type Schema struct {
	Name   string        `json:"name" yaml:"name"`
	Fields []SchemaField `json:"fields" yaml:"fields"`
}

// Validate checks the structural invariants the pipeline depends on:
// at least one field, exactly one item-list field, and that field having
// at least one sub-field.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return eris.New("schema: no fields defined")
	}
	lists := 0
	for _, f := range s.Fields {
		if f.Name == "" {
			return eris.New("schema: field with empty name")
		}
		if f.IsItemList {
			lists++
			if len(f.Items) == 0 {
				return eris.Errorf("schema: item-list field %q has no item fields", f.Name)
			}
		} else if len(f.Items) > 0 {
			return eris.Errorf("schema: field %q has item fields but is not marked as item list", f.Name)
		}
	}
	if lists != 1 {
		return eris.Errorf("schema: expected exactly one item-list field, found %d", lists)
	}
	return nil
}

// ItemListField returns the single item-list field of a valid schema.
func (s Schema) ItemListField() (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.IsItemList {
			return f, true
		}
	}
	return SchemaField{}, false
}

// HeaderFields returns the non-list fields in declaration order.
func (s Schema) HeaderFields() []SchemaField {
	out := make([]SchemaField, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.IsItemList {
			out = append(out, f)
		}
	}
	return out
}

// JSONSchema renders the schema as a JSON Schema document, passed verbatim
// to the completion service's schema-constrained extraction prompt.
func (s Schema) JSONSchema() (string, error) {
	root := map[string]any{
		"type":                 "object",
		"properties":           fieldsToProperties(s.Fields),
		"required":             requiredNames(s.Fields),
		"additionalProperties": false,
	}
	if s.Name != "" {
		root["title"] = s.Name
	}
	buf, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "schema: marshal json schema")
	}
	return string(buf), nil
}

func fieldsToProperties(fields []SchemaField) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.IsItemList {
			props[f.Name] = map[string]any{
				"type":        "array",
				"description": f.Description,
				"items": map[string]any{
					"type":                 "object",
					"properties":           fieldsToProperties(f.Items),
					"required":             requiredNames(f.Items),
					"additionalProperties": false,
				},
			}
			continue
		}
		props[f.Name] = map[string]any{
			"type":        string(f.Kind),
			"description": f.Description,
		}
	}
	return props
}

func requiredNames(fields []SchemaField) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}
