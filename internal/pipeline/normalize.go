package pipeline

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/ammonit/intake/internal/model"
)

// NormalizeOption adjusts how records are flattened.
type NormalizeOption func(*normalizeConfig)

type normalizeConfig struct {
	insertedColumns []insertedColumn
}

// insertedColumn is an extra per-item column injected into every row,
// placed after the given item-field index.
type insertedColumn struct {
	name     string
	value    string
	afterIdx int
}

// WithInsertedItemColumn adds a constant extra column to every item row,
// inserted after the item field at position afterIdx. Owners that pre-fill
// ERP data (internal item codes) use this instead of editing the schema.
func WithInsertedItemColumn(name, value string, afterIdx int) NormalizeOption {
	return func(c *normalizeConfig) {
		c.insertedColumns = append(c.insertedColumns, insertedColumn{name: name, value: value, afterIdx: afterIdx})
	}
}

// Normalize flattens a structured record into a semicolon-delimited table:
// one row per item, each row carrying all header fields plus that item's
// fields, header row first, item order preserved. The record must contain
// exactly one list-valued field, the one the schema declares.
func Normalize(record map[string]any, schema model.Schema, opts ...NormalizeOption) (string, error) {
	var cfg normalizeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	listField, ok := schema.ItemListField()
	if !ok {
		return "", &NormalizationError{Reason: "schema declares no item-list field"}
	}

	// The schema already guarantees a single declared list; the record must
	// agree — any other list-of-objects value is a malformed extraction.
	for name, v := range record {
		if name == listField.Name {
			continue
		}
		if isObjectList(v) {
			return "", &NormalizationError{Reason: fmt.Sprintf("unexpected list-valued field %q", name)}
		}
	}

	rawItems, ok := record[listField.Name]
	if !ok {
		return "", &NormalizationError{Reason: fmt.Sprintf("record has no %q field", listField.Name)}
	}
	items, ok := rawItems.([]any)
	if !ok {
		return "", &NormalizationError{Reason: fmt.Sprintf("field %q is not a list", listField.Name)}
	}

	headerFields := schema.HeaderFields()

	// Header row: header fields in schema order, then item fields in schema
	// order with any inserted columns spliced in.
	itemNames := make([]string, 0, len(listField.Items)+len(cfg.insertedColumns))
	for _, f := range listField.Items {
		itemNames = append(itemNames, f.Name)
	}
	for _, col := range cfg.insertedColumns {
		itemNames = spliceAfter(itemNames, col.name, col.afterIdx)
	}

	header := make([]string, 0, len(headerFields)+len(itemNames))
	for _, f := range headerFields {
		header = append(header, f.Name)
	}
	header = append(header, itemNames...)

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	w.Comma = ';'
	if err := w.Write(header); err != nil {
		return "", &NormalizationError{Reason: err.Error()}
	}

	common := make([]string, len(headerFields))
	for i, f := range headerFields {
		common[i] = renderValue(record[f.Name])
	}

	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			return "", &NormalizationError{Reason: fmt.Sprintf("item %d is not an object", i)}
		}

		fields := make([]string, 0, len(listField.Items)+len(cfg.insertedColumns))
		for _, f := range listField.Items {
			fields = append(fields, renderValue(item[f.Name]))
		}
		for _, col := range cfg.insertedColumns {
			fields = spliceAfter(fields, col.value, col.afterIdx)
		}

		row := make([]string, 0, len(common)+len(fields))
		row = append(row, common...)
		row = append(row, fields...)
		if err := w.Write(row); err != nil {
			return "", &NormalizationError{Reason: err.Error()}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", &NormalizationError{Reason: err.Error()}
	}
	return sb.String(), nil
}

// isObjectList reports whether v is a non-empty list of objects.
func isObjectList(v any) bool {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return false
	}
	_, ok = list[0].(map[string]any)
	return ok
}

// spliceAfter inserts value after position idx (clamped to the slice).
func spliceAfter(s []string, value string, idx int) []string {
	pos := idx + 1
	if pos < 0 {
		pos = 0
	}
	if pos > len(s) {
		pos = len(s)
	}
	out := make([]string, 0, len(s)+1)
	out = append(out, s[:pos]...)
	out = append(out, value)
	out = append(out, s[pos:]...)
	return out
}

// renderValue formats a record value for tabular output. JSON numbers
// arrive as float64; integral values print without a decimal point.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
