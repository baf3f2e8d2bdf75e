package viewer

import (
	"context"
	"sort"
	"strings"
	"time"
)

// ListIndexedFields derives metadata-fields-UI data from the session
// collection's actual indexes rather than scanning metadata aggregates:
// each indexed field not internal to Mongo gets a type (inferred by
// name convention or by sampling documents) and, when the field is in
// the viewer's configured enum list and its distinct-value count stays
// within EnumMaxValues, a sorted enum of its values.
//
// Results are sorted alphabetically by field name to stabilize the UI.
func (v *Viewer) ListIndexedFields(ctx context.Context) ([]FieldInfo, error) {
	names, err := v.store.ListIndexedFields(ctx)
	if err != nil {
		return nil, err
	}

	fields := make([]FieldInfo, 0, len(names))
	for _, name := range names {
		kind, err := v.inferFieldType(ctx, name)
		if err != nil {
			return nil, err
		}
		info := FieldInfo{Field: name, Type: kind}

		if v.isEnumField(name) {
			values, err := v.store.DistinctMetadataValues(ctx, strings.TrimPrefix(name, "metadata."), v.enumMaxValues+1)
			if err != nil {
				return nil, err
			}
			if int64(len(values)) <= v.enumMaxValues {
				sortValues(values)
				info.Type = FieldEnum
				info.Values = values
			}
		}
		fields = append(fields, info)
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return fields, nil
}

// isEnumField reports whether name is in the viewer's configured
// enum-eligible set, matched against both the bare field name and its
// "metadata."-prefixed form.
func (v *Viewer) isEnumField(name string) bool {
	for _, f := range v.enumFields {
		if f == name || f == strings.TrimPrefix(name, "metadata.") {
			return true
		}
	}
	return false
}

// inferFieldType classifies a field by naming convention first
// (anything containing "date" or ending in "_at" is a date field
// without needing to sample), falling back to sampling up to 100
// non-null documents and picking the most specific runtime type present
// under the priority boolean > number > date > string.
func (v *Viewer) inferFieldType(ctx context.Context, field string) (FieldKind, error) {
	lower := strings.ToLower(field)
	if strings.Contains(lower, "date") || strings.HasSuffix(lower, "_at") {
		return FieldDate, nil
	}

	values, err := v.store.SampleFieldValues(ctx, field, 100)
	if err != nil {
		return "", err
	}
	return inferKind(values), nil
}

// inferKind classifies a field's sampled values by the fixed priority
// boolean > number > date > string: the most specific type present
// among the non-nil sampled values wins.
func inferKind(values []any) FieldKind {
	if len(values) == 0 {
		return FieldString
	}

	anyBool, anyNumber, anyDate := false, false, false
	for _, val := range values {
		if val == nil {
			continue
		}
		if _, ok := val.(bool); ok {
			anyBool = true
		}
		if isNumeric(val) {
			anyNumber = true
		}
		if isDateLike(val) {
			anyDate = true
		}
	}

	switch {
	case anyBool:
		return FieldBoolean
	case anyNumber:
		return FieldNumber
	case anyDate:
		return FieldDate
	default:
		return FieldString
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func isDateLike(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

// sortValues sorts a slice of distinct values for stable enum output.
// Non-string values fall back to an empty sort key, keeping them in a
// stable relative order rather than panicking on mixed types.
func sortValues(values []any) {
	sort.SliceStable(values, func(i, j int) bool {
		return formatValue(values[i]) < formatValue(values[j])
	})
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
