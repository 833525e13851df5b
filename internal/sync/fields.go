package sync

import "strconv"

// Bitable field values are heterogeneous: a text column may arrive as a bare
// string or as an array of rich-text segments, a person column as an array of
// user objects, a date column as an epoch-millis number. The helpers below
// flatten each shape to the scalar the synchronizers use.

func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		var out string
		for _, seg := range t {
			m, ok := seg.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["text"].(string); ok {
				out += s
			}
		}
		return out
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
	}
	return ""
}

func fieldPersonID(v any) string {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return ""
	}
	m, ok := arr[0].(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := m["id"].(string); ok {
		return id
	}
	return ""
}

// fieldMillis renders a date column as decimal epoch millis, or "" when the
// cell is empty.
func fieldMillis(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		if _, err := strconv.ParseInt(t, 10, 64); err == nil {
			return t
		}
	}
	return ""
}

// parseMillis converts a decimal millis string back to a number for writing
// into a date column.
func parseMillis(s string) (int64, bool) {
	if s == "" || s == "0" {
		return 0, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
