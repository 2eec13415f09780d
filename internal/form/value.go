package form

import (
	"math"
	"strconv"
	"strings"
)

// FileRef is the recorded value of a file field after upload.
type FileRef struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// EmptyValue is the value a field of type t holds when nothing is entered,
// and the value a hidden field is reset to.
func EmptyValue(t Type) any {
	switch {
	case t.IsMulti():
		return []string{}
	case t.IsBoolean():
		return false
	default:
		return ""
	}
}

// IsEmpty reports whether value counts as absent for required checks and the
// is_empty condition. Whitespace-only text is empty.
func IsEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []string:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	case []FileRef:
		return len(typed) == 0
	case FileRef:
		return typed.Key == "" && typed.Name == ""
	case *FileRef:
		return typed == nil
	}
	return false
}

// Text coerces a value to its string form. Sequences are joined with ",".
func Text(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case []string:
		return strings.Join(typed, ",")
	case []any:
		parts := make([]string, len(typed))
		for i, item := range typed {
			parts[i] = Text(item)
		}
		return strings.Join(parts, ",")
	case FileRef:
		return typed.Name
	case map[string]any:
		if name, ok := typed["name"].(string); ok {
			return name
		}
		return ""
	}
	return ""
}

// Number coerces a value to float64. Empty text, sequences and anything that
// does not parse yield NaN.
func Number(value any) float64 {
	switch typed := value.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case bool:
		if typed {
			return 1
		}
		return 0
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return math.NaN()
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return parsed
	}
	return math.NaN()
}

// Strings returns the elements of a sequence value, or a single-element
// slice for a non-empty scalar.
func Strings(value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			out = append(out, Text(item))
		}
		return out
	}
	text := Text(value)
	if text == "" {
		return nil
	}
	return []string{text}
}

// IsSequence reports whether value is a list value.
func IsSequence(value any) bool {
	switch value.(type) {
	case []string, []any, []FileRef:
		return true
	}
	return false
}

// Bool coerces a switch value. Text is true for "true", "yes", "on" and "1".
func Bool(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "yes", "on", "1":
			return true
		}
		return false
	case float64:
		return typed != 0
	case int:
		return typed != 0
	}
	return false
}

// Files extracts file references from a decoded value. Entries that are not
// file-shaped are skipped.
func Files(value any) []FileRef {
	switch typed := value.(type) {
	case FileRef:
		return []FileRef{typed}
	case *FileRef:
		if typed == nil {
			return nil
		}
		return []FileRef{*typed}
	case []FileRef:
		return typed
	case map[string]any:
		if ref, ok := fileFromMap(typed); ok {
			return []FileRef{ref}
		}
	case []any:
		out := make([]FileRef, 0, len(typed))
		for _, item := range typed {
			if mapping, ok := item.(map[string]any); ok {
				if ref, ok := fileFromMap(mapping); ok {
					out = append(out, ref)
				}
			}
		}
		return out
	}
	return nil
}

func fileFromMap(raw map[string]any) (FileRef, bool) {
	ref := FileRef{}
	ref.Key, _ = raw["key"].(string)
	ref.Name, _ = raw["name"].(string)
	ref.ContentType, _ = raw["content_type"].(string)
	if size := Number(raw["size"]); !math.IsNaN(size) {
		ref.Size = int64(size)
	}
	if ref.Key == "" && ref.Name == "" {
		return FileRef{}, false
	}
	return ref, true
}
