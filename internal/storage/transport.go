package storage

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Reference is a pointer to another path in the database, exchanged on
// the wire distinctly from a plain string.
type Reference struct {
	Path string
}

// Serialize converts a value into a JSON-safe form that preserves dates,
// binary blobs and references distinctly from plain JSON. Maps and
// slices are walked recursively.
func Serialize(value any) any {
	switch v := value.(type) {
	case time.Time:
		return map[string]any{".type": "date", ".val": v.UTC().Format(time.RFC3339Nano)}
	case []byte:
		return map[string]any{".type": "binary", ".val": base64.StdEncoding.EncodeToString(v)}
	case Reference:
		return map[string]any{".type": "reference", ".val": v.Path}
	case *Reference:
		return map[string]any{".type": "reference", ".val": v.Path}
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = Serialize(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = Serialize(child)
		}
		return out
	default:
		return v
	}
}

// Deserialize is the inverse of Serialize.
func Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if typ, ok := v[".type"].(string); ok {
			raw, hasVal := v[".val"]
			if !hasVal {
				return nil, fmt.Errorf("typed value %q missing .val", typ)
			}
			switch typ {
			case "date":
				s, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("date value must be a string")
				}
				t, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return nil, fmt.Errorf("parsing date value: %w", err)
				}
				return t, nil
			case "binary":
				s, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("binary value must be a string")
				}
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return nil, fmt.Errorf("decoding binary value: %w", err)
				}
				return b, nil
			case "reference":
				s, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("reference value must be a string")
				}
				return Reference{Path: s}, nil
			default:
				return nil, fmt.Errorf("unknown transport type %q", typ)
			}
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			d, err := Deserialize(child)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			d, err := Deserialize(child)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	default:
		return v, nil
	}
}
