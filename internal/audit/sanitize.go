package audit

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Redacted replaces the value of every sensitive field.
const Redacted = "[REDACTED]"

// shortTermLen is the length below which a sensitive term must match a key
// exactly; "pin" must not redact "shipping".
const shortTermLen = 4

// Sanitizer redacts sensitive fields from value maps before they reach the
// ledger or the index. Keys are compared case-insensitively with '_', '-' and
// '.' ignored, so "access_token" and "accessToken" are treated alike.
type Sanitizer struct {
	terms []string
}

// NewSanitizer builds a sanitizer for the given sensitive field names.
func NewSanitizer(sensitiveKeys []string) *Sanitizer {
	s := &Sanitizer{}
	for _, k := range sensitiveKeys {
		if n := normalizeKey(k); n != "" {
			s.terms = append(s.terms, n)
		}
	}
	return s
}

// IsSensitive reports whether key names a sensitive field.
func (s *Sanitizer) IsSensitive(key string) bool {
	n := normalizeKey(key)
	for _, term := range s.terms {
		if len(term) < shortTermLen {
			if n == term {
				return true
			}
			continue
		}
		if strings.Contains(n, term) {
			return true
		}
	}
	return false
}

// Sanitize returns a deep copy of values with every sensitive field replaced
// by Redacted, at any nesting depth. The input is never modified.
func (s *Sanitizer) Sanitize(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if s.IsSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = s.sanitizeValue(v)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return s.Sanitize(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, sv := range val {
			m[k] = sv
		}
		return s.Sanitize(m)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.sanitizeValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.Sanitize(item)
		}
		return out
	default:
		return s.sanitizeOther(v)
	}
}

// sanitizeOther walks structs, typed maps, slices and pointers through their
// JSON form, the same form the ledger stores. Scalars are kept as they are. A
// value that cannot be encoded is redacted whole.
func (s *Sanitizer) sanitizeOther(v any) any {
	if v == nil {
		return nil
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer, reflect.Interface,
		reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
	default:
		if _, ok := v.(json.Marshaler); !ok {
			return v
		}
	}
	generic, err := toGeneric(v)
	if err != nil {
		return Redacted
	}
	switch generic.(type) {
	case map[string]any, []any:
		return s.sanitizeValue(generic)
	default:
		return generic
	}
}

func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range strings.ToLower(k) {
		if r == '_' || r == '-' || r == '.' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
