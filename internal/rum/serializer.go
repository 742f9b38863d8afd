package rum

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"rumspool/internal/storage"
)

const (
	GlobalAttributePrefix = "context"
	UserAttributePrefix   = "usr"
	CustomTimingsPrefix   = "view.custom_timings"

	GlobalAttributesGroup = "attributes"
	UserExtraGroup        = "user extra information"
	CustomTimingsGroup    = "custom timings"

	// Segment limits for attribute keys, prefix excluded.
	MaxGlobalKeyDepth    = 9
	MaxUserKeyDepth      = 8
	MaxCustomTimingDepth = 8

	formatVersion = 2
)

// knownAttributes are merged at the top level under their own name.
var knownAttributes = map[string]struct{}{
	"_dd.timestamp":         {},
	"_dd.error_type":        {},
	"_dd.error.source_type": {},
	"_dd.error.is_crash":    {},
}

// KnownAttributes returns the attribute names that bypass prefixing.
func KnownAttributes() []string {
	out := make([]string, 0, len(knownAttributes))
	for k := range knownAttributes {
		out = append(out, k)
	}
	return out
}

// AttributeValidator enforces attribute policy before a group is merged.
// The returned map is what gets merged.
type AttributeValidator interface {
	ValidateAttributes(attrs map[string]any, prefix, group string) map[string]any
}

type passthroughValidator struct{}

func (passthroughValidator) ValidateAttributes(attrs map[string]any, _, _ string) map[string]any {
	return attrs
}

type Serializer struct {
	validator AttributeValidator
}

// NewSerializer returns a serializer using v; a nil v merges attributes
// unchecked.
func NewSerializer(v AttributeValidator) *Serializer {
	if v == nil {
		v = passthroughValidator{}
	}
	return &Serializer{validator: v}
}

// Serialize renders e as one JSON object. Nothing is returned on error.
func (s *Serializer) Serialize(e Event) (string, error) {
	obj, err := encodePayload(e.Payload)
	if err != nil {
		return "", err
	}

	groups := []struct {
		attrs    map[string]any
		prefix   string
		group    string
		maxDepth int
	}{
		{e.GlobalAttributes, GlobalAttributePrefix, GlobalAttributesGroup, MaxGlobalKeyDepth},
		{e.UserExtraAttributes, UserAttributePrefix, UserExtraGroup, MaxUserKeyDepth},
		{timingsAsAttributes(e.CustomTimings), CustomTimingsPrefix, CustomTimingsGroup, MaxCustomTimingDepth},
	}
	for _, g := range groups {
		if g.attrs == nil {
			continue
		}
		validated := s.validator.ValidateAttributes(g.attrs, g.prefix, g.group)
		if err := mergeAttributes(obj, validated, g.prefix, g.maxDepth); err != nil {
			return "", fmt.Errorf("%s: %w", g.group, err)
		}
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal rum event: %w", err)
	}
	return string(out), nil
}

func timingsAsAttributes(timings map[string]int64) map[string]any {
	if timings == nil {
		return nil
	}
	out := make(map[string]any, len(timings))
	for k, v := range timings {
		out[k] = v
	}
	return out
}

func encodePayload(payload any) (map[string]json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	typ, body := variantOf(payload)
	if body == nil {
		return obj, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", typ, err)
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("flatten %s event: %w", typ, err)
	}
	obj["type"] = mustQuote(typ)
	obj["_dd"] = json.RawMessage(fmt.Sprintf(`{"format_version":%d}`, formatVersion))
	return obj, nil
}

// variantOf returns the type discriminator and body of a known payload, or a
// nil body for anything else.
func variantOf(payload any) (string, any) {
	switch p := payload.(type) {
	case *ResourceEvent:
		if p != nil {
			return "resource", p
		}
	case ResourceEvent:
		return "resource", &p
	case *ActionEvent:
		if p != nil {
			return "action", p
		}
	case ActionEvent:
		return "action", &p
	case *ViewEvent:
		if p != nil {
			return "view", p
		}
	case ViewEvent:
		return "view", &p
	case *ErrorEvent:
		if p != nil {
			return "error", p
		}
	case ErrorEvent:
		return "error", &p
	}
	return "", nil
}

func mergeAttributes(obj map[string]json.RawMessage, attrs map[string]any, prefix string, maxDepth int) error {
	for key, value := range attrs {
		if strings.TrimSpace(key) == "" {
			continue
		}
		name := key
		if _, known := knownAttributes[key]; !known {
			name = prefix + "." + SanitizeKey(key, maxDepth)
		}
		raw, err := EncodeValue(value)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		obj[name] = raw
	}
	return nil
}

// SanitizeKey caps key at maxDepth dot-separated segments by replacing the
// rightmost remaining '.' with '_' once per excess segment.
func SanitizeKey(key string, maxDepth int) string {
	excess := strings.Count(key, ".") + 1 - maxDepth
	if excess <= 0 {
		return key
	}
	b := []byte(key)
	end := len(b)
	for ; excess > 0; excess-- {
		i := strings.LastIndexByte(string(b[:end]), '.')
		b[i] = '_'
		end = i
	}
	return string(b)
}

// EncodeValue renders an attribute value as JSON: primitives as themselves,
// time.Time as epoch milliseconds, structured JSON verbatim, pointers as the
// value they point to, string-keyed maps as objects and slices as arrays of
// encoded elements. Anything else becomes its fmt text.
func EncodeValue(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return json.Marshal(x)
	case time.Time:
		return json.Marshal(x.UnixMilli())
	case json.RawMessage:
		if len(x) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(x) {
			return nil, fmt.Errorf("invalid raw JSON")
		}
		return x, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return json.RawMessage("null"), nil
		}
		return EncodeValue(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return json.RawMessage("null"), nil
		}
		obj := make(map[string]json.RawMessage, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := EncodeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			obj[iter.Key().String()] = item
		}
		return json.Marshal(obj)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return json.RawMessage("null"), nil
		}
		items := make([]json.RawMessage, rv.Len())
		for i := range items {
			item, err := EncodeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return json.Marshal(items)
	}
	return json.Marshal(fmt.Sprint(v))
}

func mustQuote(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

var _ storage.Serializer[Event] = (*Serializer)(nil)
