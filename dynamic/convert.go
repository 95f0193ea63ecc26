package dynamic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// UnknownFieldsKey carries a message's unknown-field bytes in its map form.
const UnknownFieldsKey = "__unknown"

// MapOptions shapes the map projection produced by ToMap.
type MapOptions struct {
	EnumsAsNames     bool // enum numbers with a declared name become that name
	PopulateDefaults bool // unset singular scalar and enum fields appear with their defaults
	StringKeys       bool // map fields become map[string]any instead of map[any]any
	UseJSONNames     bool // keys use the JSON name (lowerCamelCase) instead of the proto name
}

// ToMap converts m into nested map[string]any values.
func ToMap(m *Message, opts MapOptions) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m.values))
	m.Range(func(f *schema.Field, v any) bool {
		out[opts.key(f)] = toMapValue(f, v, opts)
		return true
	})
	if opts.PopulateDefaults {
		for _, f := range m.desc.Fields {
			k := opts.key(f)
			if _, ok := out[k]; ok || f.Oneof != "" {
				continue
			}
			if f.IsRepeated() || f.IsMap() || f.Type.Kind == schema.KindMessage {
				continue
			}
			out[k] = toMapValue(f, DefaultValue(f), opts)
		}
	}
	if len(m.unknown) > 0 {
		out[UnknownFieldsKey] = m.unknown
	}
	return out
}

func (o MapOptions) key(f *schema.Field) string {
	if !o.UseJSONNames {
		return f.Name
	}
	if f.JsonName != "" {
		return f.JsonName
	}
	return toLowerCamel(f.Name)
}

func toMapValue(f *schema.Field, v any, opts MapOptions) any {
	switch {
	case f.IsMap():
		mp, _ := v.(map[any]any)
		if opts.StringKeys {
			out := make(map[string]any, len(mp))
			for k, mv := range mp {
				out[fmt.Sprint(k)] = elemToMap(f.Type.MapValue, mv, opts)
			}
			return out
		}
		out := make(map[any]any, len(mp))
		for k, mv := range mp {
			out[k] = elemToMap(f.Type.MapValue, mv, opts)
		}
		return out
	case f.IsRepeated():
		list, _ := v.([]any)
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = elemToMap(&f.Type, e, opts)
		}
		return out
	}
	return elemToMap(&f.Type, v, opts)
}

func elemToMap(t *schema.FieldType, v any, opts MapOptions) any {
	switch t.Kind {
	case schema.KindMessage:
		if sub, ok := v.(*Message); ok {
			return ToMap(sub, opts)
		}
		return v
	case schema.KindEnum:
		if n, ok := v.(int32); ok && opts.EnumsAsNames && t.Enum != nil {
			if ev := t.Enum.ValueByNumber(n); ev != nil {
				return ev.Name
			}
		}
	}
	return v
}

// FromMap builds a message of type md from its map form. Keys may be proto
// or JSON names; values are coerced to the field kinds (see Coerce).
func FromMap(md *schema.Message, data map[string]any) (*Message, error) {
	m := New(md)
	for key, raw := range data {
		if key == UnknownFieldsKey {
			b, ok := raw.([]byte)
			if !ok {
				return nil, wire.WrapEncodeField(fmt.Errorf("%w: expected []byte, got %T", wire.ErrTypeMismatch, raw), key)
			}
			m.unknown = append([]byte(nil), b...)
			continue
		}
		f := fieldByKey(md, key)
		if f == nil {
			return nil, wire.WrapEncodeField(fmt.Errorf("%w: %s has no field %q", wire.ErrUnknownField, m.name(), key), key)
		}
		if raw == nil {
			continue
		}
		v, err := coerceField(f, raw)
		if err != nil {
			return nil, wire.WrapEncodeField(err, f.Name)
		}
		m.set(f, v)
	}
	return m, nil
}

// fieldByKey also accepts the derived lowerCamelCase name of fields that
// declare no json_name.
func fieldByKey(md *schema.Message, key string) *schema.Field {
	if f := md.FieldByName(key); f != nil {
		return f
	}
	for _, f := range md.Fields {
		if f.JsonName == "" && toLowerCamel(f.Name) == key {
			return f
		}
	}
	return nil
}

func coerceField(f *schema.Field, raw any) (any, error) {
	switch {
	case f.IsMap():
		return coerceMap(f, raw)
	case f.IsRepeated():
		rv := reflect.ValueOf(raw)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("%w: repeated field value must be a slice, got %T", wire.ErrTypeMismatch, raw)
		}
		list := make([]any, rv.Len())
		for i := range list {
			v, err := Coerce(&f.Type, rv.Index(i).Interface())
			if err != nil {
				return nil, wire.WrapEncodeField(err, strconv.Itoa(i))
			}
			list[i] = v
		}
		return list, nil
	}
	return Coerce(&f.Type, raw)
}

func coerceMap(f *schema.Field, raw any) (any, error) {
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("%w: map field value must be a map, got %T", wire.ErrTypeMismatch, raw)
	}
	out := make(map[any]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := coerceMapKey(f.Type.MapKey.PrimitiveType, iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		v, err := Coerce(f.Type.MapValue, iter.Value().Interface())
		if err != nil {
			return nil, wire.WrapEncodeField(err, fmt.Sprint(k))
		}
		out[k] = v
	}
	return out, nil
}

func coerceMapKey(t schema.PrimitiveType, raw any) (any, error) {
	if t == schema.TypeBool {
		if s, ok := raw.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("%w: map key %q is not a bool", wire.ErrTypeMismatch, s)
			}
			return b, nil
		}
	}
	return Coerce(&schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: t}, raw)
}

// Coerce converts a loosely typed value (JSON numbers, strings, Go integer
// and float types, wire.Long, maps for messages) into the representation
// Message stores for a single element of type t.
func Coerce(t *schema.FieldType, raw any) (any, error) {
	switch t.Kind {
	case schema.KindMessage:
		return coerceMessage(t, raw)
	case schema.KindEnum:
		return coerceEnum(t, raw)
	case schema.KindPrimitive:
		return coercePrimitive(t.PrimitiveType, raw)
	}
	return nil, fmt.Errorf("%w: cannot coerce into %s", wire.ErrTypeMismatch, t.Kind)
}

func coerceMessage(t *schema.FieldType, raw any) (any, error) {
	switch v := raw.(type) {
	case *Message:
		if t.Message != nil && v.desc != t.Message && v.name() != t.Message.FullName {
			return nil, fmt.Errorf("%w: expected %s, got %s", wire.ErrTypeMismatch, t.MessageType, v.name())
		}
		return v, nil
	case []byte:
		if t.Message == nil {
			return v, nil
		}
		return nil, fmt.Errorf("%w: expected %s, got []byte", wire.ErrTypeMismatch, t.MessageType)
	case map[string]any:
		if t.Message == nil {
			return nil, fmt.Errorf("%w: %s", wire.ErrUnresolvedReference, t.MessageType)
		}
		return FromMap(t.Message, v)
	}
	return nil, fmt.Errorf("%w: message value must be map[string]any, got %T", wire.ErrTypeMismatch, raw)
}

func coerceEnum(t *schema.FieldType, raw any) (any, error) {
	if s, ok := raw.(string); ok && t.Enum != nil {
		if ev := t.Enum.ValueByName(s); ev != nil {
			return ev.Number, nil
		}
		if _, err := strconv.ParseInt(s, 10, 32); err != nil {
			return nil, fmt.Errorf("%w: %q is not a value of %s", wire.ErrTypeMismatch, s, t.EnumType)
		}
	}
	n, err := coerceToInt64(raw)
	if err != nil {
		return nil, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: enum value %d overflows int32", wire.ErrTypeMismatch, n)
	}
	return int32(n), nil
}

func coercePrimitive(t schema.PrimitiveType, raw any) (any, error) {
	switch t {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		n, err := coerceToInt64(raw)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d overflows %s", wire.ErrTypeMismatch, n, t)
		}
		return int32(n), nil
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		return coerceToInt64(raw)
	case schema.TypeUint32, schema.TypeFixed32:
		n, err := coerceToUint64(raw)
		if err != nil {
			return nil, err
		}
		if n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d overflows %s", wire.ErrTypeMismatch, n, t)
		}
		return uint32(n), nil
	case schema.TypeUint64, schema.TypeFixed64:
		return coerceToUint64(raw)
	case schema.TypeFloat:
		f, err := coerceToFloat64(raw)
		return float32(f), err
	case schema.TypeDouble:
		return coerceToFloat64(raw)
	case schema.TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a bool", wire.ErrTypeMismatch, v)
			}
			return b, nil
		}
	case schema.TypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case schema.TypeBytes:
		switch v := raw.(type) {
		case []byte:
			return v, nil
		case string:
			// JSON carries bytes as base64, padded or not.
			if b, err := base64.StdEncoding.DecodeString(v); err == nil {
				return b, nil
			}
			b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
			if err != nil {
				return nil, fmt.Errorf("%w: bytes value is not base64", wire.ErrTypeMismatch)
			}
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: expected %s, got %T", wire.ErrTypeMismatch, t, raw)
}

// Helpers to coerce JSON inputs to integers (accept exponent/float forms if integral)
func coerceToInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", wire.ErrTypeMismatch, t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", wire.ErrTypeMismatch, t)
		}
		return int64(t), nil
	case wire.Long:
		return t.Int64(), nil
	case json.Number:
		// Try integer first
		if iv, err := t.Int64(); err == nil {
			return iv, nil
		}
		return integralFloat(t.String())
	case float64:
		return checkIntegral(t)
	case float32:
		return checkIntegral(float64(t))
	case string:
		if strings.ContainsAny(t, ".eE") {
			return integralFloat(t)
		}
		l, err := wire.ParseLong(t, false)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", wire.ErrTypeMismatch, err)
		}
		return l.Int64(), nil
	default:
		return 0, fmt.Errorf("%w: expected integer-like, got %T", wire.ErrTypeMismatch, v)
	}
}

func coerceToUint64(v any) (uint64, error) {
	switch t := v.(type) {
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case uint:
		return uint64(t), nil
	case uint16:
		return uint64(t), nil
	case uint8:
		return uint64(t), nil
	case wire.Long:
		return t.Uint64(), nil
	case json.Number:
		if uv, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return uv, nil
		}
		n, err := integralFloat(t.String())
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: negative value for unsigned field", wire.ErrTypeMismatch)
		}
		return uint64(n), nil
	case string:
		if strings.ContainsAny(t, ".eE") {
			n, err := integralFloat(t)
			if err != nil {
				return 0, err
			}
			if n < 0 {
				return 0, fmt.Errorf("%w: negative value for unsigned field", wire.ErrTypeMismatch)
			}
			return uint64(n), nil
		}
		l, err := wire.ParseLong(t, true)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", wire.ErrTypeMismatch, err)
		}
		return l.Uint64(), nil
	default:
		n, err := coerceToInt64(v)
		if err != nil {
			return 0, fmt.Errorf("%w: expected unsigned-integer-like, got %T", wire.ErrTypeMismatch, v)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: negative value %d for unsigned field", wire.ErrTypeMismatch, n)
		}
		return uint64(n), nil
	}
}

func coerceToFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		return parseJSONFloat(t.String())
	case string:
		return parseJSONFloat(t)
	}
	n, err := coerceToInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%w: expected number, got %T", wire.ErrTypeMismatch, v)
	}
	return float64(n), nil
}

func parseJSONFloat(s string) (float64, error) {
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	f, err := parseFloatLiteral(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", wire.ErrTypeMismatch, s)
	}
	return f, nil
}

func integralFloat(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", wire.ErrTypeMismatch, s)
	}
	return checkIntegral(f)
}

func checkIntegral(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: non-integer numeric for integer field", wire.ErrTypeMismatch)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v overflows int64", wire.ErrTypeMismatch, f)
	}
	return int64(f), nil
}

// toLowerCamel converts snake_case to lowerCamelCase
func toLowerCamel(s string) string {
	if s == "" {
		return s
	}
	out := make([]byte, 0, len(s))
	upperNext := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			upperNext = true
			continue
		}
		if len(out) == 0 {
			// first rune lowercased
			if c >= 'A' && c <= 'Z' {
				c = c - 'A' + 'a'
			}
			out = append(out, c)
			upperNext = false
			continue
		}
		if upperNext {
			if c >= 'a' && c <= 'z' {
				c = c - 'a' + 'A'
			}
			upperNext = false
		}
		out = append(out, c)
	}
	return string(out)
}

// JSONName returns the default JSON name of a proto field name.
func JSONName(protoName string) string {
	return toLowerCamel(protoName)
}
