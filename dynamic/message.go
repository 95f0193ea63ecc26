// Package dynamic holds decoded protobuf messages as generic value trees keyed
// by field number.
package dynamic

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// Message is a schema-typed value tree. A Message is not safe for concurrent
// mutation.
//
// Values are stored in their decoded Go representation:
//
//	int32, sint32, sfixed32, enum -> int32
//	int64, sint64, sfixed64       -> int64
//	uint32, fixed32               -> uint32
//	uint64, fixed64               -> uint64
//	float, double                 -> float32, float64
//	bool, string, bytes           -> bool, string, []byte
//	message                       -> *Message ([]byte when the type is unresolved)
//	repeated                      -> []any
//	map                           -> map[any]any
type Message struct {
	desc    *schema.Message
	values  map[int32]any
	unknown []byte
}

// New creates an empty message of type md.
func New(md *schema.Message) *Message {
	return &Message{desc: md, values: make(map[int32]any)}
}

// Descriptor returns the message's schema.
func (m *Message) Descriptor() *schema.Message { return m.desc }

// Has reports whether field n holds a value that would be encoded.
func (m *Message) Has(n int32) bool {
	f := m.desc.FieldByNumber(n)
	if f == nil {
		return false
	}
	v, ok := m.values[n]
	return ok && m.populated(f, v)
}

// Get returns the value of field n, or its default when unset. Unknown
// numbers return nil.
func (m *Message) Get(n int32) any {
	f := m.desc.FieldByNumber(n)
	if f == nil {
		return nil
	}
	if v, ok := m.values[n]; ok {
		return v
	}
	return DefaultValue(f)
}

// Set stores v in field n. Setting a oneof member clears the other members;
// a nil v clears the field.
func (m *Message) Set(n int32, v any) error {
	f := m.desc.FieldByNumber(n)
	if f == nil {
		return fmt.Errorf("%w: %s has no field %d", wire.ErrUnknownField, m.name(), n)
	}
	m.set(f, v)
	return nil
}

// SetField is Set for a field descriptor already looked up on this message.
func (m *Message) SetField(f *schema.Field, v any) {
	m.set(f, v)
}

func (m *Message) set(f *schema.Field, v any) {
	if v == nil {
		delete(m.values, f.Number)
		return
	}
	if f.Oneof != "" {
		for _, sib := range m.desc.OneofSiblings(f) {
			delete(m.values, sib.Number)
		}
	}
	m.values[f.Number] = v
}

// Clear removes field n.
func (m *Message) Clear(n int32) {
	delete(m.values, n)
}

// Lookup returns the stored value of field n without applying defaults.
func (m *Message) Lookup(n int32) (any, bool) {
	v, ok := m.values[n]
	return v, ok
}

// Append adds v to the repeated field n.
func (m *Message) Append(n int32, v any) error {
	f := m.desc.FieldByNumber(n)
	if f == nil {
		return fmt.Errorf("%w: %s has no field %d", wire.ErrUnknownField, m.name(), n)
	}
	if !f.IsRepeated() {
		return fmt.Errorf("%w: %s.%s is not repeated", wire.ErrTypeMismatch, m.name(), f.Name)
	}
	return m.AppendField(f, v)
}

// AppendField is Append for a repeated field descriptor of this message.
func (m *Message) AppendField(f *schema.Field, v any) error {
	switch list := m.values[f.Number].(type) {
	case nil:
		m.values[f.Number] = []any{v}
	case []any:
		m.values[f.Number] = append(list, v)
	default:
		return fmt.Errorf("%w: %s.%s holds %T, not []any", wire.ErrTypeMismatch, m.name(), f.Name, list)
	}
	return nil
}

// PutMapEntry stores key -> value in the map field n. Later keys overwrite.
func (m *Message) PutMapEntry(n int32, key, value any) error {
	f := m.desc.FieldByNumber(n)
	if f == nil {
		return fmt.Errorf("%w: %s has no field %d", wire.ErrUnknownField, m.name(), n)
	}
	if !f.IsMap() {
		return fmt.Errorf("%w: %s.%s is not a map", wire.ErrTypeMismatch, m.name(), f.Name)
	}
	return m.PutMapEntryField(f, key, value)
}

// PutMapEntryField is PutMapEntry for a map field descriptor of this message.
func (m *Message) PutMapEntryField(f *schema.Field, key, value any) error {
	switch mp := m.values[f.Number].(type) {
	case nil:
		m.values[f.Number] = map[any]any{key: value}
	case map[any]any:
		mp[key] = value
	default:
		return fmt.Errorf("%w: %s.%s holds %T, not map[any]any", wire.ErrTypeMismatch, m.name(), f.Name, mp)
	}
	return nil
}

// Mutable returns the nested message in field n, creating it when unset.
func (m *Message) Mutable(n int32) (*Message, error) {
	f := m.desc.FieldByNumber(n)
	if f == nil {
		return nil, fmt.Errorf("%w: %s has no field %d", wire.ErrUnknownField, m.name(), n)
	}
	if f.Type.Kind != schema.KindMessage || f.IsRepeated() {
		return nil, fmt.Errorf("%w: %s.%s is not a singular message field", wire.ErrTypeMismatch, m.name(), f.Name)
	}
	if sub, ok := m.values[n].(*Message); ok {
		return sub, nil
	}
	if f.Type.Message == nil {
		return nil, fmt.Errorf("%w: %s for %s.%s", wire.ErrUnresolvedReference, f.Type.MessageType, m.name(), f.Name)
	}
	sub := New(f.Type.Message)
	m.set(f, sub)
	return sub, nil
}

// GetByName is Get addressed by proto or JSON field name.
func (m *Message) GetByName(name string) (any, error) {
	f := m.desc.FieldByName(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s has no field %q", wire.ErrUnknownField, m.name(), name)
	}
	return m.Get(f.Number), nil
}

// SetByName is Set addressed by proto or JSON field name.
func (m *Message) SetByName(name string, v any) error {
	f := m.desc.FieldByName(name)
	if f == nil {
		return fmt.Errorf("%w: %s has no field %q", wire.ErrUnknownField, m.name(), name)
	}
	m.set(f, v)
	return nil
}

// Range calls fn for every populated field in declaration order until fn
// returns false.
func (m *Message) Range(fn func(f *schema.Field, v any) bool) {
	for _, f := range m.desc.Fields {
		v, ok := m.values[f.Number]
		if !ok || !m.populated(f, v) {
			continue
		}
		if !fn(f, v) {
			return
		}
	}
}

// Len returns the number of populated fields.
func (m *Message) Len() int {
	n := 0
	m.Range(func(*schema.Field, any) bool {
		n++
		return true
	})
	return n
}

// Unknown returns the raw bytes of fields the schema does not define.
func (m *Message) Unknown() []byte { return m.unknown }

// SetUnknown replaces the raw unknown-field bytes.
func (m *Message) SetUnknown(b []byte) { m.unknown = b }

// AppendUnknown adds one raw field record to the unknown bytes.
func (m *Message) AppendUnknown(raw []byte) { m.unknown = append(m.unknown, raw...) }

// Reset clears all fields and unknown bytes.
func (m *Message) Reset() {
	m.values = make(map[int32]any)
	m.unknown = nil
}

// String returns a compact debugging form of the message.
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.name())
	sb.WriteByte('{')
	first := true
	m.Range(func(f *schema.Field, v any) bool {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&sb, "%s:%v", f.Name, v)
		return true
	})
	sb.WriteByte('}')
	return sb.String()
}

func (m *Message) name() string {
	if m.desc.FullName != "" {
		return m.desc.FullName
	}
	return m.desc.Name
}

// populated reports whether v would be encoded for f. Implicit-presence
// scalars holding their zero value are not.
func (m *Message) populated(f *schema.Field, v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case []any:
		return len(t) > 0
	case map[any]any:
		return len(t) > 0
	}
	if f.HasPresence(m.desc.Syntax) {
		return true
	}
	return !isZeroScalar(v)
}

func isZeroScalar(v any) bool {
	switch t := v.(type) {
	case int32:
		return t == 0
	case int64:
		return t == 0
	case uint32:
		return t == 0
	case uint64:
		return t == 0
	case float32:
		return t == 0 && !math.Signbit(float64(t))
	case float64:
		return t == 0 && !math.Signbit(t)
	case bool:
		return !t
	case string:
		return t == ""
	case []byte:
		return len(t) == 0
	}
	return false
}

// Equal reports whether m and o have the same type, the same populated
// fields with equal values and identical unknown bytes. NaN equals NaN.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.desc != o.desc && m.name() != o.name() {
		return false
	}
	if !bytes.Equal(m.unknown, o.unknown) {
		return false
	}
	if m.Len() != o.Len() {
		return false
	}
	equal := true
	m.Range(func(f *schema.Field, v any) bool {
		ov, ok := o.values[f.Number]
		if !ok || !o.populated(f, ov) || !valueEqual(v, ov) {
			equal = false
		}
		return equal
	})
	return equal
}

func valueEqual(a, b any) bool {
	switch x := a.(type) {
	case float32:
		y, ok := b.(float32)
		return ok && (x == y || (x != x && y != y))
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case *Message:
		y, ok := b.(*Message)
		return ok && x.Equal(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valueEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[any]any:
		y, ok := b.(map[any]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !valueEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// SortedMapKeys returns the keys of mp in ascending order. Keys of one map
// share a kind: integers order numerically, false before true, strings
// bytewise.
func SortedMapKeys(mp map[any]any) []any {
	keys := make([]any, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

func keyLess(a, b any) bool {
	switch x := a.(type) {
	case int32:
		if y, ok := b.(int32); ok {
			return x < y
		}
	case int64:
		if y, ok := b.(int64); ok {
			return x < y
		}
	case uint32:
		if y, ok := b.(uint32); ok {
			return x < y
		}
	case uint64:
		if y, ok := b.(uint64); ok {
			return x < y
		}
	case bool:
		if y, ok := b.(bool); ok {
			return !x && y
		}
	case string:
		if y, ok := b.(string); ok {
			return x < y
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

// DefaultValue returns what an unset field reads as: an empty list or map,
// nil for messages, the declared default, or the kind's zero value.
func DefaultValue(f *schema.Field) any {
	switch {
	case f.IsMap():
		return map[any]any{}
	case f.IsRepeated():
		return []any{}
	}
	if f.DefaultValue != "" {
		if v, ok := parseDefault(&f.Type, f.DefaultValue); ok {
			return v
		}
	}
	return ZeroValue(&f.Type)
}

// ZeroValue returns the zero value of a single element of type t.
func ZeroValue(t *schema.FieldType) any {
	switch t.Kind {
	case schema.KindEnum:
		if t.Enum != nil {
			return t.Enum.Default()
		}
		return int32(0)
	case schema.KindMessage, schema.KindMap:
		return nil
	}
	switch t.PrimitiveType {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		return int32(0)
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		return int64(0)
	case schema.TypeUint32, schema.TypeFixed32:
		return uint32(0)
	case schema.TypeUint64, schema.TypeFixed64:
		return uint64(0)
	case schema.TypeFloat:
		return float32(0)
	case schema.TypeDouble:
		return float64(0)
	case schema.TypeBool:
		return false
	case schema.TypeString:
		return ""
	case schema.TypeBytes:
		return []byte{}
	}
	return nil
}

// parseDefault interprets a proto2 `default = ...` literal.
func parseDefault(t *schema.FieldType, lit string) (any, bool) {
	if t.Kind == schema.KindEnum {
		if t.Enum == nil {
			return nil, false
		}
		if ev := t.Enum.ValueByName(lit); ev != nil {
			return ev.Number, true
		}
		return nil, false
	}
	switch t.PrimitiveType {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		v, err := strconv.ParseInt(lit, 0, 32)
		return int32(v), err == nil
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		v, err := strconv.ParseInt(lit, 0, 64)
		return v, err == nil
	case schema.TypeUint32, schema.TypeFixed32:
		v, err := strconv.ParseUint(lit, 0, 32)
		return uint32(v), err == nil
	case schema.TypeUint64, schema.TypeFixed64:
		v, err := strconv.ParseUint(lit, 0, 64)
		return v, err == nil
	case schema.TypeFloat:
		v, err := parseFloatLiteral(lit, 32)
		return float32(v), err == nil
	case schema.TypeDouble:
		v, err := parseFloatLiteral(lit, 64)
		return v, err == nil
	case schema.TypeBool:
		v, err := strconv.ParseBool(lit)
		return v, err == nil
	case schema.TypeString:
		return lit, true
	case schema.TypeBytes:
		return []byte(lit), true
	}
	return nil, false
}

func parseFloatLiteral(lit string, bits int) (float64, error) {
	switch strings.ToLower(lit) {
	case "inf", "+inf", "infinity":
		return math.Inf(1), nil
	case "-inf", "-infinity":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(lit, bits)
}
