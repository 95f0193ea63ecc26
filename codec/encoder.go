package codec

import (
	"fmt"

	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// Packing selects how repeated scalar fields are written.
type Packing int

const (
	// PackingAuto follows the field's [packed] option, then the syntax
	// default: packed for proto3 and editions, unpacked for proto2.
	PackingAuto Packing = iota
	PackingAlways
	PackingNever
)

var packingNames = map[Packing]string{
	PackingAuto:   "auto",
	PackingAlways: "always",
	PackingNever:  "never",
}

// String returns the configuration name of p.
func (p Packing) String() string {
	if s, ok := packingNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Packing(%d)", int(p))
}

// ParsePacking parses "auto", "always" or "never".
func ParsePacking(s string) (Packing, error) {
	for p, name := range packingNames {
		if name == s {
			return p, nil
		}
	}
	return PackingAuto, fmt.Errorf("unknown packing %q (want auto, always or never)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Packing) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Packing) UnmarshalText(text []byte) error {
	v, err := ParsePacking(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalOptions configures encoding. The zero value is ready to use.
type MarshalOptions struct {
	Packing Packing

	// RecursionLimit is the deepest message nesting written.
	// Zero means DefaultRecursionLimit.
	RecursionLimit int
}

// Marshal encodes m with default options.
func Marshal(m *dynamic.Message) ([]byte, error) {
	return MarshalOptions{}.Marshal(m)
}

// Marshal encodes m.
func (o MarshalOptions) Marshal(m *dynamic.Message) ([]byte, error) {
	w := wire.NewWriter()
	if err := o.Encode(m, w); err != nil {
		return nil, err
	}
	return w.Finish()
}

// Encode appends the fields of m to w. On error w holds a partial message.
func (o MarshalOptions) Encode(m *dynamic.Message, w *wire.Writer) error {
	e := encoder{MarshalOptions: o}
	if e.RecursionLimit <= 0 {
		e.RecursionLimit = DefaultRecursionLimit
	}
	return e.message(w, m, 0)
}

type encoder struct {
	MarshalOptions
}

// message writes populated fields in declaration order, then any preserved
// unknown bytes.
func (e *encoder) message(w *wire.Writer, m *dynamic.Message, depth int) error {
	if depth > e.RecursionLimit {
		return fmt.Errorf("%w: depth %d in %s", wire.ErrRecursionLimit, depth, m.Descriptor().Name)
	}
	syntax := m.Descriptor().Syntax

	var err error
	m.Range(func(f *schema.Field, v any) bool {
		err = wire.WrapEncodeField(e.field(w, f, v, syntax, depth), f.Name)
		return err == nil
	})
	if err != nil {
		return err
	}
	w.WriteRaw(m.Unknown())
	return nil
}

func (e *encoder) field(w *wire.Writer, f *schema.Field, v any, syntax string, depth int) error {
	switch {
	case f.IsMap():
		return e.mapField(w, f, v, depth)
	case f.IsRepeated():
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: repeated field value must be []any, got %T", wire.ErrTypeMismatch, v)
		}
		if e.packed(f, syntax) {
			w.WriteTag(wire.FieldNumber(f.Number), wire.WireBytes)
			w.Fork()
			for i, elem := range list {
				if err := writeScalar(w, &f.Type, elem); err != nil {
					return wire.WrapEncodeField(err, fmt.Sprint(i))
				}
			}
			return w.Join()
		}
		wt := f.Type.WireType()
		for i, elem := range list {
			w.WriteTag(wire.FieldNumber(f.Number), wt)
			if err := e.value(w, &f.Type, elem, depth); err != nil {
				return wire.WrapEncodeField(err, fmt.Sprint(i))
			}
		}
		return nil
	}
	w.WriteTag(wire.FieldNumber(f.Number), f.Type.WireType())
	return e.value(w, &f.Type, v, depth)
}

func (e *encoder) packed(f *schema.Field, syntax string) bool {
	if !f.IsPackable() {
		return false
	}
	switch e.Packing {
	case PackingAlways:
		return true
	case PackingNever:
		return false
	}
	return f.IsPacked(syntax)
}

// value writes one element whose tag has been written.
func (e *encoder) value(w *wire.Writer, t *schema.FieldType, v any, depth int) error {
	if t.Kind != schema.KindMessage {
		return writeScalar(w, t, v)
	}
	switch sub := v.(type) {
	case *dynamic.Message:
		if t.Message != nil && sub.Descriptor() != t.Message && sub.Descriptor().FullName != t.Message.FullName {
			return fmt.Errorf("%w: expected %s, got %s", wire.ErrTypeMismatch, t.MessageType, sub.Descriptor().FullName)
		}
		w.Fork()
		if err := e.message(w, sub, depth+1); err != nil {
			return err
		}
		return w.Join()
	case []byte:
		// Already encoded, typically a message of an unresolved type.
		w.WriteBytes(sub)
		return nil
	}
	return fmt.Errorf("%w: message value must be *dynamic.Message or []byte, got %T", wire.ErrTypeMismatch, v)
}

// writeScalar writes one scalar or enum value in its natural wire type.
func writeScalar(w *wire.Writer, t *schema.FieldType, v any) error {
	if t.Kind == schema.KindEnum {
		n, ok := v.(int32)
		if !ok {
			return fmt.Errorf("%w: enum value must be int32, got %T", wire.ErrTypeMismatch, v)
		}
		w.WriteInt32(n)
		return nil
	}

	ok := true
	switch t.PrimitiveType {
	case schema.TypeInt32:
		var n int32
		if n, ok = v.(int32); ok {
			w.WriteInt32(n)
		}
	case schema.TypeInt64:
		var n int64
		if n, ok = v.(int64); ok {
			w.WriteInt64(n)
		}
	case schema.TypeUint32:
		var n uint32
		if n, ok = v.(uint32); ok {
			w.WriteUint32(n)
		}
	case schema.TypeUint64:
		var n uint64
		if n, ok = v.(uint64); ok {
			w.WriteVarint(n)
		}
	case schema.TypeSint32:
		var n int32
		if n, ok = v.(int32); ok {
			w.WriteSint32(n)
		}
	case schema.TypeSint64:
		var n int64
		if n, ok = v.(int64); ok {
			w.WriteSint64(n)
		}
	case schema.TypeBool:
		var b bool
		if b, ok = v.(bool); ok {
			w.WriteBool(b)
		}
	case schema.TypeFixed32:
		var n uint32
		if n, ok = v.(uint32); ok {
			w.WriteFixed32(n)
		}
	case schema.TypeSfixed32:
		var n int32
		if n, ok = v.(int32); ok {
			w.WriteFixed32(uint32(n))
		}
	case schema.TypeFloat:
		var f float32
		if f, ok = v.(float32); ok {
			w.WriteFloat(f)
		}
	case schema.TypeFixed64:
		var n uint64
		if n, ok = v.(uint64); ok {
			w.WriteFixed64(n)
		}
	case schema.TypeSfixed64:
		var n int64
		if n, ok = v.(int64); ok {
			w.WriteFixed64(uint64(n))
		}
	case schema.TypeDouble:
		var f float64
		if f, ok = v.(float64); ok {
			w.WriteDouble(f)
		}
	case schema.TypeString:
		var s string
		if s, ok = v.(string); ok {
			w.WriteString(s)
		}
	case schema.TypeBytes:
		var b []byte
		if b, ok = v.([]byte); ok {
			w.WriteBytes(b)
		}
	default:
		return fmt.Errorf("%w: unsupported primitive type %q", wire.ErrTypeMismatch, t.PrimitiveType)
	}
	if !ok {
		return fmt.Errorf("%w: %s field value must be %s, got %T", wire.ErrTypeMismatch, t.PrimitiveType, goType(t.PrimitiveType), v)
	}
	return nil
}

func goType(t schema.PrimitiveType) string {
	if z := dynamic.ZeroValue(&schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: t}); z != nil {
		return fmt.Sprintf("%T", z)
	}
	return "unknown"
}
