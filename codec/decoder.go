// Package codec encodes and decodes protobuf binary messages driven by a
// resolved schema.
package codec

import (
	"fmt"

	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// DefaultRecursionLimit bounds message nesting when no limit is configured.
const DefaultRecursionLimit = 100

// UnmarshalOptions configures decoding. The zero value is ready to use.
type UnmarshalOptions struct {
	// PreserveUnknown keeps the raw bytes of unknown fields on the message so
	// that Marshal writes them back. Otherwise they are skipped.
	PreserveUnknown bool

	// StrictWireType rejects known fields that arrive with a wire type their
	// kind cannot use. Otherwise such fields are treated as unknown.
	StrictWireType bool

	// RecursionLimit is the deepest message nesting accepted.
	// Zero means DefaultRecursionLimit.
	RecursionLimit int
}

// Unmarshal decodes data as one message of type md.
func Unmarshal(data []byte, md *schema.Message) (*dynamic.Message, error) {
	return UnmarshalOptions{}.Unmarshal(data, md)
}

// Unmarshal decodes data as one message of type md.
func (o UnmarshalOptions) Unmarshal(data []byte, md *schema.Message) (*dynamic.Message, error) {
	return o.Decode(wire.NewReader(data), md, -1)
}

// Decode reads one message of type md from r. A negative length reads to the
// reader's limit; otherwise length is the size the caller already took from a
// length prefix.
func (o UnmarshalOptions) Decode(r *wire.Reader, md *schema.Message, length int) (*dynamic.Message, error) {
	end := r.Limit()
	if length >= 0 {
		if length > r.Remaining() {
			return nil, fmt.Errorf("%w: message length %d exceeds %d remaining bytes", wire.ErrTruncatedMessage, length, r.Remaining())
		}
		end = r.Pos() + length
	}
	m := dynamic.New(md)
	if err := o.Merge(r, m, end); err != nil {
		return nil, err
	}
	return m, nil
}

// Merge decodes fields from r into m until the reader reaches end. Fields
// already present are overwritten, appended to or merged, as the wire format
// prescribes for repeated occurrences.
func (o UnmarshalOptions) Merge(r *wire.Reader, m *dynamic.Message, end int) error {
	d := decoder{UnmarshalOptions: o}
	if d.RecursionLimit <= 0 {
		d.RecursionLimit = DefaultRecursionLimit
	}
	return d.message(r, m, end, 0)
}

type decoder struct {
	UnmarshalOptions
}

// message decodes the fields of m in place on r. Nested messages share the
// reader and are bounded by end, so a field that runs past its enclosing
// frame is detected without copying the frame.
func (d *decoder) message(r *wire.Reader, m *dynamic.Message, end, depth int) error {
	if depth > d.RecursionLimit {
		return fmt.Errorf("%w: depth %d in %s", wire.ErrRecursionLimit, depth, m.Descriptor().Name)
	}
	md := m.Descriptor()

	for r.Pos() < end {
		start := r.Pos()
		num, wt, err := r.ReadTag()
		if err != nil {
			return err
		}

		field := md.FieldByNumber(int32(num))
		switch {
		case field == nil:
			err = d.unknown(r, m, wt, start)
		case !acceptsWireType(field, wt):
			if d.StrictWireType {
				return wire.WrapDecodeField(fmt.Errorf("%w: %s for %s field", wire.ErrWireTypeMismatch, wt, field.Type.TypeName()), field.Name)
			}
			err = d.unknown(r, m, wt, start)
		default:
			err = wire.WrapDecodeField(d.field(r, m, field, wt, depth), field.Name)
		}
		if err != nil {
			return err
		}

		if r.Pos() > end {
			name := fmt.Sprintf("%d", num)
			if field != nil {
				name = field.Name
			}
			return wire.WrapDecodeField(fmt.Errorf("%w: field ends at offset %d, message at %d", wire.ErrFrameOverrun, r.Pos(), end), name)
		}
	}
	return nil
}

// unknown skips a field the schema does not describe, keeping its bytes when
// PreserveUnknown is set.
func (d *decoder) unknown(r *wire.Reader, m *dynamic.Message, wt wire.WireType, start int) error {
	if err := r.Skip(wt); err != nil {
		return err
	}
	if d.PreserveUnknown {
		m.AppendUnknown(r.Span(start))
	}
	return nil
}

func (d *decoder) field(r *wire.Reader, m *dynamic.Message, f *schema.Field, wt wire.WireType, depth int) error {
	switch {
	case f.IsMap():
		return d.mapEntry(r, m, f, depth)
	case f.IsRepeated():
		if wt == wire.WireBytes && f.IsPackable() {
			return d.packed(r, m, f)
		}
		v, err := d.value(r, &f.Type, nil, depth)
		if err != nil {
			return err
		}
		return m.AppendField(f, v)
	}

	// A repeated occurrence of a singular message merges into the first.
	var existing *dynamic.Message
	if f.Type.Kind == schema.KindMessage {
		if prev, ok := m.Lookup(f.Number); ok {
			existing, _ = prev.(*dynamic.Message)
		}
	}
	v, err := d.value(r, &f.Type, existing, depth)
	if err != nil {
		return err
	}
	m.SetField(f, v)
	return nil
}

// packed reads a length-delimited run of scalars, preserving their order.
func (d *decoder) packed(r *wire.Reader, m *dynamic.Message, f *schema.Field) error {
	n, err := r.ReadLength()
	if err != nil {
		return err
	}
	end := r.Pos() + n
	for r.Pos() < end {
		v, err := readScalar(r, &f.Type)
		if err != nil {
			return err
		}
		if err := m.AppendField(f, v); err != nil {
			return err
		}
	}
	if r.Pos() != end {
		return fmt.Errorf("%w: packed element ends at offset %d, run at %d", wire.ErrFrameOverrun, r.Pos(), end)
	}
	return nil
}

// value reads a single element of type t whose tag has been consumed.
// Messages decode into into when it is non-nil.
func (d *decoder) value(r *wire.Reader, t *schema.FieldType, into *dynamic.Message, depth int) (any, error) {
	if t.Kind != schema.KindMessage {
		return readScalar(r, t)
	}
	if t.Message == nil {
		// No schema for the type: hand back the encoded message.
		return r.ReadBytes()
	}
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	if into == nil {
		into = dynamic.New(t.Message)
	}
	if err := d.message(r, into, r.Pos()+n, depth+1); err != nil {
		return nil, err
	}
	return into, nil
}

// readScalar reads one scalar or enum value in its natural wire type.
func readScalar(r *wire.Reader, t *schema.FieldType) (any, error) {
	if t.Kind == schema.KindEnum {
		v, err := r.ReadVarint()
		return int32(v), err
	}

	switch t.PrimitiveType {
	case schema.TypeInt32:
		return r.ReadInt32()
	case schema.TypeInt64:
		return r.ReadInt64()
	case schema.TypeUint32:
		v, err := r.ReadVarint()
		return uint32(v), err
	case schema.TypeUint64:
		return r.ReadVarint()
	case schema.TypeSint32:
		return r.ReadSint32()
	case schema.TypeSint64:
		return r.ReadSint64()
	case schema.TypeBool:
		return r.ReadBool()
	case schema.TypeFixed32:
		return r.ReadFixed32()
	case schema.TypeSfixed32:
		v, err := r.ReadFixed32()
		return int32(v), err
	case schema.TypeFloat:
		return r.ReadFloat()
	case schema.TypeFixed64:
		return r.ReadFixed64()
	case schema.TypeSfixed64:
		v, err := r.ReadFixed64()
		return int64(v), err
	case schema.TypeDouble:
		return r.ReadDouble()
	case schema.TypeString:
		return r.ReadString()
	case schema.TypeBytes:
		return r.ReadBytes()
	default:
		return nil, fmt.Errorf("%w: unsupported primitive type %q", wire.ErrTypeMismatch, t.PrimitiveType)
	}
}

// acceptsWireType reports whether wt can carry a value of field f.
func acceptsWireType(f *schema.Field, wt wire.WireType) bool {
	if f.IsMap() {
		return wt == wire.WireBytes
	}
	natural := f.Type.WireType()
	if wt == natural {
		return true
	}
	return wt == wire.WireBytes && f.IsPackable()
}
