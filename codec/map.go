package codec

import (
	"fmt"

	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// Map fields travel as repeated entry messages with the key in field 1 and
// the value in field 2.
const (
	mapKeyNumber   wire.FieldNumber = 1
	mapValueNumber wire.FieldNumber = 2
)

// DECODER METHODS

// mapEntry decodes one entry and stores it in the map field. A missing key or
// value takes its type's default; a repeated key overwrites the earlier one.
func (d *decoder) mapEntry(r *wire.Reader, m *dynamic.Message, f *schema.Field, depth int) error {
	n, err := r.ReadLength()
	if err != nil {
		return err
	}
	end := r.Pos() + n
	keyType, valueType := f.Type.MapKey, f.Type.MapValue

	var key, value any
	for r.Pos() < end {
		num, wt, err := r.ReadTag()
		if err != nil {
			return err
		}
		switch {
		case num == mapKeyNumber && wt == keyType.WireType():
			if key, err = readScalar(r, keyType); err != nil {
				return fmt.Errorf("failed to decode map key: %w", err)
			}
		case num == mapValueNumber && wt == valueType.WireType():
			var into *dynamic.Message
			if prev, ok := value.(*dynamic.Message); ok {
				into = prev
			}
			if value, err = d.value(r, valueType, into, depth); err != nil {
				return fmt.Errorf("failed to decode map value: %w", err)
			}
		default:
			// Skip unknown fields
			if err := r.Skip(wt); err != nil {
				return err
			}
		}
	}
	if r.Pos() != end {
		return fmt.Errorf("%w: map entry ends at offset %d, expected %d", wire.ErrFrameOverrun, r.Pos(), end)
	}

	if key == nil {
		key = dynamic.ZeroValue(keyType)
	}
	if value == nil {
		if valueType.Kind == schema.KindMessage && valueType.Message != nil {
			value = dynamic.New(valueType.Message)
		} else if valueType.Kind == schema.KindMessage {
			value = []byte{}
		} else {
			value = dynamic.ZeroValue(valueType)
		}
	}
	return m.PutMapEntryField(f, key, value)
}

// ENCODER METHODS

// mapField writes one entry per key, in ascending key order so that equal
// maps encode to equal bytes. Both key and value are always written.
func (e *encoder) mapField(w *wire.Writer, f *schema.Field, v any, depth int) error {
	mp, ok := v.(map[any]any)
	if !ok {
		return fmt.Errorf("%w: map field value must be map[any]any, got %T", wire.ErrTypeMismatch, v)
	}
	keyType, valueType := f.Type.MapKey, f.Type.MapValue

	for _, key := range dynamic.SortedMapKeys(mp) {
		w.WriteTag(wire.FieldNumber(f.Number), wire.WireBytes)
		w.Fork()

		w.WriteTag(mapKeyNumber, keyType.WireType())
		if err := writeScalar(w, keyType, key); err != nil {
			return fmt.Errorf("key %v: %w", key, err)
		}

		mv := mp[key]
		if mv == nil && valueType.Kind == schema.KindMessage {
			mv = []byte{}
		}
		w.WriteTag(mapValueNumber, valueType.WireType())
		if err := e.value(w, valueType, mv, depth); err != nil {
			return wire.WrapEncodeField(err, fmt.Sprint(key))
		}

		if err := w.Join(); err != nil {
			return err
		}
	}
	return nil
}
