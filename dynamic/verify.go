package dynamic

import (
	"fmt"

	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// Verify checks that every populated field of m holds a value of the
// representation its kind requires, recursively. It is never called by the
// codec; use it before Marshal to get errors naming the offending field.
// Enum numbers that the enum does not declare are reported too, although the
// codec will encode them.
func Verify(m *Message) error {
	var err error
	m.Range(func(f *schema.Field, v any) bool {
		err = wire.WrapEncodeField(verifyField(f, v), f.Name)
		return err == nil
	})
	return err
}

func verifyField(f *schema.Field, v any) error {
	switch {
	case f.IsMap():
		mp, ok := v.(map[any]any)
		if !ok {
			return fmt.Errorf("%w: map field holds %T, want map[any]any", wire.ErrTypeMismatch, v)
		}
		keyType := f.Type.MapKey
		for k, mv := range mp {
			if err := verifyElem(keyType, k); err != nil {
				return fmt.Errorf("key %v: %w", k, err)
			}
			if err := verifyElem(f.Type.MapValue, mv); err != nil {
				return wire.WrapEncodeField(err, fmt.Sprint(k))
			}
		}
		return nil
	case f.IsRepeated():
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: repeated field holds %T, want []any", wire.ErrTypeMismatch, v)
		}
		for i, e := range list {
			if err := verifyElem(&f.Type, e); err != nil {
				return wire.WrapEncodeField(err, fmt.Sprint(i))
			}
		}
		return nil
	}
	return verifyElem(&f.Type, v)
}

func verifyElem(t *schema.FieldType, v any) error {
	switch t.Kind {
	case schema.KindMessage:
		switch sub := v.(type) {
		case *Message:
			if t.Message != nil && sub.desc != t.Message && sub.name() != t.Message.FullName {
				return fmt.Errorf("%w: holds %s, want %s", wire.ErrTypeMismatch, sub.name(), t.MessageType)
			}
			return Verify(sub)
		case []byte:
			if t.Message == nil {
				return nil
			}
		}
		return fmt.Errorf("%w: holds %T, want *dynamic.Message of %s", wire.ErrTypeMismatch, v, t.MessageType)
	case schema.KindEnum:
		n, ok := v.(int32)
		if !ok {
			return fmt.Errorf("%w: enum holds %T, want int32", wire.ErrTypeMismatch, v)
		}
		if t.Enum != nil && t.Enum.ValueByNumber(n) == nil {
			return fmt.Errorf("%w: %d is not a value of %s", wire.ErrTypeMismatch, n, t.EnumType)
		}
		return nil
	}

	ok := false
	switch t.PrimitiveType {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		_, ok = v.(int32)
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		_, ok = v.(int64)
	case schema.TypeUint32, schema.TypeFixed32:
		_, ok = v.(uint32)
	case schema.TypeUint64, schema.TypeFixed64:
		_, ok = v.(uint64)
	case schema.TypeFloat:
		_, ok = v.(float32)
	case schema.TypeDouble:
		_, ok = v.(float64)
	case schema.TypeBool:
		_, ok = v.(bool)
	case schema.TypeString:
		_, ok = v.(string)
	case schema.TypeBytes:
		_, ok = v.([]byte)
	}
	if !ok {
		return fmt.Errorf("%w: %s field holds %T", wire.ErrTypeMismatch, t.PrimitiveType, v)
	}
	return nil
}
