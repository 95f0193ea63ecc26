package schema

import (
	"errors"
	"fmt"

	"github.com/anirudhraja/protocodec/wire"
)

// ErrInvalidSchema is wrapped by every Validate failure.
var ErrInvalidSchema = errors.New("invalid schema")

// Validate checks the structural rules the codec relies on for msg and all of
// its nested messages.
func Validate(msg *Message) error {
	return validate(msg, msg.Name)
}

func validate(msg *Message, path string) error {
	numbers := make(map[int32]string, len(msg.Fields))
	names := make(map[string]struct{}, len(msg.Fields))

	for _, f := range msg.Fields {
		n := wire.FieldNumber(f.Number)
		if !n.Valid() {
			return fmt.Errorf("%w: %s.%s: field number %d out of range", ErrInvalidSchema, path, f.Name, f.Number)
		}
		if n >= wire.FirstReservedNumber && n <= wire.LastReservedNumber {
			return fmt.Errorf("%w: %s.%s: field number %d is reserved", ErrInvalidSchema, path, f.Name, f.Number)
		}
		if prev, dup := numbers[f.Number]; dup {
			return fmt.Errorf("%w: %s: fields %s and %s share number %d", ErrInvalidSchema, path, prev, f.Name, f.Number)
		}
		numbers[f.Number] = f.Name
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field name %s", ErrInvalidSchema, path, f.Name)
		}
		names[f.Name] = struct{}{}

		if err := validateType(&f.Type, fmt.Sprintf("%s.%s", path, f.Name)); err != nil {
			return err
		}
		if f.Type.Kind == KindMap && f.Oneof != "" {
			return fmt.Errorf("%w: %s.%s: map fields cannot be oneof members", ErrInvalidSchema, path, f.Name)
		}
		if f.Label == LabelRepeated && f.Oneof != "" {
			return fmt.Errorf("%w: %s.%s: repeated fields cannot be oneof members", ErrInvalidSchema, path, f.Name)
		}
	}

	for _, nested := range msg.NestedTypes {
		if err := validate(nested, path+"."+nested.Name); err != nil {
			return err
		}
	}
	return nil
}

func validateType(t *FieldType, path string) error {
	switch t.Kind {
	case KindPrimitive:
		if !IsPrimitiveType(string(t.PrimitiveType)) {
			return fmt.Errorf("%w: %s: unknown scalar type %q", ErrInvalidSchema, path, t.PrimitiveType)
		}
	case KindMessage:
		if t.MessageType == "" && t.Message == nil {
			return fmt.Errorf("%w: %s: message field without a type name", ErrInvalidSchema, path)
		}
	case KindEnum:
		if t.EnumType == "" && t.Enum == nil {
			return fmt.Errorf("%w: %s: enum field without a type name", ErrInvalidSchema, path)
		}
	case KindMap:
		if t.MapKey == nil || t.MapValue == nil {
			return fmt.Errorf("%w: %s: map field without key or value type", ErrInvalidSchema, path)
		}
		if t.MapKey.Kind != KindPrimitive || !IsValidMapKey(t.MapKey.PrimitiveType) {
			return fmt.Errorf("%w: %s: invalid map key type %s", ErrInvalidSchema, path, t.MapKey.TypeName())
		}
		if t.MapValue.Kind == KindMap {
			return fmt.Errorf("%w: %s: map values cannot be maps", ErrInvalidSchema, path)
		}
		return validateType(t.MapValue, path+".value")
	default:
		return fmt.Errorf("%w: %s: unknown type kind %q", ErrInvalidSchema, path, t.Kind)
	}
	return nil
}
