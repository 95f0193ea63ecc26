package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// stage is a copy of the registry's tables that a load writes into. It only
// replaces the registry's tables once every file has linked.
type stage struct {
	r        *Registry
	files    map[string]*schema.ProtoFile
	messages map[string]*schema.Message
	enums    map[string]*schema.Enum
	services map[string]*schema.Service
	symbols  map[string]struct{} // messages and enums, for type resolution
}

func (r *Registry) newStage() *stage {
	st := &stage{
		r:        r,
		files:    make(map[string]*schema.ProtoFile, len(r.repo.ProtoFiles)),
		messages: make(map[string]*schema.Message, len(r.messages)),
		enums:    make(map[string]*schema.Enum, len(r.enums)),
		services: make(map[string]*schema.Service, len(r.services)),
		symbols:  make(map[string]struct{}, len(r.messages)+len(r.enums)),
	}
	for k, v := range r.repo.ProtoFiles {
		st.files[k] = v
	}
	for k, v := range r.messages {
		st.messages[k] = v
		st.symbols[k] = struct{}{}
	}
	for k, v := range r.enums {
		st.enums[k] = v
		st.symbols[k] = struct{}{}
	}
	for k, v := range r.services {
		st.services[k] = v
	}
	return st
}

// register records every message, enum and service name that f defines.
func (st *stage) register(f *schema.ProtoFile) error {
	st.files[f.Name] = f
	pkg := f.Package
	for _, msg := range f.Messages {
		if err := st.registerMessage(pkg, msg.Name, msg, f.Syntax); err != nil {
			return err
		}
	}
	for _, enum := range f.Enums {
		if err := st.registerEnum(st.r.getFullName(pkg, enum.Name), enum); err != nil {
			return err
		}
	}
	for _, service := range f.Services {
		fullName := st.r.getFullName(pkg, service.Name)
		if _, dup := st.services[fullName]; dup {
			return fmt.Errorf("%w: service %s", ErrDuplicateSymbol, fullName)
		}
		service.FullName = fullName
		st.services[fullName] = service
	}
	return nil
}

// registerMessage registers msg and, recursively, its nested messages and
// enums. Messages inherit the file syntax.
func (st *stage) registerMessage(pkg, scopedName string, msg *schema.Message, syntax string) error {
	fullName := st.r.getFullName(pkg, scopedName)
	if _, dup := st.symbols[fullName]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, fullName)
	}
	msg.FullName = fullName
	if msg.Syntax == "" {
		msg.Syntax = syntax
	}
	st.messages[fullName] = msg
	st.symbols[fullName] = struct{}{}

	for _, nestedMsg := range msg.NestedTypes {
		if err := st.registerMessage(pkg, scopedName+"."+nestedMsg.Name, nestedMsg, msg.Syntax); err != nil {
			return err
		}
	}
	for _, nestedEnum := range msg.NestedEnums {
		if err := st.registerEnum(fullName+"."+nestedEnum.Name, nestedEnum); err != nil {
			return err
		}
	}
	return nil
}

func (st *stage) registerEnum(fullName string, enum *schema.Enum) error {
	if _, dup := st.symbols[fullName]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, fullName)
	}
	enum.FullName = fullName
	st.enums[fullName] = enum
	st.symbols[fullName] = struct{}{}
	return nil
}

// link resolves the type references of f and checks its messages.
func (st *stage) link(f *schema.ProtoFile) error {
	for _, msg := range f.Messages {
		if err := st.linkMessage(msg); err != nil {
			return err
		}
		if err := schema.Validate(msg); err != nil {
			return err
		}
	}
	for _, service := range f.Services {
		scope := st.r.getFullName(f.Package, service.Name)
		for _, m := range service.Methods {
			in, err := st.resolveService(m.InputType, scope)
			if err != nil {
				return fmt.Errorf("%s.%s input: %w", service.FullName, m.Name, err)
			}
			out, err := st.resolveService(m.OutputType, scope)
			if err != nil {
				return fmt.Errorf("%s.%s output: %w", service.FullName, m.Name, err)
			}
			m.InputType, m.OutputType = in, out
		}
	}
	return nil
}

func (st *stage) resolveService(typeName, scope string) (string, error) {
	name, err := resolveName(typeName, scope, st.symbols)
	if err != nil {
		if st.r.allowUnresolved {
			return typeName, nil
		}
		return "", fmt.Errorf("%w: %v", wire.ErrUnresolvedReference, err)
	}
	return name, nil
}

func (st *stage) linkMessage(msg *schema.Message) error {
	for _, field := range msg.Fields {
		if field.JsonName == "" {
			field.JsonName = dynamic.JSONName(field.Name)
		}
		if err := st.linkType(&field.Type, msg.FullName); err != nil {
			return fmt.Errorf("%s.%s: %w", msg.FullName, field.Name, err)
		}
	}
	for _, nested := range msg.NestedTypes {
		if err := st.linkMessage(nested); err != nil {
			return err
		}
	}
	return nil
}

// linkType points t at the message or enum its name refers to, looked up from
// the innermost scope outwards.
func (st *stage) linkType(t *schema.FieldType, scope string) error {
	switch t.Kind {
	case schema.KindMap:
		if t.MapValue == nil {
			return nil
		}
		return st.linkType(t.MapValue, scope)
	case schema.KindMessage, schema.KindEnum:
	default:
		return nil
	}
	if t.Message != nil || t.Enum != nil {
		return nil
	}

	typeName := t.MessageType
	if t.Kind == schema.KindEnum {
		typeName = t.EnumType
	}
	fullName, err := resolveName(typeName, scope, st.symbols)
	if err != nil {
		if st.r.allowUnresolved {
			st.r.logger.Warn("unresolved type reference, field kept as raw bytes",
				zap.String("type", typeName), zap.String("scope", scope))
			t.Kind, t.MessageType, t.EnumType = schema.KindMessage, typeName, ""
			return nil
		}
		return fmt.Errorf("%w: %v", wire.ErrUnresolvedReference, err)
	}

	if msg, ok := st.messages[fullName]; ok {
		t.Kind, t.MessageType, t.EnumType, t.Message = schema.KindMessage, fullName, "", msg
		return nil
	}
	t.Kind, t.MessageType, t.EnumType, t.Enum = schema.KindEnum, "", fullName, st.enums[fullName]
	return nil
}
