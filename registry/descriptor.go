package registry

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/anirudhraja/protocodec/schema"
)

// wellKnownFiles are the google.protobuf files LoadWellKnown registers.
var wellKnownFiles = []protoreflect.FileDescriptor{
	descriptorpb.File_google_protobuf_descriptor_proto,
	anypb.File_google_protobuf_any_proto,
	durationpb.File_google_protobuf_duration_proto,
	timestamppb.File_google_protobuf_timestamp_proto,
	wrapperspb.File_google_protobuf_wrappers_proto,
	structpb.File_google_protobuf_struct_proto,
	emptypb.File_google_protobuf_empty_proto,
	fieldmaskpb.File_google_protobuf_field_mask_proto,
}

// LoadWellKnown registers the google.protobuf well-known types.
func (r *Registry) LoadWellKnown() error {
	set := &descriptorpb.FileDescriptorSet{}
	for _, fd := range wellKnownFiles {
		set.File = append(set.File, protodesc.ToFileDescriptorProto(fd))
	}
	return r.LoadFileDescriptorSet(set)
}

// builtinFile returns the descriptor of a google/protobuf file linked into
// the binary.
func builtinFile(path string) (*descriptorpb.FileDescriptorProto, bool) {
	fd, err := protoregistry.GlobalFiles.FindFileByPath(path)
	if err != nil {
		return nil, false
	}
	return protodesc.ToFileDescriptorProto(fd), true
}

// LoadFileDescriptorProto registers one compiled file. Its dependencies must
// already be loaded, except well-known files which are added as needed.
func (r *Registry) LoadFileDescriptorProto(fdp *descriptorpb.FileDescriptorProto) error {
	return r.LoadFileDescriptorSet(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fdp}})
}

// LoadFileDescriptorSetBytes registers the files of a serialized
// FileDescriptorSet, as written by protoc --descriptor_set_out or buf build.
func (r *Registry) LoadFileDescriptorSetBytes(data []byte) error {
	set := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(data, set); err != nil {
		return fmt.Errorf("failed to unmarshal descriptor set: %w", err)
	}
	return r.LoadFileDescriptorSet(set)
}

// LoadFileDescriptorSet registers every file of set.
func (r *Registry) LoadFileDescriptorSet(set *descriptorpb.FileDescriptorSet) error {
	inSet := make(map[string]struct{}, len(set.GetFile()))
	for _, fdp := range set.GetFile() {
		inSet[fdp.GetName()] = struct{}{}
	}

	var files []*schema.ProtoFile
	visited := make(map[string]struct{})
	for _, fdp := range set.GetFile() {
		for _, dep := range fdp.GetDependency() {
			if _, ok := inSet[dep]; ok || !strings.HasPrefix(dep, wellKnownPrefix) {
				continue
			}
			if err := r.addWellKnown(dep, visited, &files); err != nil {
				return err
			}
		}
	}
	for _, fdp := range set.GetFile() {
		f, err := r.fromFileDescriptor(fdp)
		if err != nil {
			return err
		}
		files = append(files, f)
	}
	return r.commit(files)
}

// fromFileDescriptor converts a compiled file. Synthesized map entry messages
// become map fields and are not registered themselves.
func (r *Registry) fromFileDescriptor(fdp *descriptorpb.FileDescriptorProto) (*schema.ProtoFile, error) {
	f := &schema.ProtoFile{
		Name:    fdp.GetName(),
		Package: fdp.GetPackage(),
		Syntax:  fdp.GetSyntax(),
	}
	if f.Syntax == "" {
		f.Syntax = schema.SyntaxProto2
	}
	public := make(map[int32]bool)
	for _, i := range fdp.GetPublicDependency() {
		public[i] = true
	}
	weak := make(map[int32]bool)
	for _, i := range fdp.GetWeakDependency() {
		weak[i] = true
	}
	for i, dep := range fdp.GetDependency() {
		f.Imports = append(f.Imports, &schema.Import{Path: dep, Public: public[int32(i)], Weak: weak[int32(i)]})
	}

	scope := ""
	if f.Package != "" {
		scope = "." + f.Package
	}
	for _, dp := range fdp.GetMessageType() {
		msg, err := r.fromDescriptor(dp, scope, f.Syntax)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		f.Messages = append(f.Messages, msg)
	}
	for _, ep := range fdp.GetEnumType() {
		f.Enums = append(f.Enums, fromEnumDescriptor(ep))
	}
	for _, sp := range fdp.GetService() {
		service := &schema.Service{Name: sp.GetName()}
		for _, mp := range sp.GetMethod() {
			service.Methods = append(service.Methods, &schema.Method{
				Name:            mp.GetName(),
				InputType:       mp.GetInputType(),
				OutputType:      mp.GetOutputType(),
				ClientStreaming: mp.GetClientStreaming(),
				ServerStreaming: mp.GetServerStreaming(),
			})
		}
		f.Services = append(f.Services, service)
	}
	if n := len(fdp.GetExtension()); n > 0 {
		r.logger.Warn("extensions skipped, their fields decode as unknown",
			zap.String("file", f.Name), zap.Int("extensions", n))
	}
	return f, nil
}

// fromDescriptor converts a message declared in scope, a leading-dot name.
func (r *Registry) fromDescriptor(dp *descriptorpb.DescriptorProto, scope, syntax string) (*schema.Message, error) {
	fullName := scope + "." + dp.GetName()
	msg := &schema.Message{Name: dp.GetName(), Syntax: syntax, MapEntry: dp.GetOptions().GetMapEntry()}

	entries := make(map[string]*descriptorpb.DescriptorProto)
	for _, nested := range dp.GetNestedType() {
		if nested.GetOptions().GetMapEntry() {
			entries[fullName+"."+nested.GetName()] = nested
			continue
		}
		m, err := r.fromDescriptor(nested, fullName, syntax)
		if err != nil {
			return nil, err
		}
		msg.NestedTypes = append(msg.NestedTypes, m)
	}
	for _, ep := range dp.GetEnumType() {
		msg.NestedEnums = append(msg.NestedEnums, fromEnumDescriptor(ep))
	}

	groups := make([]*schema.Oneof, len(dp.GetOneofDecl()))
	for i, od := range dp.GetOneofDecl() {
		groups[i] = &schema.Oneof{Name: od.GetName()}
	}

	for _, fp := range dp.GetField() {
		if fp.GetType() == descriptorpb.FieldDescriptorProto_TYPE_GROUP {
			r.logger.Warn("group field skipped", zap.String("message", fullName[1:]), zap.String("field", fp.GetName()))
			continue
		}
		field := &schema.Field{
			Name:           fp.GetName(),
			Number:         fp.GetNumber(),
			Label:          fromLabel(fp.GetLabel()),
			DefaultValue:   fp.GetDefaultValue(),
			JsonName:       fp.GetJsonName(),
			Proto3Optional: fp.GetProto3Optional(),
		}
		if opts := fp.GetOptions(); opts != nil && opts.Packed != nil {
			packed := opts.GetPacked()
			field.Packed = &packed
		}
		if field.Packed == nil {
			switch fp.GetOptions().GetFeatures().GetRepeatedFieldEncoding() {
			case descriptorpb.FeatureSet_PACKED:
				packed := true
				field.Packed = &packed
			case descriptorpb.FeatureSet_EXPANDED:
				packed := false
				field.Packed = &packed
			}
		}

		if entry, ok := entries[fp.GetTypeName()]; ok && field.Label == schema.LabelRepeated {
			key, value := entryFields(entry)
			if key == nil || value == nil {
				return nil, fmt.Errorf("%s.%s: map entry %s lacks key or value", fullName[1:], fp.GetName(), entry.GetName())
			}
			keyType, valueType := fromFieldType(key), fromFieldType(value)
			field.Type = schema.FieldType{Kind: schema.KindMap, MapKey: &keyType, MapValue: &valueType}
		} else {
			field.Type = fromFieldType(fp)
		}

		// Synthetic oneofs of proto3 optional fields are not real groups.
		if fp.OneofIndex != nil && !fp.GetProto3Optional() {
			i := int(fp.GetOneofIndex())
			if i < 0 || i >= len(groups) {
				return nil, fmt.Errorf("%s.%s: oneof index %d out of range", fullName[1:], fp.GetName(), i)
			}
			field.Oneof = groups[i].Name
			groups[i].Fields = append(groups[i].Fields, field)
		}
		msg.Fields = append(msg.Fields, field)
	}
	for _, g := range groups {
		if len(g.Fields) > 0 {
			msg.OneofGroups = append(msg.OneofGroups, g)
		}
	}
	return msg, nil
}

func entryFields(entry *descriptorpb.DescriptorProto) (key, value *descriptorpb.FieldDescriptorProto) {
	for _, fp := range entry.GetField() {
		switch fp.GetNumber() {
		case 1:
			key = fp
		case 2:
			value = fp
		}
	}
	return key, value
}

var primitiveTypes = map[descriptorpb.FieldDescriptorProto_Type]schema.PrimitiveType{
	descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:   schema.TypeDouble,
	descriptorpb.FieldDescriptorProto_TYPE_FLOAT:    schema.TypeFloat,
	descriptorpb.FieldDescriptorProto_TYPE_INT64:    schema.TypeInt64,
	descriptorpb.FieldDescriptorProto_TYPE_UINT64:   schema.TypeUint64,
	descriptorpb.FieldDescriptorProto_TYPE_INT32:    schema.TypeInt32,
	descriptorpb.FieldDescriptorProto_TYPE_FIXED64:  schema.TypeFixed64,
	descriptorpb.FieldDescriptorProto_TYPE_FIXED32:  schema.TypeFixed32,
	descriptorpb.FieldDescriptorProto_TYPE_BOOL:     schema.TypeBool,
	descriptorpb.FieldDescriptorProto_TYPE_STRING:   schema.TypeString,
	descriptorpb.FieldDescriptorProto_TYPE_BYTES:    schema.TypeBytes,
	descriptorpb.FieldDescriptorProto_TYPE_UINT32:   schema.TypeUint32,
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED32: schema.TypeSfixed32,
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED64: schema.TypeSfixed64,
	descriptorpb.FieldDescriptorProto_TYPE_SINT32:   schema.TypeSint32,
	descriptorpb.FieldDescriptorProto_TYPE_SINT64:   schema.TypeSint64,
}

func fromFieldType(fp *descriptorpb.FieldDescriptorProto) schema.FieldType {
	switch fp.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		return schema.FieldType{Kind: schema.KindMessage, MessageType: fp.GetTypeName()}
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		return schema.FieldType{Kind: schema.KindEnum, EnumType: fp.GetTypeName()}
	}
	if pt, ok := primitiveTypes[fp.GetType()]; ok {
		return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: pt}
	}
	// protoc leaves the type unset when only a name was given.
	return schema.FieldType{Kind: schema.KindMessage, MessageType: fp.GetTypeName()}
}

func fromLabel(l descriptorpb.FieldDescriptorProto_Label) schema.FieldLabel {
	switch l {
	case descriptorpb.FieldDescriptorProto_LABEL_REPEATED:
		return schema.LabelRepeated
	case descriptorpb.FieldDescriptorProto_LABEL_REQUIRED:
		return schema.LabelRequired
	default:
		return schema.LabelOptional
	}
}

func fromEnumDescriptor(ep *descriptorpb.EnumDescriptorProto) *schema.Enum {
	enum := &schema.Enum{Name: ep.GetName(), AllowAlias: ep.GetOptions().GetAllowAlias()}
	for _, vp := range ep.GetValue() {
		enum.Values = append(enum.Values, &schema.EnumValue{Name: vp.GetName(), Number: vp.GetNumber()})
	}
	return enum
}
