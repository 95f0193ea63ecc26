package schema

import (
	"sync"

	"github.com/anirudhraja/protocodec/wire"
)

// Syntax values carried by ProtoFile.Syntax and Message.Syntax.
const (
	SyntaxProto2   = "proto2"
	SyntaxProto3   = "proto3"
	SyntaxEditions = "editions"
)

// ProtoRepo represents a collection of .proto files and their definitions.
type ProtoRepo struct {
	ProtoFiles map[string]*ProtoFile `json:"proto_files"`
}

// ProtoFile represents a single .proto file
type ProtoFile struct {
	Name     string     `json:"name"`     // file.proto
	Package  string     `json:"package"`  // package name
	Syntax   string     `json:"syntax"`   // proto2 or proto3
	Imports  []*Import  `json:"imports"`  // imported files
	Messages []*Message `json:"messages"` // message definitions
	Enums    []*Enum    `json:"enums"`    // enum definitions
	Services []*Service `json:"services"` // service definitions
}

// Import represents an import statement
type Import struct {
	Path   string `json:"path"`   // "google/protobuf/timestamp.proto"
	Public bool   `json:"public"` // public import
	Weak   bool   `json:"weak"`   // weak import
}

// Message represents a protobuf message definition
type Message struct {
	Name        string     `json:"name"`             // "User"
	FullName    string     `json:"full_name"`        // "acme.v1.User", set when registered
	Syntax      string     `json:"syntax,omitempty"` // inherited from the file
	Fields      []*Field   `json:"fields"`           // message fields, oneof members included
	NestedTypes []*Message `json:"nested_types"`     // nested messages
	NestedEnums []*Enum    `json:"nested_enums"`     // nested enums
	OneofGroups []*Oneof   `json:"oneof_groups"`     // oneof groups
	MapEntry    bool       `json:"map_entry"`        // is this a map entry?

	indexOnce sync.Once
	byNumber  map[int32]*Field
	byName    map[string]*Field
}

// Field represents a message field
type Field struct {
	Name           string     `json:"name"`                      // "user_name"
	Number         int32      `json:"number"`                    // 1
	Label          FieldLabel `json:"label"`                     // optional, required, repeated
	Type           FieldType  `json:"type"`                      // field type information
	DefaultValue   string     `json:"default_value,omitempty"`   // default value (proto2)
	JsonName       string     `json:"json_name,omitempty"`       // JSON field name
	Oneof          string     `json:"oneof,omitempty"`           // name of the enclosing oneof, empty if none
	Packed         *bool      `json:"packed,omitempty"`          // explicit [packed=...] option
	Proto3Optional bool       `json:"proto3_optional,omitempty"` // proto3 `optional` keyword
}

// Oneof represents a oneof group
type Oneof struct {
	Name   string   `json:"name"`   // "user_info"
	Fields []*Field `json:"fields"` // fields in this oneof
}

// FieldLabel represents field labels
type FieldLabel string

const (
	LabelOptional FieldLabel = "optional"
	LabelRequired FieldLabel = "required"
	LabelRepeated FieldLabel = "repeated"
)

// FieldType represents field type information
type FieldType struct {
	Kind          TypeKind      `json:"kind"`                     // primitive, message, enum, map
	PrimitiveType PrimitiveType `json:"primitive_type,omitempty"` // for primitive types
	MessageType   string        `json:"message_type,omitempty"`   // for message types: "User", "google.protobuf.Timestamp"
	EnumType      string        `json:"enum_type,omitempty"`      // for enum types
	MapKey        *FieldType    `json:"map_key,omitempty"`        // for map key type
	MapValue      *FieldType    `json:"map_value,omitempty"`      // for map value type

	// Filled in by the registry once the type names are resolved.
	Message *Message `json:"-"`
	Enum    *Enum    `json:"-"`
}

// TypeKind represents the kind of field type
type TypeKind string

const (
	KindPrimitive TypeKind = "primitive"
	KindMessage   TypeKind = "message"
	KindEnum      TypeKind = "enum"
	KindMap       TypeKind = "map"
)

// PrimitiveType represents protobuf primitive types
type PrimitiveType string

const (
	TypeDouble   PrimitiveType = "double"
	TypeFloat    PrimitiveType = "float"
	TypeInt64    PrimitiveType = "int64"
	TypeUint64   PrimitiveType = "uint64"
	TypeInt32    PrimitiveType = "int32"
	TypeFixed64  PrimitiveType = "fixed64"
	TypeFixed32  PrimitiveType = "fixed32"
	TypeBool     PrimitiveType = "bool"
	TypeString   PrimitiveType = "string"
	TypeBytes    PrimitiveType = "bytes"
	TypeUint32   PrimitiveType = "uint32"
	TypeSfixed32 PrimitiveType = "sfixed32"
	TypeSfixed64 PrimitiveType = "sfixed64"
	TypeSint32   PrimitiveType = "sint32"
	TypeSint64   PrimitiveType = "sint64"
)

var primitiveWireTypes = map[PrimitiveType]wire.WireType{
	TypeDouble:   wire.WireFixed64,
	TypeFloat:    wire.WireFixed32,
	TypeInt64:    wire.WireVarint,
	TypeUint64:   wire.WireVarint,
	TypeInt32:    wire.WireVarint,
	TypeFixed64:  wire.WireFixed64,
	TypeFixed32:  wire.WireFixed32,
	TypeBool:     wire.WireVarint,
	TypeString:   wire.WireBytes,
	TypeBytes:    wire.WireBytes,
	TypeUint32:   wire.WireVarint,
	TypeSfixed32: wire.WireFixed32,
	TypeSfixed64: wire.WireFixed64,
	TypeSint32:   wire.WireVarint,
	TypeSint64:   wire.WireVarint,
}

// IsPrimitiveType reports whether name is one of the scalar type keywords.
func IsPrimitiveType(name string) bool {
	_, ok := primitiveWireTypes[PrimitiveType(name)]
	return ok
}

// IsPackedType checks and returns if the Primitive type is packed for repeated label
func IsPackedType(t PrimitiveType) bool {
	wt, ok := primitiveWireTypes[t]
	return ok && wt != wire.WireBytes
}

// IsValidMapKey reports whether t may be used as a map key: any integral
// kind, bool or string.
func IsValidMapKey(t PrimitiveType) bool {
	switch t {
	case TypeDouble, TypeFloat, TypeBytes:
		return false
	}
	return IsPrimitiveType(string(t))
}

// WireType returns the natural wire type of a single value of this type.
func (t *FieldType) WireType() wire.WireType {
	switch t.Kind {
	case KindPrimitive:
		return primitiveWireTypes[t.PrimitiveType]
	case KindEnum:
		return wire.WireVarint
	default:
		return wire.WireBytes
	}
}

// TypeName returns the scalar keyword or the referenced type name.
func (t *FieldType) TypeName() string {
	switch t.Kind {
	case KindPrimitive:
		return string(t.PrimitiveType)
	case KindEnum:
		return t.EnumType
	case KindMap:
		return "map<" + t.MapKey.TypeName() + ", " + t.MapValue.TypeName() + ">"
	default:
		return t.MessageType
	}
}

// Enum represents an enum definition
type Enum struct {
	Name       string       `json:"name"`      // "Status"
	FullName   string       `json:"full_name"` // "acme.v1.Status", set when registered
	Values     []*EnumValue `json:"values"`    // enum values
	AllowAlias bool         `json:"allow_alias"`
}

// EnumValue represents an enum value
type EnumValue struct {
	Name     string `json:"name"`                // "ACTIVE"
	Number   int32  `json:"number"`              // 1
	JsonName string `json:"json_name,omitempty"` // JSON field name
}

// ValueByNumber returns the first value declared with number n.
func (e *Enum) ValueByNumber(n int32) *EnumValue {
	for _, v := range e.Values {
		if v.Number == n {
			return v
		}
	}
	return nil
}

// ValueByName returns the value called name.
func (e *Enum) ValueByName(name string) *EnumValue {
	for _, v := range e.Values {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Default returns the number of the first declared value, or 0.
func (e *Enum) Default() int32 {
	if len(e.Values) == 0 {
		return 0
	}
	return e.Values[0].Number
}

// Service represents a service definition
type Service struct {
	Name     string    `json:"name"`      // "UserService"
	FullName string    `json:"full_name"` // "acme.v1.UserService"
	Methods  []*Method `json:"methods"`   // service methods
}

// Method represents a service method
type Method struct {
	Name            string `json:"name"`             // "GetUser"
	InputType       string `json:"input_type"`       // "GetUserRequest"
	OutputType      string `json:"output_type"`      // "GetUserResponse"
	ClientStreaming bool   `json:"client_streaming"` // stream input
	ServerStreaming bool   `json:"server_streaming"` // stream output
}
