package codec

import (
	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/schema"
)

func scalarField(name string, number int32, t schema.PrimitiveType) *schema.Field {
	return &schema.Field{Name: name, Number: number, Label: schema.LabelOptional,
		Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: t}}
}

func repeatedField(name string, number int32, t schema.PrimitiveType) *schema.Field {
	f := scalarField(name, number, t)
	f.Label = schema.LabelRepeated
	return f
}

func messageField(name string, number int32, md *schema.Message) *schema.Field {
	return &schema.Field{Name: name, Number: number, Label: schema.LabelOptional,
		Type: schema.FieldType{Kind: schema.KindMessage, MessageType: md.FullName, Message: md}}
}

func primType(t schema.PrimitiveType) *schema.FieldType {
	return &schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: t}
}

type testTypes struct {
	sample  *schema.Message
	kind    *schema.Enum
	scalars *schema.Message
	series  *schema.Message
	legacy  *schema.Message
	node    *schema.Message
}

// newTestTypes builds, by hand, the schema the codec tests share:
//
//	enum Kind { KIND_UNSPECIFIED = 0; COUNTER = 1; GAUGE = 2; }
//	message Sample { double value = 1; int64 timestamp = 2; }
//	message Scalars { one field per scalar kind, numbers 1..15; Kind kind = 16; }
//	message Series {
//	  string name = 1; repeated Sample samples = 2; map<string, string> labels = 3;
//	  Kind kind = 4; optional int32 priority = 5;
//	  oneof target { string host = 6; uint32 port = 7; }
//	  repeated sint64 deltas = 8; Sample latest = 9; repeated int32 ids = 10;
//	  map<int32, Sample> by_id = 11; repeated string tags = 12;
//	}
//	message Legacy (proto2) {
//	  optional int32 count = 1; repeated int32 values = 2;
//	  repeated int32 packed_values = 3 [packed = true]; required string id = 4;
//	  optional string note = 5 [default = "none"];
//	}
//	message Node { Node child = 1; int32 depth = 2; }
func newTestTypes() *testTypes {
	tt := &testTypes{}

	tt.kind = &schema.Enum{Name: "Kind", FullName: "test.Kind", Values: []*schema.EnumValue{
		{Name: "KIND_UNSPECIFIED", Number: 0}, {Name: "COUNTER", Number: 1}, {Name: "GAUGE", Number: 2},
	}}
	enumType := schema.FieldType{Kind: schema.KindEnum, EnumType: "test.Kind", Enum: tt.kind}

	tt.sample = &schema.Message{
		Name: "Sample", FullName: "test.Sample", Syntax: schema.SyntaxProto3,
		Fields: []*schema.Field{scalarField("value", 1, schema.TypeDouble), scalarField("timestamp", 2, schema.TypeInt64)},
	}

	kinds := []schema.PrimitiveType{
		schema.TypeInt32, schema.TypeInt64, schema.TypeUint32, schema.TypeUint64,
		schema.TypeSint32, schema.TypeSint64, schema.TypeFixed32, schema.TypeFixed64,
		schema.TypeSfixed32, schema.TypeSfixed64, schema.TypeFloat, schema.TypeDouble,
		schema.TypeBool, schema.TypeString, schema.TypeBytes,
	}
	tt.scalars = &schema.Message{Name: "Scalars", FullName: "test.Scalars", Syntax: schema.SyntaxProto3}
	for i, k := range kinds {
		tt.scalars.Fields = append(tt.scalars.Fields, scalarField("f_"+string(k), int32(i+1), k))
	}
	tt.scalars.Fields = append(tt.scalars.Fields, &schema.Field{Name: "kind", Number: 16, Label: schema.LabelOptional, Type: enumType})

	priority := scalarField("priority", 5, schema.TypeInt32)
	priority.Proto3Optional = true
	host := scalarField("host", 6, schema.TypeString)
	host.Oneof = "target"
	port := scalarField("port", 7, schema.TypeUint32)
	port.Oneof = "target"
	samples := messageField("samples", 2, tt.sample)
	samples.Label = schema.LabelRepeated
	tt.series = &schema.Message{
		Name: "Series", FullName: "test.Series", Syntax: schema.SyntaxProto3,
		Fields: []*schema.Field{
			scalarField("name", 1, schema.TypeString),
			samples,
			{Name: "labels", Number: 3, Label: schema.LabelRepeated, Type: schema.FieldType{
				Kind: schema.KindMap, MapKey: primType(schema.TypeString), MapValue: primType(schema.TypeString),
			}},
			{Name: "kind", Number: 4, Label: schema.LabelOptional, Type: enumType},
			priority, host, port,
			repeatedField("deltas", 8, schema.TypeSint64),
			messageField("latest", 9, tt.sample),
			repeatedField("ids", 10, schema.TypeInt32),
			{Name: "by_id", Number: 11, Label: schema.LabelRepeated, Type: schema.FieldType{
				Kind: schema.KindMap, MapKey: primType(schema.TypeInt32),
				MapValue: &schema.FieldType{Kind: schema.KindMessage, MessageType: "test.Sample", Message: tt.sample},
			}},
			repeatedField("tags", 12, schema.TypeString),
		},
		OneofGroups: []*schema.Oneof{{Name: "target", Fields: []*schema.Field{host, port}}},
	}

	packed := repeatedField("packed_values", 3, schema.TypeInt32)
	on := true
	packed.Packed = &on
	id := scalarField("id", 4, schema.TypeString)
	id.Label = schema.LabelRequired
	note := scalarField("note", 5, schema.TypeString)
	note.DefaultValue = "none"
	tt.legacy = &schema.Message{
		Name: "Legacy", FullName: "test.Legacy", Syntax: schema.SyntaxProto2,
		Fields: []*schema.Field{
			scalarField("count", 1, schema.TypeInt32),
			repeatedField("values", 2, schema.TypeInt32),
			packed, id, note,
		},
	}

	tt.node = &schema.Message{Name: "Node", FullName: "test.Node", Syntax: schema.SyntaxProto3}
	tt.node.Fields = []*schema.Field{messageField("child", 1, tt.node), scalarField("depth", 2, schema.TypeInt32)}

	return tt
}

func mustSet(m *dynamic.Message, n int32, v any) *dynamic.Message {
	if err := m.Set(n, v); err != nil {
		panic(err)
	}
	return m
}
