package protocodec

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/anirudhraja/protocodec/codec"
	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

func TestProtocodec_ParseRaw(t *testing.T) {
	pc := New()

	t.Run("empty_data", func(t *testing.T) {
		result, err := pc.ParseRaw([]byte{})
		if err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}

		if len(result) != 0 {
			t.Errorf("Expected empty result, got %v", result)
		}
	})

	t.Run("simple_varint", func(t *testing.T) {
		// field 1 = varint 42
		w := wire.NewWriter()
		w.WriteTag(1, wire.WireVarint)
		w.WriteVarint(42)
		data, err := w.Finish()
		if err != nil {
			t.Fatal(err)
		}

		result, err := pc.ParseRaw(data)
		if err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}

		expected := map[string]any{
			"field_1": map[string]any{
				"type":  "varint",
				"value": uint64(42),
			},
		}

		if !reflect.DeepEqual(result, expected) {
			t.Errorf("Expected %v, got %v", expected, result)
		}
	})

	t.Run("multiple_fields", func(t *testing.T) {
		w := wire.NewWriter()
		w.WriteTag(1, wire.WireVarint)
		w.WriteVarint(123)
		w.WriteTag(2, wire.WireBytes)
		w.WriteString("hello")
		w.WriteTag(3, wire.WireFixed32)
		w.WriteFixed32(7)
		w.WriteTag(2, wire.WireBytes)
		w.WriteString("again")
		data, err := w.Finish()
		if err != nil {
			t.Fatal(err)
		}

		result, err := pc.ParseRaw(data)
		if err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}

		if len(result) != 3 {
			t.Errorf("Expected 3 fields, got %d", len(result))
		}
		field3, _ := result["field_3"].(map[string]any)
		if field3["type"] != "fixed32" || field3["value"] != uint32(7) {
			t.Errorf("field_3 incorrect: %v", field3)
		}
		field2, ok := result["field_2"].([]any)
		if !ok || len(field2) != 2 {
			t.Fatalf("field_2 should hold both occurrences, got %v", result["field_2"])
		}
		second := field2[1].(map[string]any)
		if second["type"] != "length-delimited" || string(second["value"].([]byte)) != "again" {
			t.Errorf("field_2[1] incorrect: %v", second)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := pc.ParseRaw([]byte{0x0a, 0x05, 'h'}); err == nil {
			t.Error("Expected error for truncated input")
		}
	})
}

func testRepo() *schema.ProtoRepo {
	return &schema.ProtoRepo{ProtoFiles: map[string]*schema.ProtoFile{
		"test.proto": {
			Package: "test",
			Messages: []*schema.Message{{
				Name: "TestMessage",
				Fields: []*schema.Field{
					{Name: "id", Number: 1, Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeInt32}},
					{Name: "name", Number: 2, Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeString}},
					{Name: "active", Number: 3, Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeBool}},
				},
			}},
		},
	}}
}

func TestProtocodec_WithSchema(t *testing.T) {
	pc := New()
	if err := pc.LoadRepo(testRepo()); err != nil {
		t.Fatalf("LoadRepo failed: %v", err)
	}

	testData := map[string]any{
		"id":     int32(123),
		"name":   "test message",
		"active": true,
	}

	t.Run("marshal_parse_roundtrip", func(t *testing.T) {
		encodedData, err := pc.Marshal(testData, "TestMessage")
		if err != nil {
			t.Fatalf("Failed to encode: %v", err)
		}
		if len(encodedData) != 18 {
			t.Errorf("Expected 18 bytes, got %d", len(encodedData))
		}

		result, err := pc.Parse(encodedData, "test.TestMessage")
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if !reflect.DeepEqual(result, testData) {
			t.Errorf("Expected %v, got %v", testData, result)
		}

		raw, err := pc.ParseRaw(encodedData)
		if err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}
		for _, field := range []string{"field_1", "field_2", "field_3"} {
			if _, ok := raw[field]; !ok {
				t.Errorf("Missing field: %s", field)
			}
		}
	})

	t.Run("decode_verify_encode", func(t *testing.T) {
		data, err := pc.Marshal(testData, "TestMessage")
		if err != nil {
			t.Fatal(err)
		}
		m, err := pc.Decode(data, "TestMessage")
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if err := pc.Verify(m); err != nil {
			t.Errorf("Verify failed: %v", err)
		}
		again, err := pc.Encode(m)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if string(again) != string(data) {
			t.Errorf("re-encoded bytes differ: % x vs % x", again, data)
		}

		if err := m.Set(1, "not a number"); err != nil {
			t.Fatal(err)
		}
		if err := pc.Verify(m); err == nil {
			t.Error("Expected Verify to reject a string in an int32 field")
		}
	})

	t.Run("marshal_unknown_key", func(t *testing.T) {
		_, err := pc.Marshal(map[string]any{"missing": 1}, "TestMessage")
		if err == nil || !strings.Contains(err.Error(), "missing") {
			t.Errorf("Expected unknown field error, got %v", err)
		}
	})
}

func TestProtocodec_UnmarshalToStruct(t *testing.T) {
	type TestStruct struct {
		ID     int32  `json:"id"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}

	testData := map[string]any{
		"id":     int32(123),
		"name":   "test name",
		"active": true,
	}

	t.Run("map_to_struct", func(t *testing.T) {
		var result TestStruct
		err := mapToStruct(testData, reflect.ValueOf(&result).Elem())
		if err != nil {
			t.Fatalf("mapToStruct failed: %v", err)
		}

		if result.ID != 123 {
			t.Errorf("Expected ID=123, got %d", result.ID)
		}
		if result.Name != "test name" {
			t.Errorf("Expected Name='test name', got '%s'", result.Name)
		}
		if !result.Active {
			t.Errorf("Expected Active=true, got %v", result.Active)
		}
	})

	t.Run("snake_case_conversion", func(t *testing.T) {
		type TestStruct2 struct {
			UserID   int32
			UserName string
			Score    int64 `protobuf:"varint,3,opt,name=total_score"`
		}

		testData2 := map[string]any{
			"user_id":     int32(456),
			"user_name":   "john doe",
			"total_score": int64(9),
		}

		var result TestStruct2
		err := mapToStruct(testData2, reflect.ValueOf(&result).Elem())
		if err != nil {
			t.Fatalf("mapToStruct failed: %v", err)
		}

		if result.UserID != 456 {
			t.Errorf("Expected UserID=456, got %d", result.UserID)
		}
		if result.UserName != "john doe" {
			t.Errorf("Expected UserName='john doe', got '%s'", result.UserName)
		}
		if result.Score != 9 {
			t.Errorf("Expected Score=9, got %d", result.Score)
		}
	})

	t.Run("invalid_target", func(t *testing.T) {
		pc := New()
		var notAPointer TestStruct
		if err := pc.Unmarshal(nil, notAPointer); err == nil {
			t.Error("Expected error for non-pointer target")
		}

		var notAStruct *string
		if err := pc.Unmarshal(nil, notAStruct); err == nil {
			t.Error("Expected error for non-struct target")
		}
	})
}

func TestProtocodec_toSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"ID", "id"},
		{"UserID", "user_id"},
		{"UserName", "user_name"},
		{"XMLParser", "xml_parser"},
		{"HTTPSConnection", "https_connection"},
		{"SimpleField", "simple_field"},
		{"alreadySnake", "already_snake"},
	}

	for _, test := range tests {
		result := toSnakeCase(test.input)
		if result != test.expected {
			t.Errorf("toSnakeCase(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestProtocodec_setFieldValue(t *testing.T) {
	t.Run("string_field", func(t *testing.T) {
		var s struct{ Name string }
		field := reflect.ValueOf(&s).Elem().Field(0)

		if err := setFieldValue(field, "test value"); err != nil {
			t.Fatalf("setFieldValue failed: %v", err)
		}
		if s.Name != "test value" {
			t.Errorf("Expected 'test value', got '%s'", s.Name)
		}
	})

	t.Run("int_widening", func(t *testing.T) {
		var s struct{ ID int }
		field := reflect.ValueOf(&s).Elem().Field(0)

		if err := setFieldValue(field, int32(123)); err != nil {
			t.Fatalf("setFieldValue failed: %v", err)
		}
		if s.ID != 123 {
			t.Errorf("Expected 123, got %d", s.ID)
		}
	})

	t.Run("type_mismatch", func(t *testing.T) {
		var s struct{ Name string }
		field := reflect.ValueOf(&s).Elem().Field(0)

		if err := setFieldValue(field, 123); err == nil {
			t.Errorf("Expected error for type mismatch, got %q", s.Name)
		}
	})

	t.Run("nil_value", func(t *testing.T) {
		var s struct{ Name string }
		field := reflect.ValueOf(&s).Elem().Field(0)

		if err := setFieldValue(field, nil); err != nil {
			t.Fatalf("setFieldValue failed for nil: %v", err)
		}
		if s.Name != "" {
			t.Errorf("Expected empty string, got '%s'", s.Name)
		}
	})

	t.Run("pointer_slice_map", func(t *testing.T) {
		var s struct {
			Count  *int64
			Tags   []string
			Counts map[string]int
		}
		v := reflect.ValueOf(&s).Elem()

		if err := setFieldValue(v.Field(0), int64(5)); err != nil {
			t.Fatal(err)
		}
		if err := setFieldValue(v.Field(1), []any{"a", "b"}); err != nil {
			t.Fatal(err)
		}
		if err := setFieldValue(v.Field(2), map[any]any{"x": int32(1)}); err != nil {
			t.Fatal(err)
		}
		if s.Count == nil || *s.Count != 5 {
			t.Errorf("Count = %v", s.Count)
		}
		if !reflect.DeepEqual(s.Tags, []string{"a", "b"}) {
			t.Errorf("Tags = %v", s.Tags)
		}
		if !reflect.DeepEqual(s.Counts, map[string]int{"x": 1}) {
			t.Errorf("Counts = %v", s.Counts)
		}
		if err := setFieldValue(v.Field(1), []any{"a", 2}); err == nil {
			t.Error("Expected error for a mixed slice")
		}
	})
}

func TestProtocodec_SchemaRequired(t *testing.T) {
	pc := New()

	t.Run("load_schema_from_file", func(t *testing.T) {
		err := pc.LoadSchemaFromFile("/nonexistent/path.proto")
		if err == nil {
			t.Fatal("Expected error for non-existent file")
		}
		if !strings.Contains(err.Error(), "path does not exist") {
			t.Errorf("Expected path error, got: %v", err)
		}
	})

	t.Run("unknown_message_type", func(t *testing.T) {
		_, err := pc.Parse([]byte{0x08, 0x01}, "Missing")
		if err == nil || !strings.Contains(err.Error(), "message not found") {
			t.Errorf("Expected not found error, got: %v", err)
		}
	})
}

const shopProto = `syntax = "proto3";
package shop;

enum Status {
  UNKNOWN = 0;
  PAID = 1;
}

message Order {
  int64 id = 1;
  string customer_name = 2;
  repeated Item items = 3;
  map<string, int32> counts = 4;
  Status status = 5;
  Address ship_to = 6;
  repeated string tags = 7;
}

message Item {
  string sku = 1;
  uint32 quantity = 2;
  double price = 3;
}

message Address {
  string city = 1;
}
`

type Address struct {
	City string
}

type Item struct {
	Sku      string `protobuf:"sku"`
	Quantity uint32
	Price    float64
}

type Order struct {
	ID           int64 `json:"id"`
	CustomerName string
	Items        []Item
	Counts       map[string]int32
	Status       int32
	ShipTo       *Address
	Tags         []string
	internal     int
}

type orderView struct {
	ID     int64
	Status string
}

func (orderView) ProtoMessageName() string { return "shop.Order" }

func TestProtocodec_Integration(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shop.proto"), []byte(shopProto), 0o644); err != nil {
		t.Fatal(err)
	}
	pc := New(WithProtoDirectories(dir))
	if err := pc.LoadSchemaFromFile("shop.proto"); err != nil {
		t.Fatalf("LoadSchemaFromFile failed: %v", err)
	}

	if got := pc.ListMessages(); !reflect.DeepEqual(got, []string{"shop.Address", "shop.Item", "shop.Order"}) {
		t.Errorf("ListMessages() = %v", got)
	}
	if got := pc.ListEnums(); !reflect.DeepEqual(got, []string{"shop.Status"}) {
		t.Errorf("ListEnums() = %v", got)
	}

	data, err := pc.Marshal(map[string]any{
		"id":           42,
		"customerName": "Ada",
		"items":        []any{map[string]any{"sku": "a-1", "quantity": 2, "price": 1.5}},
		"counts":       map[string]any{"a-1": 2},
		"status":       "PAID",
		"ship_to":      map[string]any{"city": "Oslo"},
		"tags":         []string{"gift", "express"},
	}, "Order")
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var order Order
	if err := pc.Unmarshal(data, &order); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	want := Order{
		ID:           42,
		CustomerName: "Ada",
		Items:        []Item{{Sku: "a-1", Quantity: 2, Price: 1.5}},
		Counts:       map[string]int32{"a-1": 2},
		Status:       1,
		ShipTo:       &Address{City: "Oslo"},
		Tags:         []string{"gift", "express"},
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("Unmarshal() = %+v, want %+v", order, want)
	}

	cfg := codec.DefaultConfig()
	cfg.EnumsAsNames = true
	named := New(WithProtoDirectories(dir), WithConfig(cfg))
	if err := named.LoadSchemaFromFile("shop.proto"); err != nil {
		t.Fatal(err)
	}
	var view orderView
	if err := named.Unmarshal(data, &view); err != nil {
		t.Fatalf("Unmarshal(NamedMessage) failed: %v", err)
	}
	if view.ID != 42 || view.Status != "PAID" {
		t.Errorf("view = %+v", view)
	}
}

func TestProtocodec_LoadDescriptorSet(t *testing.T) {
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{
		protodesc.ToFileDescriptorProto(durationpb.File_google_protobuf_duration_proto),
	}}
	setBytes, err := proto.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}

	pc := New()
	if err := pc.LoadDescriptorSet(setBytes); err != nil {
		t.Fatalf("LoadDescriptorSet failed: %v", err)
	}

	data, err := proto.Marshal(durationpb.New(90*time.Second + 5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	m, err := pc.Decode(data, "google.protobuf.Duration")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := m.Get(1); got != int64(90) {
		t.Errorf("seconds = %v", got)
	}
	if got := m.Get(2); got != int32(5000000) {
		t.Errorf("nanos = %v", got)
	}

	var back durationpb.Duration
	out, err := pc.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := proto.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back.AsDuration() != 90*time.Second+5*time.Millisecond {
		t.Errorf("round trip = %v", back.AsDuration())
	}
}

func TestProtocodec_AllowUnresolved(t *testing.T) {
	repo := &schema.ProtoRepo{ProtoFiles: map[string]*schema.ProtoFile{
		"a.proto": {
			Package: "a",
			Messages: []*schema.Message{{
				Name: "Envelope",
				Fields: []*schema.Field{
					{Name: "payload", Number: 1, Type: schema.FieldType{Kind: schema.KindMessage, MessageType: "b.Missing"}},
				},
			}},
		},
	}}

	if err := New().LoadRepo(repo); err == nil {
		t.Fatal("Expected unresolved reference error")
	}

	pc := New(WithAllowUnresolved())
	if err := pc.LoadRepo(repo); err != nil {
		t.Fatalf("LoadRepo failed: %v", err)
	}
	m, err := pc.Decode([]byte{0x0a, 0x02, 0x08, 0x01}, "Envelope")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got, ok := m.Get(1).([]byte); !ok || string(got) != "\x08\x01" {
		t.Errorf("payload = %v", m.Get(1))
	}
}
