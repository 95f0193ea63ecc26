package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

const commonProto = `syntax = "proto3";
package acme.common;

message Money {
  string currency = 1;
  int64 units = 2;
}

enum Status {
  STATUS_UNSPECIFIED = 0;
  ACTIVE = 1;
}
`

const userProto = `syntax = "proto3";
package acme.v1;

import "common.proto";
import "google/protobuf/timestamp.proto";

message User {
  int64 id = 1;
  string display_name = 2;
  acme.common.Status status = 3;
  map<string, acme.common.Money> balances = 4;
  repeated Address addresses = 5;
  optional int32 age = 6;
  oneof contact {
    string email = 7;
    string phone = 8;
  }
  google.protobuf.Timestamp created_at = 9;
  Kind kind = 10;
  repeated int32 scores = 11 [packed = false];
  string nick = 12 [json_name = "alias"];

  message Address {
    string city = 1;
    Kind kind = 2;
  }
  enum Kind {
    KIND_UNSPECIFIED = 0;
    ADMIN = 1;
  }
}

service UserService {
  rpc Get(User) returns (stream User);
}
`

const legacyProto = `syntax = "proto2";
package legacy;

message Record {
  required string id = 1;
  optional int32 count = 2 [default = 7];
  optional string note = 3 [default = "none"];
  repeated int32 values = 4;
  repeated int32 packed_values = 5 [packed = true];
  extensions 100 to 200;
}

extend Record {
  optional string tag = 100;
}
`

func writeProtos(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry(WithProtoDirectories("a", "b"))
	require.NotNil(t, registry)
	assert.Empty(t, registry.ListMessages())
	assert.Empty(t, registry.ListEnums())
	assert.Empty(t, registry.ListServices())
	assert.Equal(t, []string{"a", "b"}, registry.ProtoDirectories())
}

func TestLoadSchema_NonExistentPath(t *testing.T) {
	registry := NewRegistry()
	err := registry.LoadSchema("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path does not exist")
}

func TestLoadSchema_NonProtoFile(t *testing.T) {
	dir := writeProtos(t, map[string]string{"notes.txt": "not a proto file"})
	registry := NewRegistry()
	err := registry.LoadSchema(filepath.Join(dir, "notes.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a .proto file")
}

func TestLoadSchemaFromFile_Imports(t *testing.T) {
	dir := writeProtos(t, map[string]string{"common.proto": commonProto, "acme/user.proto": userProto})
	registry := NewRegistry(WithProtoDirectories(filepath.Join(dir, "acme"), dir))
	require.NoError(t, registry.LoadSchemaFromFile("user.proto"))

	assert.True(t, registry.HasFile("user.proto"))
	assert.True(t, registry.HasFile("common.proto"))
	assert.True(t, registry.HasFile("google/protobuf/timestamp.proto"))

	assert.Equal(t, []string{
		"acme.common.Money",
		"acme.v1.User",
		"acme.v1.User.Address",
		"google.protobuf.Timestamp",
	}, registry.ListMessages())
	assert.Equal(t, []string{"acme.common.Status", "acme.v1.User.Kind"}, registry.ListEnums())
	assert.Equal(t, []string{"acme.v1.UserService"}, registry.ListServices())

	user, err := registry.GetMessage("acme.v1.User")
	require.NoError(t, err)
	assert.Equal(t, schema.SyntaxProto3, user.Syntax)

	status := user.FieldByName("status")
	require.NotNil(t, status)
	assert.Equal(t, schema.KindEnum, status.Type.Kind)
	assert.Equal(t, "acme.common.Status", status.Type.EnumType)
	require.NotNil(t, status.Type.Enum)

	balances := user.FieldByName("balances")
	require.NotNil(t, balances)
	require.True(t, balances.IsMap())
	assert.Equal(t, schema.TypeString, balances.Type.MapKey.PrimitiveType)
	require.NotNil(t, balances.Type.MapValue.Message)
	assert.Equal(t, "acme.common.Money", balances.Type.MapValue.Message.FullName)

	addresses := user.FieldByName("addresses")
	require.NotNil(t, addresses.Type.Message)
	assert.Equal(t, "acme.v1.User.Address", addresses.Type.MessageType)
	assert.True(t, addresses.IsRepeated())

	// Kind inside Address resolves to the enclosing message's enum.
	addressKind := addresses.Type.Message.FieldByName("kind")
	assert.Equal(t, "acme.v1.User.Kind", addressKind.Type.EnumType)

	age := user.FieldByName("age")
	assert.True(t, age.Proto3Optional)
	assert.True(t, age.HasPresence(user.Syntax))

	email := user.FieldByName("email")
	assert.Equal(t, "contact", email.Oneof)
	require.Len(t, user.OneofGroups, 1)
	assert.Len(t, user.OneofGroups[0].Fields, 2)

	createdAt := user.FieldByName("createdAt")
	require.NotNil(t, createdAt, "fields are reachable by JSON name")
	assert.Equal(t, "google.protobuf.Timestamp", createdAt.Type.Message.FullName)

	scores := user.FieldByName("scores")
	assert.False(t, scores.IsPacked(user.Syntax))
	assert.Equal(t, "alias", user.FieldByName("nick").JsonName)

	svc, err := registry.GetService("UserService")
	require.NoError(t, err)
	require.Len(t, svc.Methods, 1)
	assert.Equal(t, "acme.v1.User", svc.Methods[0].InputType)
	assert.True(t, svc.Methods[0].ServerStreaming)
}

func TestLoadSchema_Directory(t *testing.T) {
	dir := writeProtos(t, map[string]string{
		"common.proto":      commonProto,
		"user.proto":        userProto,
		"sub/legacy.proto":  legacyProto,
		"notproto.txt":      "not a proto file",
	})
	registry := NewRegistry()
	require.NoError(t, registry.LoadSchema(dir))

	repo := registry.Repo()
	assert.Contains(t, repo.ProtoFiles, "common.proto")
	assert.Contains(t, repo.ProtoFiles, "user.proto")
	assert.Contains(t, repo.ProtoFiles, "sub/legacy.proto")
	assert.Len(t, repo.ProtoFiles, 4, "three sources plus the timestamp import")
}

func TestLoadProtoSource_Proto2(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	registry := NewRegistry(WithLogger(zap.New(core)))
	require.NoError(t, registry.LoadProtoSource("legacy.proto", strings.NewReader(legacyProto)))

	record, err := registry.GetMessage("Record")
	require.NoError(t, err)
	assert.Equal(t, schema.SyntaxProto2, record.Syntax)
	assert.Equal(t, schema.LabelRequired, record.FieldByName("id").Label)
	assert.Equal(t, "7", record.FieldByName("count").DefaultValue)
	assert.Equal(t, "none", record.FieldByName("note").DefaultValue)
	assert.True(t, record.FieldByName("count").HasPresence(record.Syntax))
	assert.False(t, record.FieldByName("values").IsPacked(record.Syntax))
	assert.True(t, record.FieldByName("packed_values").IsPacked(record.Syntax))
	assert.Nil(t, record.FieldByNumber(100), "extensions are not registered")

	assert.Equal(t, 1, logs.FilterMessageSnippet("extension skipped").Len())
}

func TestLoadProtoSource_NoSyntaxIsProto2(t *testing.T) {
	registry := NewRegistry()
	src := "// legacy file\n/* no syntax line */\npackage old;\nmessage Old { optional int32 a = 1 [default = 7]; }\n"
	require.NoError(t, registry.LoadProtoSource("old.proto", strings.NewReader(src)))
	old, err := registry.GetMessage("old.Old")
	require.NoError(t, err)
	assert.Equal(t, schema.SyntaxProto2, old.Syntax)
	assert.True(t, old.FieldByName("a").HasPresence(old.Syntax))
	assert.Equal(t, "7", old.FieldByName("a").DefaultValue)

	// Parse errors still point at the line the user wrote.
	err = NewRegistry().LoadProtoSource("bad.proto", strings.NewReader("message A {\n  int32 = 1; }\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.proto:2:")
}

func TestHasSyntaxStatement(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{name: "plain", src: `syntax = "proto3";`, want: true},
		{name: "after_comments", src: "// c\n/* block\n */ \n syntax = \"proto2\";", want: true},
		{name: "edition", src: `edition = "2023";`, want: true},
		{name: "bom", src: "\xef\xbb\xbfsyntax = \"proto3\";", want: true},
		{name: "missing", src: "package a; message A {}", want: false},
		{name: "identifier_prefix", src: "syntaxy A {}", want: false},
		{name: "empty", src: "", want: false},
		{name: "unterminated_comment", src: "/* syntax", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, hasSyntaxStatement([]byte(tc.src)))
		})
	}
}

func TestLoadProtoSource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		target error
		text   string
	}{
		{
			name:   "unresolved_type",
			source: `syntax = "proto3"; message A { Missing m = 1; }`,
			target: wire.ErrUnresolvedReference,
		},
		{
			name:   "duplicate_number",
			source: `syntax = "proto3"; message A { int32 a = 1; int32 b = 1; }`,
			target: schema.ErrInvalidSchema,
		},
		{
			name:   "reserved_number",
			source: `syntax = "proto3"; message A { int32 a = 19500; }`,
			target: schema.ErrInvalidSchema,
		},
		{
			// Rejected by the .proto grammar itself; the descriptor path
			// reaches schema validation instead.
			name:   "float_map_key",
			source: `syntax = "proto3"; message A { map<float, string> m = 1; }`,
			text:   "failed to parse",
		},
		{
			name:   "duplicate_message",
			source: `syntax = "proto3"; message A {} message A {}`,
			target: ErrDuplicateSymbol,
		},
		{
			name:   "syntax_error",
			source: `syntax = "proto3"; message A { int32 = 1; }`,
			text:   "failed to parse",
		},
		{
			name:   "missing_import",
			source: `syntax = "proto3"; import "nowhere.proto";`,
			text:   "path does not exist",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			registry := NewRegistry()
			err := registry.LoadProtoSource("a.proto", strings.NewReader(tc.source))
			require.Error(t, err)
			if tc.target != nil {
				assert.True(t, errors.Is(err, tc.target), "error %v should wrap %v", err, tc.target)
			}
			if tc.text != "" {
				assert.Contains(t, err.Error(), tc.text)
			}
			assert.Empty(t, registry.ListMessages(), "a failed load must not register anything")
			assert.False(t, registry.HasFile("a.proto"))
		})
	}
}

func TestLoad_StagedRollback(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.LoadProtoSource("common.proto", strings.NewReader(commonProto)))
	before := registry.ListMessages()

	bad := `syntax = "proto3"; package acme.bad; message Good { int32 a = 1; } message Bad { Nope n = 1; }`
	require.Error(t, registry.LoadProtoSource("bad.proto", strings.NewReader(bad)))
	assert.Equal(t, before, registry.ListMessages())

	_, err := registry.GetMessage("acme.bad.Good")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAllowUnresolved(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	registry := NewRegistry(WithAllowUnresolved(), WithLogger(zap.New(core)))
	require.NoError(t, registry.LoadProtoSource("a.proto",
		strings.NewReader(`syntax = "proto3"; package p; message A { other.Missing m = 1; }`)))

	a, err := registry.GetMessage("p.A")
	require.NoError(t, err)
	m := a.FieldByName("m")
	assert.Equal(t, schema.KindMessage, m.Type.Kind)
	assert.Nil(t, m.Type.Message)
	assert.Equal(t, 1, logs.FilterMessageSnippet("unresolved type").Len())
}

func TestGetFullName(t *testing.T) {
	registry := NewRegistry()

	tests := []struct {
		pkg      string
		name     string
		expected string
	}{
		{"", "Message", "Message"},
		{"pkg", "Message", "pkg.Message"},
		{"com.example", "Message", "com.example.Message"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, registry.getFullName(test.pkg, test.name))
	}
}

func testRepo() *schema.ProtoRepo {
	return &schema.ProtoRepo{ProtoFiles: map[string]*schema.ProtoFile{
		"a.proto": {
			Package: "pkg",
			Messages: []*schema.Message{{
				Name: "TestMessage",
				Fields: []*schema.Field{
					{Name: "field1", Number: 1, Label: schema.LabelOptional,
						Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeString}},
					{Name: "state", Number: 2, Label: schema.LabelOptional,
						Type: schema.FieldType{Kind: schema.KindEnum, EnumType: "TestEnum"}},
				},
			}},
			Enums:    []*schema.Enum{{Name: "TestEnum", Values: []*schema.EnumValue{{Name: "VALUE1", Number: 0}}}},
			Services: []*schema.Service{{Name: "TestService", Methods: []*schema.Method{{Name: "Method1", InputType: "TestMessage", OutputType: ".pkg.TestMessage"}}}},
		},
		"b.proto": {
			Package:  "other",
			Messages: []*schema.Message{{Name: "TestMessage"}},
		},
	}}
}

func TestLoadRepo(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.LoadRepo(testRepo()))

	msg, err := registry.GetMessage("pkg.TestMessage")
	require.NoError(t, err)
	assert.Equal(t, "pkg.TestMessage", msg.FullName)
	assert.Equal(t, schema.SyntaxProto3, msg.Syntax, "hand-built files default to proto3")
	assert.Equal(t, "field1", msg.FieldByNumber(1).JsonName)

	state := msg.FieldByName("state")
	require.NotNil(t, state.Type.Enum)
	assert.Equal(t, "pkg.TestEnum", state.Type.EnumType)

	svc, err := registry.GetService("pkg.TestService")
	require.NoError(t, err)
	assert.Equal(t, "pkg.TestMessage", svc.Methods[0].InputType)
	assert.Equal(t, "pkg.TestMessage", svc.Methods[0].OutputType)

	err = registry.LoadRepo(&schema.ProtoRepo{ProtoFiles: map[string]*schema.ProtoFile{
		"c.proto": {Package: "pkg", Messages: []*schema.Message{{Name: "TestMessage"}}},
	}})
	assert.True(t, errors.Is(err, ErrDuplicateSymbol), "got %v", err)
}

func TestGetMessage(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.LoadRepo(testRepo()))

	_, err := registry.GetMessage("NonExistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "message not found")

	_, err = registry.GetMessage("TestMessage")
	assert.True(t, errors.Is(err, ErrAmbiguousName), "TestMessage is defined in two packages: %v", err)

	msg, err := registry.GetMessage(".other.TestMessage")
	require.NoError(t, err)
	assert.Equal(t, "other.TestMessage", msg.FullName)
}

func TestGetEnumAndService(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.LoadRepo(testRepo()))

	enum, err := registry.GetEnum("TestEnum")
	require.NoError(t, err)
	assert.Equal(t, "pkg.TestEnum", enum.FullName)

	_, err = registry.GetEnum("Missing")
	assert.Contains(t, err.Error(), "enum not found")

	_, err = registry.GetService("Missing")
	assert.Contains(t, err.Error(), "service not found")
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.LoadProtoSource("common.proto", strings.NewReader(commonProto)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				msg, err := registry.GetMessage("Money")
				if err != nil || msg.FieldByNumber(2) == nil {
					t.Errorf("GetMessage() = %v, %v", msg, err)
					return
				}
				_ = registry.ListMessages()
			}
		}()
	}
	require.NoError(t, registry.LoadProtoSource("legacy.proto", strings.NewReader(legacyProto)))
	wg.Wait()
}
