// Package protocodec encodes and decodes protobuf messages from schemas loaded
// at run time, without generated code.
package protocodec

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/anirudhraja/protocodec/codec"
	"github.com/anirudhraja/protocodec/dynamic"
	"github.com/anirudhraja/protocodec/registry"
	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

// ===== SCHEMA-AWARE API =====

// Protocodec provides schema-aware protobuf operations without generated code
type Protocodec struct {
	registry *registry.Registry
	config   codec.Config
}

type options struct {
	protoDirectories []string
	config           codec.Config
	logger           *zap.Logger
	allowUnresolved  bool
}

// Option configures New.
type Option func(*options)

// WithProtoDirectories adds directories searched for .proto files and their
// imports.
func WithProtoDirectories(dirs ...string) Option {
	return func(o *options) { o.protoDirectories = append(o.protoDirectories, dirs...) }
}

// WithConfig sets the codec behaviors. The default is codec.DefaultConfig.
func WithConfig(cfg codec.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger sets the logger used by schema loading.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAllowUnresolved loads schemas that reference undefined types. Fields
// of those types decode as raw bytes.
func WithAllowUnresolved() Option {
	return func(o *options) { o.allowUnresolved = true }
}

// New creates a new Protocodec instance
func New(opts ...Option) *Protocodec {
	o := options{config: codec.DefaultConfig(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	regOpts := []registry.Option{
		registry.WithLogger(o.logger),
		registry.WithProtoDirectories(o.protoDirectories...),
	}
	if o.allowUnresolved {
		regOpts = append(regOpts, registry.WithAllowUnresolved())
	}
	return &Protocodec{
		registry: registry.NewRegistry(regOpts...),
		config:   o.config,
	}
}

// LoadRepo loads a protobuf repository (collection of .proto files)
func (p *Protocodec) LoadRepo(repo *schema.ProtoRepo) error {
	return p.registry.LoadRepo(repo)
}

// LoadSchema loads a .proto file or every .proto file under a directory.
func (p *Protocodec) LoadSchema(path string) error {
	return p.registry.LoadSchema(path)
}

// LoadSchemaFromFile loads a .proto file, found in the proto directories or
// at the given path, along with everything it imports.
func (p *Protocodec) LoadSchemaFromFile(protoPath string) error {
	return p.registry.LoadSchemaFromFile(protoPath)
}

// LoadDescriptorSet loads a serialized google.protobuf.FileDescriptorSet.
func (p *Protocodec) LoadDescriptorSet(data []byte) error {
	return p.registry.LoadFileDescriptorSetBytes(data)
}

// LoadWellKnown loads the google.protobuf well-known types.
func (p *Protocodec) LoadWellKnown() error {
	return p.registry.LoadWellKnown()
}

// Message returns the schema of messageType.
func (p *Protocodec) Message(messageType string) (*schema.Message, error) {
	return p.registry.GetMessage(messageType)
}

// Decode decodes protobuf bytes as a message of messageType.
func (p *Protocodec) Decode(data []byte, messageType string) (*dynamic.Message, error) {
	md, err := p.registry.GetMessage(messageType)
	if err != nil {
		return nil, err
	}
	return p.config.UnmarshalOptions().Unmarshal(data, md)
}

// Parse decodes protobuf bytes using schema-aware decoder
func (p *Protocodec) Parse(data []byte, messageType string) (map[string]any, error) {
	m, err := p.Decode(data, messageType)
	if err != nil {
		return nil, err
	}
	return dynamic.ToMap(m, p.config.MapOptions()), nil
}

// Encode encodes a message built against a loaded schema.
func (p *Protocodec) Encode(m *dynamic.Message) ([]byte, error) {
	return p.config.MarshalOptions().Marshal(m)
}

// Marshal encodes a map to protobuf bytes using schema information
func (p *Protocodec) Marshal(data map[string]any, messageType string) ([]byte, error) {
	md, err := p.registry.GetMessage(messageType)
	if err != nil {
		return nil, err
	}
	m, err := dynamic.FromMap(md, data)
	if err != nil {
		return nil, err
	}
	return p.Encode(m)
}

// Verify checks that every value of m fits its field.
func (p *Protocodec) Verify(m *dynamic.Message) error {
	return dynamic.Verify(m)
}

// NamedMessage is implemented by Unmarshal targets whose Go type name is not
// the message name.
type NamedMessage interface {
	ProtoMessageName() string
}

// Unmarshal decodes protobuf bytes into a Go struct using reflection. The
// message type is the struct's type name unless v implements NamedMessage.
//
// Struct fields are matched by a `protobuf:"name"` tag, then a `json` tag,
// then by their snake_case name. Nested messages fill struct or pointer fields,
// repeated fields fill slices and map fields fill maps.
func (p *Protocodec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("unmarshal target must be a pointer to struct")
	}

	messageType := rv.Elem().Type().Name()
	if named, ok := v.(NamedMessage); ok {
		messageType = named.ProtoMessageName()
	}
	m, err := p.Decode(data, messageType)
	if err != nil {
		return err
	}
	opts := p.config.MapOptions()
	opts.UseJSONNames = false
	return mapToStruct(dynamic.ToMap(m, opts), rv.Elem())
}

// mapToStruct maps parsed result to struct fields
func mapToStruct(data map[string]any, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)

		if !fieldValue.CanSet() {
			continue
		}

		value, ok := lookupField(data, field)
		if !ok {
			continue
		}
		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("failed to set field %s: %v", field.Name, err)
		}
	}
	return nil
}

func lookupField(data map[string]any, field reflect.StructField) (any, bool) {
	for _, key := range []string{protobufTagName(field.Tag.Get("protobuf")), tagName(field.Tag.Get("json"))} {
		if key == "" || key == "-" {
			continue
		}
		if v, ok := data[key]; ok {
			return v, true
		}
	}
	if v, ok := data[toSnakeCase(field.Name)]; ok {
		return v, true
	}
	for key, v := range data {
		if strings.EqualFold(strings.ReplaceAll(key, "_", ""), field.Name) {
			return v, true
		}
	}
	return nil, false
}

// protobufTagName accepts both a bare name and the generated
// "bytes,1,opt,name=foo" form.
func protobufTagName(tag string) string {
	for _, part := range strings.Split(tag, ",") {
		if name, ok := strings.CutPrefix(part, "name="); ok {
			return name
		}
	}
	return tagName(tag)
}

func tagName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// setFieldValue sets a struct field with type conversion
func setFieldValue(fieldValue reflect.Value, value any) error {
	if value == nil {
		return nil
	}

	switch fieldValue.Kind() {
	case reflect.Ptr:
		elem := reflect.New(fieldValue.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		fieldValue.Set(elem)
		return nil
	case reflect.Struct:
		sub, ok := value.(map[string]any)
		if !ok {
			break
		}
		return mapToStruct(sub, fieldValue)
	case reflect.Slice:
		list, ok := value.([]any)
		if !ok {
			break
		}
		out := reflect.MakeSlice(fieldValue.Type(), len(list), len(list))
		for i, e := range list {
			if err := setFieldValue(out.Index(i), e); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		fieldValue.Set(out)
		return nil
	case reflect.Map:
		mt := fieldValue.Type()
		out := reflect.MakeMap(mt)
		var err error
		setEntry := func(k, v any) {
			if err != nil {
				return
			}
			key := reflect.New(mt.Key()).Elem()
			if err = setFieldValue(key, k); err != nil {
				return
			}
			val := reflect.New(mt.Elem()).Elem()
			if err = setFieldValue(val, v); err != nil {
				err = fmt.Errorf("key %v: %w", k, err)
				return
			}
			out.SetMapIndex(key, val)
		}
		switch mp := value.(type) {
		case map[any]any:
			for k, v := range mp {
				setEntry(k, v)
			}
		case map[string]any:
			for k, v := range mp {
				setEntry(k, v)
			}
		default:
			return fmt.Errorf("cannot convert %T to %s", value, mt)
		}
		if err != nil {
			return err
		}
		fieldValue.Set(out)
		return nil
	}

	sourceValue := reflect.ValueOf(value)
	if sourceValue.Type().AssignableTo(fieldValue.Type()) {
		fieldValue.Set(sourceValue)
		return nil
	}

	if convertible(sourceValue.Type(), fieldValue.Type()) {
		fieldValue.Set(sourceValue.Convert(fieldValue.Type()))
		return nil
	}

	return fmt.Errorf("cannot convert %T to %s", value, fieldValue.Type())
}

// convertible excludes the integer to string conversion reflect allows.
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	if to.Kind() == reflect.String {
		return from.Kind() == reflect.String || (from.Kind() == reflect.Slice && from.Elem().Kind() == reflect.Uint8)
	}
	return true
}

func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ===== SCHEMA-LESS API =====

// ParseRaw decodes data without a schema. Each field is keyed "field_<n>"
// and holds its wire type and value; fields seen more than once hold a list.
func (p *Protocodec) ParseRaw(data []byte) (map[string]any, error) {
	fields, err := wire.ParseRaw(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for _, f := range fields {
		key := fmt.Sprintf("field_%d", f.Number)
		entry := map[string]any{"type": f.WireType.String(), "value": f.Value()}
		switch prev := out[key].(type) {
		case nil:
			out[key] = entry
		case []any:
			out[key] = append(prev, entry)
		default:
			out[key] = []any{prev, entry}
		}
	}
	return out, nil
}

// ===== REGISTRY ACCESS =====

func (p *Protocodec) GetRegistry() *registry.Registry { return p.registry }
func (p *Protocodec) Config() codec.Config            { return p.config }
func (p *Protocodec) ListMessages() []string          { return p.registry.ListMessages() }
func (p *Protocodec) ListEnums() []string             { return p.registry.ListEnums() }
func (p *Protocodec) ListServices() []string          { return p.registry.ListServices() }
