package registry

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	protoparser "github.com/yoheimuta/go-protoparser/v4"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"
	"go.uber.org/zap"

	"github.com/anirudhraja/protocodec/schema"
)

const wellKnownPrefix = "google/protobuf/"

// LoadSchemaFromFile parses a .proto file and every file it imports. The file
// and its imports are looked up in the proto directories; a path that is not
// under any of them is also tried as given.
func (r *Registry) LoadSchemaFromFile(protoFile string) error {
	files, err := r.getAllProtoInfo([]string{protoFile}, nil, r.protoDirectories)
	if err != nil {
		return err
	}
	return r.commit(files)
}

// LoadSchema loads a single .proto file, or every .proto file under a
// directory. Files are named by their path relative to that directory, which
// joins the import search path for the load.
func (r *Registry) LoadSchema(protoPath string) error {
	info, err := os.Stat(protoPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		if !strings.HasSuffix(protoPath, ".proto") {
			return fmt.Errorf("file %s is not a .proto file", protoPath)
		}
		dirs := append([]string{filepath.Dir(protoPath)}, r.protoDirectories...)
		files, err := r.getAllProtoInfo([]string{filepath.Base(protoPath)}, nil, dirs)
		if err != nil {
			return err
		}
		return r.commit(files)
	}

	var names []string
	err = filepath.WalkDir(protoPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Skip directories and non-proto files
		if d.IsDir() || !strings.HasSuffix(p, ".proto") {
			return nil
		}
		rel, err := filepath.Rel(protoPath, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	dirs := append([]string{protoPath}, r.protoDirectories...)
	files, err := r.getAllProtoInfo(names, nil, dirs)
	if err != nil {
		return err
	}
	return r.commit(files)
}

// LoadProtoSource parses .proto text read from src and registers it as name.
// Its imports are looked up in the proto directories.
func (r *Registry) LoadProtoSource(name string, src io.Reader) error {
	content, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	files, err := r.getAllProtoInfo([]string{name}, content, r.protoDirectories)
	if err != nil {
		return err
	}
	return r.commit(files)
}

// getAllProtoInfo uses DFS to parse the roots and everything they import,
// searching dirs. Files are returned imports first. When content is nil the
// roots are read from disk, otherwise content is the source of the only root.
func (r *Registry) getAllProtoInfo(roots []string, content []byte, dirs []string) ([]*schema.ProtoFile, error) {
	visited := make(map[string]struct{}) // to make sure we don't end up in a loop
	result := make([]*schema.ProtoFile, 0)

	var dfs func(name string, content []byte) error
	dfs = func(name string, content []byte) error {
		if _, ok := visited[name]; ok {
			return nil
		}
		visited[name] = struct{}{}
		if r.HasFile(name) {
			return nil
		}

		if content == nil {
			fullPath, err := findIfProtoExists(name, dirs)
			if err != nil {
				return err
			}
			if content, err = os.ReadFile(fullPath); err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
		}
		if !hasSyntaxStatement(content) {
			// Kept on the first line so parser positions still match the file.
			content = append([]byte(`syntax = "proto2"; `), content...)
		}
		parsedBody, err := protoparser.Parse(bytes.NewReader(content), protoparser.WithFilename(name))
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", name, err)
		}
		f, err := r.convertProto(name, parsedBody)
		if err != nil {
			return fmt.Errorf("failed to convert %s: %w", name, err)
		}

		for _, imp := range f.Imports { // resolve relation for each import
			if strings.HasPrefix(imp.Path, wellKnownPrefix) && !hasProtoFile(imp.Path, dirs) {
				if err := r.addWellKnown(imp.Path, visited, &result); err != nil {
					return err
				}
				continue
			}
			if err := dfs(imp.Path, nil); err != nil {
				return fmt.Errorf("import %q of %s: %w", imp.Path, name, err)
			}
		}
		result = append(result, f)
		return nil
	}

	for _, root := range roots {
		if err := dfs(root, content); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// addWellKnown appends the built-in google/protobuf file at importPath and
// its dependencies.
func (r *Registry) addWellKnown(importPath string, visited map[string]struct{}, result *[]*schema.ProtoFile) error {
	if _, ok := visited[importPath]; ok || r.HasFile(importPath) {
		return nil
	}
	visited[importPath] = struct{}{}
	fdp, ok := builtinFile(importPath)
	if !ok {
		return fmt.Errorf("well-known import %s is not available", importPath)
	}
	for _, dep := range fdp.GetDependency() {
		if err := r.addWellKnown(dep, visited, result); err != nil {
			return err
		}
	}
	f, err := r.fromFileDescriptor(fdp)
	if err != nil {
		return err
	}
	*result = append(*result, f)
	return nil
}

// hasProtoFile reports whether a proto directory holds path, letting a
// checked-in copy of a well-known file take precedence.
func hasProtoFile(protoPath string, dirs []string) bool {
	for _, dir := range dirs {
		if _, err := os.Stat(path.Join(dir, protoPath)); err == nil {
			return true
		}
	}
	return false
}

func findIfProtoExists(protoPath string, dirs []string) (string, error) {
	var (
		fullPath      string
		fullProtoPath string
		err           error
	)
	protoPath = strings.Trim(protoPath, `"`)
	if !strings.HasSuffix(protoPath, ".proto") {
		return "", fmt.Errorf("%s is not a .proto file", protoPath)
	}
	for _, dir := range dirs {
		fullPath = filepath.Join(dir, filepath.FromSlash(protoPath))
		// Check if the path exists
		if _, err = os.Stat(fullPath); err == nil {
			fullProtoPath = fullPath
			break
		}
	}
	if fullProtoPath == "" {
		if _, err = os.Stat(protoPath); err == nil {
			return protoPath, nil
		}
		return "", fmt.Errorf("path does not exist: %s: %w", protoPath, err)
	}
	return fullProtoPath, nil
}

// hasSyntaxStatement reports whether the first token of a .proto source, past
// whitespace and comments, is syntax or edition. A file without one is proto2.
func hasSyntaxStatement(content []byte) bool {
	src := bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	for {
		src = bytes.TrimLeft(src, " \t\r\n\f\v")
		switch {
		case bytes.HasPrefix(src, []byte("//")):
			i := bytes.IndexByte(src, '\n')
			if i < 0 {
				return false
			}
			src = src[i+1:]
		case bytes.HasPrefix(src, []byte("/*")):
			i := bytes.Index(src[2:], []byte("*/"))
			if i < 0 {
				return false
			}
			src = src[i+4:]
		default:
			for _, kw := range []string{"syntax", "edition"} {
				if rest, ok := bytes.CutPrefix(src, []byte(kw)); ok && (len(rest) == 0 || !isIdentByte(rest[0])) {
					return true
				}
			}
			return false
		}
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// convertProto turns a parsed file into its schema form. Type names stay
// unresolved until the file is linked.
func (r *Registry) convertProto(name string, p *protoparserparser.Proto) (*schema.ProtoFile, error) {
	f := &schema.ProtoFile{Name: name, Syntax: schema.SyntaxProto2}
	if p.Syntax != nil && p.Syntax.ProtobufVersion != "" {
		f.Syntax = p.Syntax.ProtobufVersion
	}

	for _, body := range p.ProtoBody {
		switch b := body.(type) {
		case *protoparserparser.Package:
			f.Package = b.Name
		case *protoparserparser.Import:
			f.Imports = append(f.Imports, &schema.Import{
				Path:   strings.Trim(b.Location, `"'`),
				Public: b.Modifier == protoparserparser.ImportModifierPublic,
				Weak:   b.Modifier == protoparserparser.ImportModifierWeak,
			})
		case *protoparserparser.Message:
			msg, err := r.convertMessage(b, f.Syntax)
			if err != nil {
				return nil, err
			}
			f.Messages = append(f.Messages, msg)
		case *protoparserparser.Enum:
			enum, err := convertEnum(b)
			if err != nil {
				return nil, err
			}
			f.Enums = append(f.Enums, enum)
		case *protoparserparser.Service:
			f.Services = append(f.Services, convertService(b))
		case *protoparserparser.Extend:
			r.logger.Warn("extension skipped, its fields decode as unknown",
				zap.String("file", name), zap.String("extendee", b.MessageType))
		}
	}
	return f, nil
}

func (r *Registry) convertMessage(m *protoparserparser.Message, syntax string) (*schema.Message, error) {
	msg := &schema.Message{Name: m.MessageName, Syntax: syntax}

	for _, body := range m.MessageBody {
		switch b := body.(type) {
		case *protoparserparser.Field:
			field, err := newField(b.FieldName, b.FieldNumber, b.Type, b.FieldOptions)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.MessageName, err)
			}
			switch {
			case b.IsRepeated:
				field.Label = schema.LabelRepeated
			case b.IsRequired:
				field.Label = schema.LabelRequired
			case b.IsOptional && syntax == schema.SyntaxProto3:
				field.Proto3Optional = true
			}
			msg.Fields = append(msg.Fields, field)

		case *protoparserparser.MapField:
			field, err := newField(b.MapName, b.FieldNumber, b.Type, b.FieldOptions)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.MessageName, err)
			}
			value := field.Type
			field.Label = schema.LabelRepeated
			field.Type = schema.FieldType{
				Kind:     schema.KindMap,
				MapKey:   &schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.PrimitiveType(b.KeyType)},
				MapValue: &value,
			}
			msg.Fields = append(msg.Fields, field)

		case *protoparserparser.Oneof:
			group := &schema.Oneof{Name: b.OneofName}
			for _, of := range b.OneofFields {
				field, err := newField(of.FieldName, of.FieldNumber, of.Type, of.FieldOptions)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", m.MessageName, b.OneofName, err)
				}
				field.Oneof = b.OneofName
				group.Fields = append(group.Fields, field)
				msg.Fields = append(msg.Fields, field)
			}
			msg.OneofGroups = append(msg.OneofGroups, group)

		case *protoparserparser.Message:
			nested, err := r.convertMessage(b, syntax)
			if err != nil {
				return nil, err
			}
			msg.NestedTypes = append(msg.NestedTypes, nested)

		case *protoparserparser.Enum:
			enum, err := convertEnum(b)
			if err != nil {
				return nil, err
			}
			msg.NestedEnums = append(msg.NestedEnums, enum)

		case *protoparserparser.Extend:
			r.logger.Warn("extension skipped, its fields decode as unknown",
				zap.String("message", m.MessageName), zap.String("extendee", b.MessageType))

		case *protoparserparser.Reserved, *protoparserparser.Extensions,
			*protoparserparser.Option, *protoparserparser.EmptyStatement:

		default:
			// Groups land here; their wire types are rejected by the codec.
			r.logger.Warn("unsupported message element skipped",
				zap.String("message", m.MessageName), zap.String("element", fmt.Sprintf("%T", body)))
		}
	}
	return msg, nil
}

// newField builds an optional field of the named type and applies the
// options the codec uses.
func newField(name, number, typeName string, options []*protoparserparser.FieldOption) (*schema.Field, error) {
	n, err := strconv.ParseInt(number, 0, 32)
	if err != nil {
		return nil, fmt.Errorf("field %s: invalid number %q: %w", name, number, err)
	}
	field := &schema.Field{
		Name:   name,
		Number: int32(n),
		Label:  schema.LabelOptional,
		Type:   parseFieldType(typeName),
	}
	for _, opt := range options {
		switch opt.OptionName {
		case "packed":
			packed, err := strconv.ParseBool(opt.Constant)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid packed option %q", name, opt.Constant)
			}
			field.Packed = &packed
		case "default":
			field.DefaultValue = unquote(opt.Constant)
		case "json_name":
			field.JsonName = unquote(opt.Constant)
		}
	}
	return field, nil
}

// parseFieldType maps a scalar keyword to its primitive type. Any other name
// is taken as a message reference; linking decides whether it is an enum.
func parseFieldType(typeName string) schema.FieldType {
	if schema.IsPrimitiveType(typeName) {
		return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.PrimitiveType(typeName)}
	}
	return schema.FieldType{Kind: schema.KindMessage, MessageType: typeName}
}

func convertEnum(e *protoparserparser.Enum) (*schema.Enum, error) {
	enum := &schema.Enum{Name: e.EnumName}
	for _, body := range e.EnumBody {
		switch b := body.(type) {
		case *protoparserparser.EnumField:
			n, err := strconv.ParseInt(b.Number, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("enum %s: value %s: invalid number %q: %w", e.EnumName, b.Ident, b.Number, err)
			}
			enum.Values = append(enum.Values, &schema.EnumValue{Name: b.Ident, Number: int32(n)})
		case *protoparserparser.Option:
			if b.OptionName == "allow_alias" {
				enum.AllowAlias = b.Constant == "true"
			}
		}
	}
	return enum, nil
}

func convertService(s *protoparserparser.Service) *schema.Service {
	service := &schema.Service{Name: s.ServiceName}
	for _, body := range s.ServiceBody {
		rpc, ok := body.(*protoparserparser.RPC)
		if !ok {
			continue
		}
		m := &schema.Method{Name: rpc.RPCName}
		if rpc.RPCRequest != nil {
			m.InputType, m.ClientStreaming = rpc.RPCRequest.MessageType, rpc.RPCRequest.IsStream
		}
		if rpc.RPCResponse != nil {
			m.OutputType, m.ServerStreaming = rpc.RPCResponse.MessageType, rpc.RPCResponse.IsStream
		}
		service.Methods = append(service.Methods, m)
	}
	return service
}

// unquote strips the quotes go-protoparser keeps on string constants.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
		if q == '"' {
			if u, err := strconv.Unquote(s); err == nil {
				return u
			}
		}
		return s[1 : len(s)-1]
	}
	return s
}
