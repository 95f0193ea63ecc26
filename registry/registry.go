// Package registry resolves protobuf schemas from .proto sources, descriptor
// sets and hand-built tables, and looks them up by name.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/anirudhraja/protocodec/schema"
)

var (
	// ErrNotFound is returned by the Get methods for names that are not
	// registered.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousName is returned when a short name matches more than one
	// registered symbol.
	ErrAmbiguousName = errors.New("ambiguous name")

	// ErrDuplicateSymbol is returned when two files define the same fully
	// qualified name.
	ErrDuplicateSymbol = errors.New("duplicate symbol")
)

// Registry allows us to store the schema of the protobuf messages. We look
// this up when we need to parse or marshal a message.
//
// A Registry is safe for concurrent use. Every load is staged: it either
// succeeds as a whole or leaves the registry as it was.
type Registry struct {
	logger           *zap.Logger
	protoDirectories []string
	allowUnresolved  bool

	mu       sync.RWMutex
	repo     *schema.ProtoRepo
	messages map[string]*schema.Message // fully qualified name -> message
	enums    map[string]*schema.Enum    // fully qualified name -> enum
	services map[string]*schema.Service // fully qualified name -> service
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProtoDirectories adds directories searched, in order, for .proto files
// and their imports.
func WithProtoDirectories(dirs ...string) Option {
	return func(r *Registry) {
		r.protoDirectories = append(r.protoDirectories, dirs...)
	}
}

// WithAllowUnresolved keeps loading when a field names a type that no loaded
// file defines. Such fields are treated as messages of unknown shape and
// carried as raw bytes by the codec.
func WithAllowUnresolved() Option {
	return func(r *Registry) {
		r.allowUnresolved = true
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:   zap.NewNop(),
		repo:     &schema.ProtoRepo{ProtoFiles: make(map[string]*schema.ProtoFile)},
		messages: make(map[string]*schema.Message),
		enums:    make(map[string]*schema.Enum),
		services: make(map[string]*schema.Service),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProtoDirectories returns the configured search directories.
func (r *Registry) ProtoDirectories() []string {
	return append([]string(nil), r.protoDirectories...)
}

// LoadRepo registers the files of a hand-built repository. Files without a
// syntax are treated as proto3.
func (r *Registry) LoadRepo(repo *schema.ProtoRepo) error {
	if repo == nil {
		return nil
	}
	names := make([]string, 0, len(repo.ProtoFiles))
	for name := range repo.ProtoFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]*schema.ProtoFile, 0, len(names))
	for _, name := range names {
		f := repo.ProtoFiles[name]
		if f.Name == "" {
			f.Name = name
		}
		if f.Syntax == "" {
			f.Syntax = schema.SyntaxProto3
		}
		files = append(files, f)
	}
	return r.commit(files)
}

// Repo returns the loaded files keyed by name.
func (r *Registry) Repo() *schema.ProtoRepo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &schema.ProtoRepo{ProtoFiles: make(map[string]*schema.ProtoFile, len(r.repo.ProtoFiles))}
	for k, v := range r.repo.ProtoFiles {
		out.ProtoFiles[k] = v
	}
	return out
}

// HasFile reports whether a file of that name has been loaded.
func (r *Registry) HasFile(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.repo.ProtoFiles[name]
	return ok
}

// commit links files against the registry and everything already loaded,
// then publishes them. Files whose name is already loaded are skipped.
func (r *Registry) commit(files []*schema.ProtoFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.newStage()
	var added []*schema.ProtoFile
	for _, f := range files {
		if _, ok := st.files[f.Name]; ok {
			r.logger.Debug("proto file already loaded", zap.String("file", f.Name))
			continue
		}
		if err := st.register(f); err != nil {
			return fmt.Errorf("failed to register %s: %w", f.Name, err)
		}
		added = append(added, f)
	}
	for _, f := range added {
		if err := st.link(f); err != nil {
			return fmt.Errorf("failed to link %s: %w", f.Name, err)
		}
	}

	r.repo.ProtoFiles = st.files
	r.messages, r.enums, r.services = st.messages, st.enums, st.services
	for _, f := range added {
		r.logger.Debug("loaded proto file",
			zap.String("file", f.Name),
			zap.String("package", f.Package),
			zap.String("syntax", f.Syntax),
			zap.Int("messages", len(f.Messages)))
	}
	return nil
}

func (r *Registry) getFullName(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// GetMessage retrieves a message definition by fully qualified name, or by a
// dotted suffix of it that only one registered message has.
func (r *Registry) GetMessage(name string) (*schema.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.messages, name, "message")
}

// GetEnum retrieves an enum definition by name
func (r *Registry) GetEnum(name string) (*schema.Enum, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.enums, name, "enum")
}

// GetService retrieves a service definition by name
func (r *Registry) GetService(name string) (*schema.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.services, name, "service")
}

func lookup[T any](symbols map[string]T, name, kind string) (T, error) {
	var zero T
	name = strings.TrimPrefix(name, ".")
	if v, exists := symbols[name]; exists {
		return v, nil
	}

	// Try without package prefix
	var (
		match   T
		matches []string
	)
	for fullName, v := range symbols {
		if strings.HasSuffix(fullName, "."+name) {
			match = v
			matches = append(matches, fullName)
		}
	}
	switch len(matches) {
	case 0:
		return zero, fmt.Errorf("%s %w: %s", kind, ErrNotFound, name)
	case 1:
		return match, nil
	}
	sort.Strings(matches)
	return zero, fmt.Errorf("%w: %s %s matches %s", ErrAmbiguousName, kind, name, strings.Join(matches, ", "))
}

// ListMessages returns all registered message names, sorted.
func (r *Registry) ListMessages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.messages)
}

// ListEnums returns all registered enum names, sorted.
func (r *Registry) ListEnums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.enums)
}

// ListServices returns all registered service names, sorted.
func (r *Registry) ListServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.services)
}

func sortedKeys[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
