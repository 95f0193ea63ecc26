package schema

// FieldByNumber returns the field with the given number, or nil.
func (m *Message) FieldByNumber(n int32) *Field {
	m.buildIndex()
	return m.byNumber[n]
}

// FieldByName returns the field with the given proto or JSON name, or nil.
func (m *Message) FieldByName(name string) *Field {
	m.buildIndex()
	return m.byName[name]
}

// buildIndex runs once per message. Fields must not be appended after the
// first lookup.
func (m *Message) buildIndex() {
	m.indexOnce.Do(func() {
		m.byNumber = make(map[int32]*Field, len(m.Fields))
		m.byName = make(map[string]*Field, len(m.Fields)*2)
		for _, f := range m.Fields {
			if _, dup := m.byNumber[f.Number]; !dup {
				m.byNumber[f.Number] = f
			}
			m.byName[f.Name] = f
		}
		for _, f := range m.Fields {
			if f.JsonName != "" {
				if _, taken := m.byName[f.JsonName]; !taken {
					m.byName[f.JsonName] = f
				}
			}
		}
	})
}

// Oneof returns the oneof group called name, or nil.
func (m *Message) Oneof(name string) *Oneof {
	for _, o := range m.OneofGroups {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// OneofSiblings returns the other members of f's oneof.
func (m *Message) OneofSiblings(f *Field) []*Field {
	if f.Oneof == "" {
		return nil
	}
	var out []*Field
	for _, other := range m.Fields {
		if other != f && other.Oneof == f.Oneof {
			out = append(out, other)
		}
	}
	return out
}

// IsProto3 reports whether the message uses proto3 field semantics.
func (m *Message) IsProto3() bool {
	return m.Syntax == SyntaxProto3
}

// IsRepeated reports whether f holds a list. Map fields are not lists.
func (f *Field) IsRepeated() bool {
	return f.Label == LabelRepeated && f.Type.Kind != KindMap
}

// IsMap reports whether f is a map field.
func (f *Field) IsMap() bool {
	return f.Type.Kind == KindMap
}

// HasPresence reports whether f distinguishes "set to the zero value" from
// "not set" under the given syntax. Such fields are encoded whenever set.
func (f *Field) HasPresence(syntax string) bool {
	switch {
	case f.Label == LabelRepeated || f.Type.Kind == KindMap:
		return false
	case f.Type.Kind == KindMessage, f.Oneof != "":
		return true
	case syntax == SyntaxProto3:
		return f.Proto3Optional
	default:
		return true
	}
}

// IsPackable reports whether f may use the packed encoding.
func (f *Field) IsPackable() bool {
	if !f.IsRepeated() {
		return false
	}
	switch f.Type.Kind {
	case KindEnum:
		return true
	case KindPrimitive:
		return IsPackedType(f.Type.PrimitiveType)
	}
	return false
}

// IsPacked reports whether f is written packed by default: an explicit option
// wins, otherwise proto2 is unpacked and later syntaxes are packed.
func (f *Field) IsPacked(syntax string) bool {
	if !f.IsPackable() {
		return false
	}
	if f.Packed != nil {
		return *f.Packed
	}
	return syntax != SyntaxProto2 && syntax != ""
}
