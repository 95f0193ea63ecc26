package registry

import (
	"fmt"
	"strings"
)

// resolveName finds the symbol a type reference written inside scope points
// at. A leading dot makes the name fully qualified. Otherwise the first
// component of the name is searched from scope outwards to the root, and the
// remaining components must then exist under whatever it matched, which is
// how protoc resolves "Outer.Inner" style references.
func resolveName(name, scope string, symbols map[string]struct{}) (string, error) {
	if full, ok := strings.CutPrefix(name, "."); ok {
		if _, found := symbols[full]; found {
			return full, nil
		}
		return "", fmt.Errorf("unable to resolve fully qualified type name %s", name)
	}

	first, rest, compound := strings.Cut(name, ".")
	for s := scope; ; s = parentScope(s) {
		candidate := qualify(s, first)
		if _, found := symbols[candidate]; found {
			if !compound {
				return candidate, nil
			}
			if _, found := symbols[candidate+"."+rest]; found {
				return candidate + "." + rest, nil
			}
		}
		if s == "" {
			break
		}
	}
	// The first component may name a package rather than a symbol.
	if _, found := symbols[name]; found {
		return name, nil
	}
	return "", fmt.Errorf("unable to resolve type name %s from scope %s", name, scope)
}

func parentScope(scope string) string {
	if i := strings.LastIndexByte(scope, '.'); i >= 0 {
		return scope[:i]
	}
	return ""
}

func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}
