package search

import (
	"fmt"
	"strings"
)

// Preset names a fixed field set.
type Preset string

// Field presets. The mapping below is part of the public contract:
//
//	minimal   id
//	essential id, self, key, fields
//	standard  id, self, key, fields, summary, status, assignee, reporter, created, updated
//	all       *all (no restriction)
const (
	PresetMinimal   Preset = "minimal"
	PresetEssential Preset = "essential"
	PresetStandard  Preset = "standard"
	PresetAll       Preset = "all"
)

// WildcardAll asks the server not to restrict fields.
const WildcardAll = "*all"

var presetFields = map[Preset][]string{
	PresetMinimal:   {"id"},
	PresetEssential: {"id", "self", "key", "fields"},
	PresetStandard:  {"id", "self", "key", "fields", "summary", "status", "assignee", "reporter", "created", "updated"},
	PresetAll:       {WildcardAll},
}

// PresetFields returns a copy of the field list for p.
func PresetFields(p Preset) ([]string, bool) {
	fields, ok := presetFields[p]
	if !ok {
		return nil, false
	}
	return append([]string(nil), fields...), true
}

// ParsePreset parses a preset name.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := presetFields[p]; !ok {
		return "", fmt.Errorf("unknown field preset %q", s)
	}
	return p, nil
}

// FieldSelection is the set of fields a search asks for.
// The zero value selects nothing, leaving the choice to the protocol default.
type FieldSelection struct {
	preset Preset
	fields []string
}

// DefaultFields is the empty selection.
func DefaultFields() FieldSelection {
	return FieldSelection{}
}

// UsePreset selects a named preset.
func UsePreset(p Preset) FieldSelection {
	return FieldSelection{preset: p}
}

// Fields selects an explicit field list. It bypasses presets entirely and is sent
// as given, even when it omits fields a preset would include.
func Fields(names ...string) FieldSelection {
	fields := make([]string, len(names))
	copy(fields, names)
	return FieldSelection{fields: fields}
}

// IsDefault reports whether nothing was selected.
func (f FieldSelection) IsDefault() bool {
	return f.preset == "" && f.fields == nil
}

// Preset returns the selected preset, if any.
func (f FieldSelection) Preset() Preset {
	return f.preset
}

// resolve returns the concrete field list, validating explicit lists.
func (f FieldSelection) resolve() ([]string, error) {
	if f.preset != "" {
		fields, ok := PresetFields(f.preset)
		if !ok {
			return nil, &QueryError{Field: "fields", Message: fmt.Sprintf("unknown preset %q", f.preset)}
		}
		return fields, nil
	}
	if f.fields == nil {
		return nil, nil
	}
	if len(f.fields) == 0 {
		return nil, &QueryError{Field: "fields", Message: "explicit field list is empty"}
	}

	seen := make(map[string]struct{}, len(f.fields))
	out := make([]string, 0, len(f.fields))
	for i, name := range f.fields {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, &QueryError{Field: "fields", Message: fmt.Sprintf("entry %d is empty", i)}
		}
		if strings.Contains(name, ",") {
			return nil, &QueryError{Field: "fields", Message: fmt.Sprintf("entry %q contains a comma", name)}
		}
		if _, dup := seen[name]; dup {
			return nil, &QueryError{Field: "fields", Message: fmt.Sprintf("duplicate field %q", name)}
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if _, ok := seen[WildcardAll]; ok && len(out) > 1 {
		return nil, &QueryError{Field: "fields", Message: WildcardAll + " cannot be combined with named fields"}
	}
	return out, nil
}

// String renders the selection for logs.
func (f FieldSelection) String() string {
	switch {
	case f.preset != "":
		return "preset:" + string(f.preset)
	case f.fields != nil:
		return strings.Join(f.fields, ",")
	default:
		return "default"
	}
}
