package prefstore

import (
	"fmt"
	"sort"
)

// Definition declares a preference by schema rather than by Go type.
// Definitions back the HTTP API and the CLI, which work with untyped Values.
type Definition struct {
	// Key is the unique storage key of the preference.
	Key string `json:"key"`
	// Kind is the primitive kind stored under Key.
	Kind Kind `json:"kind"`
	// Default is returned while nothing is stored. Its Kind must equal Kind.
	Default Value `json:"default"`
	// Group optionally names the feature area the preference belongs to.
	Group string `json:"group,omitempty"`
	// Description is free text for listings.
	Description string `json:"description,omitempty"`
	// AllowedValues, if provided, restricts the preference's value to one of these items.
	// Stored values outside the list read as Default.
	AllowedValues []Value `json:"allowed_values,omitempty"`
	// ValidateFunc is an optional custom check run on Set after the kind and
	// AllowedValues checks.
	ValidateFunc func(Value) error `json:"-"`
}

// Validate checks a value against the definition.
func (d Definition) Validate(v Value) error {
	if v.Kind != d.Kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidValue, d.Kind, v.Kind)
	}
	if len(d.AllowedValues) > 0 {
		found := false
		for _, allowed := range d.AllowedValues {
			if v.Equal(allowed) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s not in allowed values", ErrInvalidValue, v)
		}
	}
	if d.ValidateFunc != nil {
		if err := d.ValidateFunc(v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
	}
	return nil
}

func (d Definition) codec() Codec[Value] {
	return Codec[Value]{
		Encode: func(v Value) (Value, error) {
			if err := d.Validate(v); err != nil {
				return Value{}, err
			}
			return v, nil
		},
		Decode: func(v Value) (Value, error) {
			if v.Kind != d.Kind {
				return Value{}, kindMismatch(d.Kind, v)
			}
			if err := d.Validate(v); err != nil {
				return Value{}, fmt.Errorf("%w: %w", ErrDecode, err)
			}
			return v, nil
		},
	}
}

// Define registers a definition and returns its preference handle.
func (s *Store) Define(def Definition) (*Preference[Value], error) {
	if def.Key == "" {
		return nil, ErrInvalidKey
	}
	if !def.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, def.Kind)
	}
	if def.Default.Kind == "" {
		def.Default = zeroValue(def.Kind)
	}
	if err := def.Validate(def.Default); err != nil {
		return nil, fmt.Errorf("default for %q: %w", def.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.definitions[def.Key]; exists {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyDefined, def.Key)
	}
	s.definitions[def.Key] = def
	return newPreference(s, def.Key, def.Default, def.codec()), nil
}

// Definition returns the definition registered for key.
func (s *Store) Definition(key string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[key]
	return def, ok
}

// Definitions returns all registered definitions ordered by key.
func (s *Store) Definitions() []Definition {
	s.mu.RLock()
	defs := make([]Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		defs = append(defs, def)
	}
	s.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs
}

// Preference returns a handle for a defined key, or ErrNotFound if key was never defined.
func (s *Store) Preference(key string) (*Preference[Value], error) {
	def, ok := s.Definition(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not defined", ErrNotFound, key)
	}
	return newPreference(s, def.Key, def.Default, def.codec()), nil
}

func zeroValue(kind Kind) Value {
	switch kind {
	case KindString:
		return StringValue("")
	case KindBool:
		return BoolValue(false)
	case KindInt:
		return IntValue(0)
	case KindFloat:
		return FloatValue(0)
	case KindStringSet:
		return StringSetValue(nil)
	}
	return Value{}
}
