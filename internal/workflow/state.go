package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

type valueKind string

const (
	kindString valueKind = "string"
	kindInt    valueKind = "int"
	kindFloat  valueKind = "float"
	kindBool   valueKind = "bool"
	kindNull   valueKind = "null"
)

type entry struct {
	key    string
	kind   valueKind
	value  any
	locked bool
}

// State is the ordered set of primitive values a workflow needs to resume.
// It never holds live objects: entities are stored as a class tag and an id.
type State struct {
	entries []entry
	index   map[string]int
}

// NewState creates an empty state.
func NewState() *State {
	return &State{index: make(map[string]int)}
}

// Set stores a primitive value. Accepted types are string, bool, nil, the
// signed and unsigned integer types, float32 and float64.
func (s *State) Set(key string, v any) error {
	kind, norm, err := normalize(v)
	if err != nil {
		return domain.ErrInvalidState.WithMessage(fmt.Sprintf("state key %q: %v", key, err))
	}
	return s.put(key, kind, norm, false)
}

// Lock stores a value that can never be overwritten afterwards.
func (s *State) Lock(key string, v any) error {
	kind, norm, err := normalize(v)
	if err != nil {
		return domain.ErrInvalidState.WithMessage(fmt.Sprintf("state key %q: %v", key, err))
	}
	return s.put(key, kind, norm, true)
}

func (s *State) put(key string, kind valueKind, v any, lock bool) error {
	if i, ok := s.index[key]; ok {
		if s.entries[i].locked {
			return domain.ErrImmutableKey.WithMessage(fmt.Sprintf("state key %q is immutable", key))
		}
		s.entries[i] = entry{key: key, kind: kind, value: v, locked: lock}
		return nil
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, entry{key: key, kind: kind, value: v, locked: lock})
	return nil
}

// Get returns the raw value for key.
func (s *State) Get(key string) (any, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.entries[i].value, true
}

// String returns the string at key, or "" if absent or of another kind.
func (s *State) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Int returns the integer at key, or 0.
func (s *State) Int(key string) int64 {
	v, _ := s.Get(key)
	n, _ := v.(int64)
	return n
}

// Float returns the float at key, or 0.
func (s *State) Float(key string) float64 {
	v, _ := s.Get(key)
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

// Bool returns the bool at key, or false.
func (s *State) Bool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

// Locked reports whether key is immutable.
func (s *State) Locked(key string) bool {
	i, ok := s.index[key]
	return ok && s.entries[i].locked
}

// Keys returns the keys in insertion order.
func (s *State) Keys() []string {
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of keys.
func (s *State) Len() int { return len(s.entries) }

func normalize(v any) (valueKind, any, error) {
	switch n := v.(type) {
	case nil:
		return kindNull, nil, nil
	case string:
		return kindString, n, nil
	case bool:
		return kindBool, n, nil
	case int:
		return kindInt, int64(n), nil
	case int8:
		return kindInt, int64(n), nil
	case int16:
		return kindInt, int64(n), nil
	case int32:
		return kindInt, int64(n), nil
	case int64:
		return kindInt, n, nil
	case uint8:
		return kindInt, int64(n), nil
	case uint16:
		return kindInt, int64(n), nil
	case uint32:
		return kindInt, int64(n), nil
	case float32:
		return kindFloat, float64(n), nil
	case float64:
		return kindFloat, n, nil
	default:
		return "", nil, fmt.Errorf("unsupported type %T", v)
	}
}

type wireEntry struct {
	Key    string          `json:"k"`
	Kind   valueKind       `json:"t"`
	Value  json.RawMessage `json:"v"`
	Locked bool            `json:"locked,omitempty"`
}

// MarshalJSON encodes the state as an ordered list of typed entries.
func (s *State) MarshalJSON() ([]byte, error) {
	wire := make([]wireEntry, len(s.entries))
	for i, e := range s.entries {
		raw, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("encode state key %q: %w", e.key, err)
		}
		wire[i] = wireEntry{Key: e.key, Kind: e.kind, Value: raw, Locked: e.locked}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores a state written by MarshalJSON, kinds included.
func (s *State) UnmarshalJSON(b []byte) error {
	var wire []wireEntry
	if err := json.Unmarshal(b, &wire); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	restored := NewState()
	for _, w := range wire {
		var v any
		var err error
		switch w.Kind {
		case kindString:
			var str string
			err = json.Unmarshal(w.Value, &str)
			v = str
		case kindInt:
			var n int64
			err = json.Unmarshal(w.Value, &n)
			v = n
		case kindFloat:
			var f float64
			err = json.Unmarshal(w.Value, &f)
			v = f
		case kindBool:
			var bl bool
			err = json.Unmarshal(w.Value, &bl)
			v = bl
		case kindNull:
			v = nil
		default:
			err = fmt.Errorf("unknown kind %q", w.Kind)
		}
		if err != nil {
			return fmt.Errorf("decode state key %q: %w", w.Key, err)
		}
		if err := restored.put(w.Key, w.Kind, v, w.Locked); err != nil {
			return err
		}
	}
	*s = *restored
	return nil
}
