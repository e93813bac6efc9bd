// Package chat implements the assistant's chat flow: one agent step that
// answers from history, parks write tool calls for approval, and renders the
// final message into blocks for the client.
package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/llm"
)

// DefaultAgent is used for entity classes without a mapping.
const DefaultAgent = "default"

// Profile is a named agent: its instructions and the tools it may call.
type Profile struct {
	Name         string
	Instructions string
	Tools        *llm.ToolRegistry
}

// Directory maps entity classes to agent profiles.
type Directory struct {
	profiles map[string]Profile
	mapping  map[string]string
}

// NewDirectory builds a directory. A profile named DefaultAgent is required,
// and every mapping target must name a registered profile.
func NewDirectory(mapping map[string]string, profiles ...Profile) (*Directory, error) {
	d := &Directory{
		profiles: make(map[string]Profile, len(profiles)),
		mapping:  make(map[string]string, len(mapping)),
	}
	for _, p := range profiles {
		if p.Name == "" {
			return nil, domain.ErrConfigInvalid.WithMessage("agent profile name is required")
		}
		if _, dup := d.profiles[p.Name]; dup {
			return nil, domain.ErrConfigInvalid.WithMessage(fmt.Sprintf("agent %q registered twice", p.Name))
		}
		d.profiles[p.Name] = p
	}
	if _, ok := d.profiles[DefaultAgent]; !ok {
		return nil, domain.ErrConfigInvalid.WithMessage("agent \"default\" is required")
	}
	for class, name := range mapping {
		if _, ok := d.profiles[name]; !ok {
			return nil, domain.ErrConfigInvalid.WithMessage(fmt.Sprintf("class %q maps to unknown agent %q", class, name))
		}
		d.mapping[strings.ToLower(class)] = name
	}
	return d, nil
}

// For returns the profile serving an entity class. Classes match
// case-insensitively.
func (d *Directory) For(class string) Profile {
	if name, ok := d.mapping[strings.ToLower(class)]; ok {
		return d.profiles[name]
	}
	return d.profiles[DefaultAgent]
}

// Names lists the registered agents.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.profiles))
	for n := range d.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
