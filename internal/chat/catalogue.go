package chat

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/llm"
)

// Catalogue holds every tool the deployment offers. Profiles pick from it by
// name.
type Catalogue struct {
	tools map[string]llm.Tool
}

// NewCatalogue indexes tools by their spec name.
func NewCatalogue(tools ...llm.Tool) *Catalogue {
	c := &Catalogue{tools: make(map[string]llm.Tool, len(tools))}
	for _, t := range tools {
		c.tools[t.Spec().Name] = t
	}
	return c
}

// Registry builds a tool registry holding the named tools.
func (c *Catalogue) Registry(names []string) (*llm.ToolRegistry, error) {
	picked := make([]llm.Tool, 0, len(names))
	for _, n := range names {
		t, ok := c.tools[n]
		if !ok {
			return nil, domain.ErrConfigInvalid.WithMessage(fmt.Sprintf("unknown tool %q, known tools: %v", n, c.Names()))
		}
		picked = append(picked, t)
	}
	reg, err := llm.NewToolRegistry(picked...)
	if err != nil {
		return nil, domain.ErrConfigInvalid.Wrap(err)
	}
	return reg, nil
}

// Profile builds a named profile from the catalogue.
func (c *Catalogue) Profile(name, instructions string, tools []string) (Profile, error) {
	reg, err := c.Registry(tools)
	if err != nil {
		return Profile{}, fmt.Errorf("agent %s: %w", name, err)
	}
	return Profile{Name: name, Instructions: instructions, Tools: reg}, nil
}

// Names lists the catalogue's tools.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.tools))
	for n := range c.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PatternLinker renders entity links from a pattern such as
// "/admin/{class}/{id}". An empty pattern yields a nil Linker.
func PatternLinker(pattern string) Linker {
	if pattern == "" {
		return nil
	}
	return func(class string, id int64) string {
		r := strings.NewReplacer("{class}", strings.ToLower(class), "{id}", strconv.FormatInt(id, 10))
		return r.Replace(pattern)
	}
}
