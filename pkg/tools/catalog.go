package tools

import (
	"fmt"
)

// Catalog holds the known tool definitions plus the runner bound to
// each query tool. Built once at startup; read-only afterwards.
type Catalog struct {
	queries  map[string]QueryToolDef
	searches map[string]SearchToolDef
	runners  map[string]QueryRunner
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		queries:  make(map[string]QueryToolDef),
		searches: make(map[string]SearchToolDef),
		runners:  make(map[string]QueryRunner),
	}
}

// RegisterQuery adds a query tool and its runner. Malformed
// definitions fail here so misconfiguration crashes at startup, not
// mid-incident.
func (c *Catalog) RegisterQuery(def QueryToolDef, runner QueryRunner) error {
	if def.Name == "" {
		return fmt.Errorf("query tool has no name: %w", ErrInvalidDefinition)
	}
	if runner == nil {
		return fmt.Errorf("query tool %q has no runner: %w", def.Name, ErrInvalidDefinition)
	}
	defined := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		switch p.Type {
		case "string", "number", "bool":
		default:
			return fmt.Errorf("query tool %q: param %q has unknown type %q: %w",
				def.Name, p.Name, p.Type, ErrInvalidDefinition)
		}
		defined[p.Name] = true
	}
	for _, m := range placeholderRE.FindAllStringSubmatch(def.Query, -1) {
		if !defined[m[1]] {
			return fmt.Errorf("query tool %q: placeholder ?%s undeclared: %w",
				def.Name, m[1], ErrInvalidDefinition)
		}
	}
	c.queries[def.Name] = def
	c.runners[def.Name] = runner
	return nil
}

// RegisterSearch adds a search tool.
func (c *Catalog) RegisterSearch(def SearchToolDef) error {
	if def.Name == "" {
		return fmt.Errorf("search tool has no name: %w", ErrInvalidDefinition)
	}
	if err := def.validate(); err != nil {
		return err
	}
	c.searches[def.Name] = def
	return nil
}

func (c *Catalog) queryTool(name string) (QueryToolDef, QueryRunner, error) {
	def, ok := c.queries[name]
	if !ok {
		return QueryToolDef{}, nil, fmt.Errorf("query tool %q: %w", name, ErrToolNotFound)
	}
	return def, c.runners[name], nil
}

func (c *Catalog) searchTool(name string) (SearchToolDef, error) {
	def, ok := c.searches[name]
	if !ok {
		return SearchToolDef{}, fmt.Errorf("search tool %q: %w", name, ErrToolNotFound)
	}
	return def, nil
}

// Names returns all registered tool names, for startup validation.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.queries)+len(c.searches))
	for name := range c.queries {
		names = append(names, name)
	}
	for name := range c.searches {
		names = append(names, name)
	}
	return names
}
