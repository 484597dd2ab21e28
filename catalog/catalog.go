// Package catalog flattens the per-server tool snapshots of a registry into
// the namespaced, model-facing function schema. A Catalog is a point-in-time
// view: build a fresh one per model turn and it stays consistent with
// whatever the registry held at that moment, collision-free because every
// tool is keyed by its server-qualified full name.
package catalog

import (
	"fmt"
	"sort"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// Catalog maps namespaced full names to tool descriptors.
type Catalog struct {
	byName map[string]core.ToolDescriptor
	names  []string
}

// Build flattens a server-to-tools mapping into a Catalog. The map key is
// authoritative for the server name; descriptors are re-stamped with it so a
// stale Server field cannot leak through.
func Build(tools map[string][]core.ToolDescriptor) *Catalog {
	c := &Catalog{byName: make(map[string]core.ToolDescriptor)}

	for server, descs := range tools {
		for _, d := range descs {
			d.Server = server
			c.byName[core.JoinToolName(server, d.Name)] = d
		}
	}

	c.names = make([]string, 0, len(c.byName))
	for name := range c.byName {
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	return c
}

// Len returns the number of namespaced tools.
func (c *Catalog) Len() int { return len(c.names) }

// Names returns the namespaced full names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Get returns the descriptor registered under a namespaced full name.
func (c *Catalog) Get(full string) (core.ToolDescriptor, bool) {
	d, ok := c.byName[full]
	return d, ok
}

// Resolve maps a model-produced tool name back to its server and tool
// parts. The first separator wins. A name without any separator is accepted
// when exactly one server advertises a tool of that bare name; an ambiguous
// or unknown bare name resolves to false rather than guessing.
func (c *Catalog) Resolve(full string) (server, tool string, ok bool) {
	if server, tool, ok = core.SplitToolName(full); ok {
		return server, tool, true
	}

	var match core.ToolDescriptor
	found := 0

	for _, name := range c.names {
		if d := c.byName[name]; d.Name == full {
			match = d
			found++
		}
	}

	if found == 1 {
		return match.Server, match.Name, true
	}

	return "", "", false
}

// Definitions renders the catalog as function-calling tool definitions in
// sorted name order. A descriptor without an input schema degrades to an
// empty object schema and a missing description to a generated one, since
// providers reject empty fields.
func (c *Catalog) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(c.names))

	for _, name := range c.names {
		d := c.byName[name]

		schema := d.InputSchema
		if schema == nil {
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []any{},
			}
		}

		description := d.Description
		if description == "" {
			description = fmt.Sprintf("Tool %s from %s", d.Name, d.Server)
		}

		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  schema,
			},
		})
	}

	return defs
}
