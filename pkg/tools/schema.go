// Package tools executes LLM-requested tool calls against MCP servers:
// schema resolution, argument shaping, approval gating, dispatch with
// progress relay, and result normalization. Execution never raises — every
// failure is encoded in the returned ToolResult.
package tools

import (
	"context"
	"encoding/json"

	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/mcp"
)

// CanvasToolName is the pseudo-tool rendered client-side; it never reaches
// an MCP server and is always authorized.
const CanvasToolName = "canvas_canvas"

// toolSchema is the resolved schema for one qualified tool name.
type toolSchema struct {
	server     string
	tool       string
	definition llm.ToolDefinition
	// properties lists the schema's declared parameter names; nil when the
	// schema could not be resolved.
	properties []string
}

func (s *toolSchema) hasProperty(name string) bool {
	for _, p := range s.properties {
		if p == name {
			return true
		}
	}
	return false
}

// resolveSchemas looks up the selected qualified tool names against the MCP
// servers' advertised tools. Unresolvable names still produce an entry with
// nil properties so the call can proceed schema-less.
func (e *Executor) resolveSchemas(ctx context.Context, selected []string) map[string]*toolSchema {
	schemas := make(map[string]*toolSchema, len(selected))
	var serverNames []string
	if e.client != nil {
		serverNames = e.client.ServerNames()
	}

	for _, qualified := range selected {
		if qualified == CanvasToolName {
			schemas[qualified] = canvasSchema()
			continue
		}
		if e.client == nil {
			e.logger.Warn("No MCP client configured, cannot route tool", "tool", qualified)
			continue
		}
		server, tool, err := mcp.SplitQualifiedTool(qualified, serverNames)
		if err != nil {
			e.logger.Warn("Cannot route tool name", "tool", qualified, "error", err)
			continue
		}
		entry := &toolSchema{server: server, tool: tool}
		schemas[qualified] = entry

		tools, err := e.client.ListTools(ctx, server)
		if err != nil {
			e.logger.Warn("Tool schema unavailable, dispatching without filtering",
				"server", server, "tool", tool, "error", err)
			entry.definition = llm.ToolDefinition{Name: qualified, Parameters: looseObjectSchema()}
			continue
		}
		for _, t := range tools {
			if t.Name != tool {
				continue
			}
			params, props := decodeSchema(t.InputSchema)
			entry.definition = llm.ToolDefinition{
				Name:        qualified,
				Description: t.Description,
				Parameters:  params,
			}
			entry.properties = props
			break
		}
		if entry.definition.Name == "" {
			e.logger.Warn("Tool not advertised by server", "server", server, "tool", tool)
			entry.definition = llm.ToolDefinition{Name: qualified, Parameters: looseObjectSchema()}
		}
	}
	return schemas
}

// GetToolsSchema returns LLM tool definitions for the selected qualified
// names, in selection order.
func (e *Executor) GetToolsSchema(ctx context.Context, selected []string) []llm.ToolDefinition {
	schemas := e.resolveSchemas(ctx, selected)
	defs := make([]llm.ToolDefinition, 0, len(selected))
	for _, name := range selected {
		if entry, ok := schemas[name]; ok {
			defs = append(defs, entry.definition)
		}
	}
	return defs
}

// decodeSchema flattens an MCP input schema into the generic mapping the LLM
// provider expects, extracting the declared property names along the way.
func decodeSchema(schema any) (map[string]any, []string) {
	if schema == nil {
		return looseObjectSchema(), nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return looseObjectSchema(), nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return looseObjectSchema(), nil
	}

	var props []string
	if properties, ok := params["properties"].(map[string]any); ok {
		props = make([]string, 0, len(properties))
		for name := range properties {
			props = append(props, name)
		}
	}
	return params, props
}

func looseObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func canvasSchema() *toolSchema {
	return &toolSchema{
		tool: CanvasToolName,
		definition: llm.ToolDefinition{
			Name:        CanvasToolName,
			Description: "Render content in the client's canvas panel.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":      map[string]any{"type": "string", "description": "Content to render."},
					"content_type": map[string]any{"type": "string", "description": "Content type, e.g. markdown or html."},
				},
				"required": []any{"content"},
			},
		},
		properties: []string{"content", "content_type"},
	}
}

// schemaSummary builds the compact parameter listing shown in approval
// prompts.
func schemaSummary(schema *toolSchema) map[string]any {
	if schema == nil || len(schema.properties) == 0 {
		return map[string]any{}
	}
	summary := make(map[string]any, len(schema.properties))
	properties, _ := schema.definition.Parameters["properties"].(map[string]any)
	for _, name := range schema.properties {
		desc := ""
		if prop, ok := properties[name].(map[string]any); ok {
			desc, _ = prop["description"].(string)
		}
		summary[name] = desc
	}
	return summary
}
