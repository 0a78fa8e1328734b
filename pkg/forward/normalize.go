package forward

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// toolDescriptor is the wire shape of one capability in a tools/list
// response. Title defaults to the tool name and InputSchema to an empty
// object schema when the server leaves them out.
type toolDescriptor struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Title       string     `json:"title"`
	InputSchema toolSchema `json:"inputSchema"`
}

type toolSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

type toolListPayload struct {
	Tools []toolDescriptor `json:"tools"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callPayload struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

func normalizeTools(tools []mcp.Tool) toolListPayload {
	out := toolListPayload{Tools: make([]toolDescriptor, 0, len(tools))}

	for _, tool := range tools {
		desc := toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Title:       tool.Annotations.Title,
			InputSchema: normalizeSchema(tool.InputSchema),
		}

		if desc.Title == "" {
			desc.Title = tool.Name
		}

		out.Tools = append(out.Tools, desc)
	}

	return out
}

func normalizeSchema(schema mcp.ToolInputSchema) toolSchema {
	out := toolSchema{
		Type:       schema.Type,
		Properties: schema.Properties,
		Required:   schema.Required,
	}

	if out.Type == "" {
		out.Type = "object"
	}

	if out.Properties == nil {
		out.Properties = map[string]any{}
	}

	if out.Required == nil {
		out.Required = []string{}
	}

	return out
}

// normalizeCallResult coerces every content item into a {type, text} pair,
// stringifying anything that is not text content.
func normalizeCallResult(result *mcp.CallToolResult) callPayload {
	out := callPayload{
		Content: make([]contentItem, 0, len(result.Content)),
		IsError: result.IsError,
	}

	for _, item := range result.Content {
		out.Content = append(out.Content, normalizeContent(item))
	}

	if len(out.Content) == 0 {
		out.Content = append(out.Content, contentItem{Type: "text", Text: fmt.Sprintf("%v", result)})
	}

	return out
}

func normalizeContent(item mcp.Content) contentItem {
	switch c := item.(type) {
	case mcp.TextContent:
		return textItem(c)
	case *mcp.TextContent:
		return textItem(*c)
	default:
		return contentItem{Type: "text", Text: fmt.Sprintf("%v", item)}
	}
}

func textItem(c mcp.TextContent) contentItem {
	typ := c.Type
	if typ == "" {
		typ = "text"
	}

	return contentItem{Type: typ, Text: c.Text}
}
