package chat

import (
	"encoding/base64"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/toolmesh/core"
)

// decodeCallResult converts a raw MCP tool result into the transport-neutral
// payload form. Content blocks keep their order; the server's own error flag
// travels inside the payload rather than failing the call, so the model sees
// exactly what the tool reported.
func decodeCallResult(res *mcp.CallToolResult) core.Payload {
	if res == nil {
		return core.StructuredPayload{}
	}

	// Tools with an output schema return their result as a plain structured
	// value; prefer it over the backwards-compatible text rendering. Error
	// results stay on the block path so the error flag survives.
	if res.StructuredContent != nil && !res.IsError {
		return core.NormalizeValue(res.StructuredContent)
	}

	blocks := make([]core.Block, 0, len(res.Content))
	for _, item := range res.Content {
		blocks = append(blocks, decodeContent(item))
	}

	return core.StructuredPayload{Blocks: blocks, IsError: res.IsError}
}

// decodeContent maps one MCP content item onto a payload block. Binary image
// data is carried as base64 text; content kinds without a structured mapping
// degrade to an opaque description instead of being dropped.
func decodeContent(item mcp.Content) core.Block {
	switch c := item.(type) {
	case *mcp.TextContent:
		return core.TextBlock{Text: c.Text}
	case *mcp.ImageContent:
		return core.ImageBlock{
			Data:     base64.StdEncoding.EncodeToString(c.Data),
			MimeType: c.MIMEType,
		}
	case *mcp.AudioContent:
		return core.OpaqueBlock{Data: fmt.Sprintf("audio (%s, %d bytes)", c.MIMEType, len(c.Data))}
	case *mcp.EmbeddedResource:
		if c.Resource == nil {
			return core.OpaqueBlock{Data: "resource"}
		}
		return core.ResourceBlock{
			URI:      c.Resource.URI,
			MimeType: c.Resource.MIMEType,
			Text:     c.Resource.Text,
		}
	default:
		return core.OpaqueBlock{Data: fmt.Sprintf("%v", item)}
	}
}

// serializeCallResult renders a raw MCP result into the canonical string
// form stored in tool messages. It never fails; see core.EncodePayload.
func serializeCallResult(res *mcp.CallToolResult) string {
	return core.EncodePayload(decodeCallResult(res))
}
