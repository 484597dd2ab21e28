package core

import (
	"encoding/json"
	"fmt"
)

// Payload is the canonical classification of a raw tool result, decided once
// at the serialization boundary. Concrete payload types implement the
// unexported isPayload marker enabling a closed set, so downstream code
// switches exhaustively instead of probing shapes at runtime.
type Payload interface{ isPayload() }

// ScalarPayload carries a plain value: a string (passed through verbatim when
// encoded) or any JSON-serializable value.
type ScalarPayload struct {
	Value any // Plain result value
}

// isPayload implements the Payload interface for ScalarPayload.
func (ScalarPayload) isPayload() {}

// StructuredPayload carries the ordered typed content blocks of a structured
// tool result plus the remote side's error flag.
type StructuredPayload struct {
	Blocks  []Block // Ordered heterogeneous content blocks
	IsError bool    // True when the remote tool reported an error result
}

// isPayload implements the Payload interface for StructuredPayload.
func (StructuredPayload) isPayload() {}

// OpaquePayload carries a best-effort textual rendering of a result that fits
// no other shape.
type OpaquePayload struct {
	Text string // Textual rendering of the original value
}

// isPayload implements the Payload interface for OpaquePayload.
func (OpaquePayload) isPayload() {}

// Block is one typed content segment of a structured result. Concrete block
// types implement the unexported isBlock marker enabling a closed set.
type Block interface{ isBlock() }

// TextBlock is a plain text content segment.
type TextBlock struct {
	Text string // Plain UTF-8 text
}

// isBlock implements the Block interface for TextBlock.
func (TextBlock) isBlock() {}

// ImageBlock is an inlined image content segment.
type ImageBlock struct {
	Data     string // Base64 encoded image bytes
	MimeType string // Image MIME type, e.g. image/png
}

// isBlock implements the Block interface for ImageBlock.
func (ImageBlock) isBlock() {}

// ResourceBlock references a server-side resource, optionally with inlined
// text contents.
type ResourceBlock struct {
	URI      string // Resource identifier
	MimeType string // Optional MIME type
	Text     string // Optional inlined text contents
}

// isBlock implements the Block interface for ResourceBlock.
func (ResourceBlock) isBlock() {}

// OpaqueBlock is the fallback for content segments of a kind this module does
// not model; it preserves a textual rendering so nothing is silently dropped.
type OpaqueBlock struct {
	Data string // Textual rendering of the original segment
}

// isBlock implements the Block interface for OpaqueBlock.
func (OpaqueBlock) isBlock() {}

// Wire records for the canonical JSON form of structured payloads.
type structuredRecord struct {
	Content []blockRecord `json:"content"`
	IsError bool          `json:"isError"`
}

type blockRecord struct {
	Type     string          `json:"type,omitempty"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Resource *resourceRecord `json:"resource,omitempty"`
}

type resourceRecord struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// NormalizeValue classifies a plain Go value into the payload union. Strings
// and JSON-serializable values become scalars; anything the JSON encoder
// rejects degrades to an opaque textual rendering.
func NormalizeValue(v any) Payload {
	if _, ok := v.(string); ok {
		return ScalarPayload{Value: v}
	}
	if _, err := json.Marshal(v); err != nil {
		return OpaquePayload{Text: fmt.Sprint(v)}
	}
	return ScalarPayload{Value: v}
}

// EncodePayload renders a payload into its canonical serialized form. It
// never fails: a value the encoder rejects yields a well-formed error payload
// instead of propagating.
func EncodePayload(p Payload) string {
	switch v := p.(type) {
	case ScalarPayload:
		if s, ok := v.Value.(string); ok {
			return s
		}
		return marshalPayload(v.Value)
	case StructuredPayload:
		rec := structuredRecord{Content: make([]blockRecord, 0, len(v.Blocks)), IsError: v.IsError}
		for _, b := range v.Blocks {
			rec.Content = append(rec.Content, encodeBlock(b))
		}
		return marshalPayload(rec)
	case OpaquePayload:
		return marshalPayload(map[string]string{"result": v.Text})
	default:
		return marshalPayload(map[string]string{"result": fmt.Sprint(p)})
	}
}

// DecodeStructured parses the canonical structured form back into typed
// blocks. It is the inverse of encoding a StructuredPayload and is used by
// consumers that need to re-materialize content blocks from transport.
func DecodeStructured(s string) (StructuredPayload, error) {
	var rec structuredRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return StructuredPayload{}, fmt.Errorf("decode structured payload: %w", err)
	}
	out := StructuredPayload{IsError: rec.IsError}
	for _, b := range rec.Content {
		out.Blocks = append(out.Blocks, decodeBlock(b))
	}
	return out, nil
}

func encodeBlock(b Block) blockRecord {
	switch v := b.(type) {
	case TextBlock:
		return blockRecord{Type: "text", Text: v.Text}
	case ImageBlock:
		return blockRecord{Type: "image", Data: v.Data, MimeType: v.MimeType}
	case ResourceBlock:
		return blockRecord{Type: "resource", Resource: &resourceRecord{URI: v.URI, MimeType: v.MimeType, Text: v.Text}}
	case OpaqueBlock:
		return blockRecord{Data: v.Data}
	default:
		return blockRecord{Data: fmt.Sprint(b)}
	}
}

func decodeBlock(rec blockRecord) Block {
	switch rec.Type {
	case "text":
		return TextBlock{Text: rec.Text}
	case "image":
		return ImageBlock{Data: rec.Data, MimeType: rec.MimeType}
	case "resource":
		b := ResourceBlock{}
		if rec.Resource != nil {
			b.URI = rec.Resource.URI
			b.MimeType = rec.Resource.MimeType
			b.Text = rec.Resource.Text
		}
		return b
	default:
		return OpaqueBlock{Data: rec.Data}
	}
}

func marshalPayload(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return serializationFailure(err, v)
	}
	return string(raw)
}

func serializationFailure(err error, v any) string {
	raw, mErr := json.Marshal(map[string]string{
		"error":       "Serialization failed",
		"message":     err.Error(),
		"result_type": fmt.Sprintf("%T", v),
	})
	if mErr != nil {
		return `{"error":"Serialization failed"}`
	}
	return string(raw)
}
