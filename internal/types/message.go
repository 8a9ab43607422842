// Package types holds the data model shared across Coop's components: the
// turn engine's message blocks, session keys, trust levels, and the
// persisted compaction/reminder/rate-limit records. Kept dependency-free so
// every other package can import it without cycles.
package types

import (
	"encoding/json"
	"time"
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates the sum-type content of a Block.
type BlockKind string

const (
	BlockText        BlockKind = "text"
	BlockToolRequest BlockKind = "tool_request"
	BlockToolResult  BlockKind = "tool_result"
	BlockImage       BlockKind = "image"
	BlockThinking    BlockKind = "thinking"
)

// Block is one piece of a Message's content. Only the fields relevant to
// Kind are populated; callers switch on Kind before reading the rest.
type Block struct {
	Kind BlockKind `json:"kind"`

	// Text / Thinking
	Text string `json:"text,omitempty"`

	// ToolRequest / ToolResult
	ToolID   string          `json:"tool_id,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Output   string          `json:"output,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`

	// Image
	ImageBytes []byte `json:"image_bytes,omitempty"`
	ImageMIME  string `json:"image_mime,omitempty"`

	// Thinking
	Signature string `json:"signature,omitempty"`
}

func TextBlock(text string) Block { return Block{Kind: BlockText, Text: text} }

func ToolRequestBlock(id, name string, args json.RawMessage) Block {
	return Block{Kind: BlockToolRequest, ToolID: id, ToolName: name, Args: args}
}

func ToolResultBlock(id, output string, isError bool) Block {
	return Block{Kind: BlockToolResult, ToolID: id, Output: output, IsError: isError}
}

// Message is a role-tagged sequence of content blocks.
type Message struct {
	Role      Role      `json:"role"`
	Blocks    []Block   `json:"blocks"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolRequests returns the ToolRequest blocks in order.
func (m Message) ToolRequests() []Block {
	var out []Block
	for _, b := range m.Blocks {
		if b.Kind == BlockToolRequest {
			out = append(out, b)
		}
	}
	return out
}

// LeadingText concatenates Text blocks that precede the first ToolRequest
// block. The turn engine does not call it: Engine.flushPrecedingText emits
// the same blocks as one Partial event each.
func (m Message) LeadingText() string {
	var out string
	for _, b := range m.Blocks {
		if b.Kind == BlockToolRequest {
			break
		}
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// HasToolRequests reports whether the message contains any ToolRequest block.
func (m Message) HasToolRequests() bool {
	for _, b := range m.Blocks {
		if b.Kind == BlockToolRequest {
			return true
		}
	}
	return false
}

// NewUserMessage builds a plain text user Message.
func NewUserMessage(text string, ts time.Time) Message {
	return Message{Role: RoleUser, Blocks: []Block{TextBlock(text)}, Timestamp: ts}
}
