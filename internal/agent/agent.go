// Package agent turns chat history and workspace context into proposed
// file operations.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/tree"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultReasoning replaces an empty reasoning string in a response.
const DefaultReasoning = "Logic updated."

// Message is one turn of the chat transcript.
type Message struct {
	ID               string              `json:"id"`
	Role             Role                `json:"role"`
	Content          string              `json:"content"`
	Operations       []ops.FileOperation `json:"operations,omitempty"`
	Timestamp        int64               `json:"timestamp"`
	ContextFileNames []string            `json:"contextFileNames,omitempty"`
}

// NewMessage returns a message with a fresh id and the current time in
// milliseconds.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Request is everything a producer sees for one round trip.
type Request struct {
	History []Message
	Tree    *tree.Tree
	Tagged  []*tree.Node
}

// Response is a producer's proposal. Operations are not applied by the
// producer; callers decide when and against which tree.
type Response struct {
	Reasoning  string              `json:"reasoning"`
	Operations []ops.FileOperation `json:"operations"`
}

// Producer proposes file operations for a request.
type Producer interface {
	Propose(ctx context.Context, req Request) (*Response, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, req Request) (*Response, error)

func (f ProducerFunc) Propose(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
