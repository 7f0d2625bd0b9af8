package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Shape selects the wire format used for a model request. Providers that
// expose more than one completion endpoint accept both; the failover
// controller switches shapes on a protocol mismatch.
type Shape string

const (
	// ShapeChatCompletions is the legacy chat-completions wire format.
	ShapeChatCompletions Shape = "chat_completions"
	// ShapeResponses is the structured responses wire format.
	ShapeResponses Shape = "responses"
)

// AlternateShape returns the other request shape
func AlternateShape(s Shape) Shape {
	if s == ShapeResponses {
		return ShapeChatCompletions
	}
	return ShapeResponses
}

// ErrProtocolShape marks an invocation that failed because the request used
// the wrong API shape for the model, not because the model is unhealthy.
var ErrProtocolShape = errors.New("request shape not supported by model")

// protocolShapeMarkers are provider error fragments indicating a wrong
// endpoint or parameter set rather than a transient failure.
var protocolShapeMarkers = []string{
	"v1/responses",
	"v1/chat/completions",
	"unsupported_endpoint",
	"only supported in",
	"unknown parameter",
	"unsupported parameter",
}

// wrapShapeError tags provider errors that indicate a shape mismatch so
// callers can match them with errors.Is(err, ErrProtocolShape).
func wrapShapeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range protocolShapeMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrProtocolShape, err)
		}
	}
	return err
}

// ToolSchema describes one callable tool in provider-neutral terms.
// Parameters holds a full JSON schema object.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request contains the parameters for one model invocation
type Request struct {
	Model        string
	Shape        Shape
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
	MaxTokens    int
	Temperature  float64
}

// Response contains the model's reply to one invocation
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     TokenUsage
	Model     string
}

// Client is a model provider endpoint
type Client interface {
	// Complete makes one completion call
	Complete(ctx context.Context, request Request) (*Response, error)

	// Provider returns the provider name
	Provider() string
}
