package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

// OpenAIClient implements Client for OpenAI-compatible endpoints. It speaks
// both the chat-completions and the structured-responses wire formats.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
	}
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() string {
	return "openai"
}

// Complete makes one completion call using the shape the request selects
func (c *OpenAIClient) Complete(ctx context.Context, request Request) (*Response, error) {
	if request.Shape == ShapeResponses {
		return c.completeResponses(ctx, request)
	}
	return c.completeChat(ctx, request)
}

// completeChat speaks the legacy chat-completions format
func (c *OpenAIClient) completeChat(ctx context.Context, request Request) (*Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleHuman:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					argsJSON, err := json.Marshal(tc.Arguments)
					if err != nil {
						return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					})
				}
				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case RoleToolResult:
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			messages = append(messages, openai.ToolMessage(content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: oshared.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  oshared.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapShapeError(err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	toolCalls := []ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return &Response{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Model:     response.Model,
		Usage: TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
			TotalTokens:  int(response.Usage.TotalTokens),
			LLMCalls:     1,
		},
	}, nil
}

// completeResponses speaks the structured-responses format
func (c *OpenAIClient) completeResponses(ctx context.Context, request Request) (*Response, error) {
	items := oresponses.ResponseInputParam{}
	var instructions strings.Builder

	if request.SystemPrompt != "" {
		instructions.WriteString(request.SystemPrompt)
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleSystem:
			// Responses API carries system text as instructions, not items.
			if instructions.Len() > 0 {
				instructions.WriteString("\n\n")
			}
			instructions.WriteString(msg.Content)
		case RoleHuman:
			items = append(items, oresponses.ResponseInputItemParamOfMessage(msg.Content, oresponses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if msg.Content != "" {
				items = append(items, oresponses.ResponseInputItemParamOfMessage(msg.Content, oresponses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(string(argsJSON), tc.ID, tc.Name))
			}
		case RoleToolResult:
			output := msg.Content
			if output == "" {
				output = "{}"
			}
			items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, output))
		}
	}

	params := oresponses.ResponseNewParams{
		Model: oshared.ResponsesModel(request.Model),
		Input: oresponses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}

	if instructions.Len() > 0 {
		params.Instructions = openai.String(instructions.String())
	}

	if request.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []oresponses.ToolUnionParam{}
		for _, tool := range request.Tools {
			tools = append(tools, oresponses.ToolParamOfFunction(tool.Name, tool.Parameters, false))
		}
		params.Tools = tools
	}

	response, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, wrapShapeError(err)
	}

	content := ""
	toolCalls := []ToolCall{}

	for _, item := range response.Output {
		switch item.Type {
		case "message":
			msg := item.AsMessage()
			for _, part := range msg.Content {
				if part.Type != "output_text" {
					continue
				}
				if content != "" {
					content += "\n"
				}
				content += part.Text
			}
		case "function_call":
			callID := item.CallID
			if callID == "" {
				callID = item.ID
			}
			var args map[string]interface{}
			if raw := strings.TrimSpace(item.Arguments); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
				}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        callID,
				Name:      item.Name,
				Arguments: args,
			})
		}
	}

	return &Response{
		Content:   content,
		ToolCalls: toolCalls,
		Model:     string(response.Model),
		Usage: TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
			TotalTokens:  int(response.Usage.TotalTokens),
			LLMCalls:     1,
		},
	}, nil
}
