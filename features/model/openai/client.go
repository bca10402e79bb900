// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates requests into ChatCompletion calls
// using github.com/openai/openai-go and maps responses (text, tool calls,
// usage) back into the generic model types.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/agent/tools"
)

type (
	// ChatClient captures the subset of the OpenAI SDK client used by the
	// adapter so tests can substitute a fake implementation.
	ChatClient interface {
		New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// DefaultModel is used when Request.Model is empty and Request.ModelClass
		// does not resolve to HighModel or SmallModel.
		DefaultModel string
		// HighModel is used when Request.ModelClass is ModelClassHighReasoning.
		HighModel string
		// SmallModel is used when Request.ModelClass is ModelClassSmall.
		SmallModel string
		// MaxTokens is the default completion cap applied when a request does not
		// specify one.
		MaxTokens int
		// Temperature is used when a request does not specify one.
		Temperature float64
	}

	// Client implements model.Client on top of the OpenAI Chat Completions API.
	// It does not support Stream; callers needing token-level streaming should
	// use a provider that implements it (for example, the Anthropic or Bedrock
	// adapters).
	Client struct {
		chat         ChatClient
		defaultModel string
		highModel    string
		smallModel   string
		maxTok       int
		temp         float64
	}
)

// New builds an OpenAI-backed model client from the provided chat client and
// configuration options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client,
// reading OPENAI_API_KEY from the environment when apiKey is empty.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := sdk.NewClient(opts...)
	return New(&client.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming chat completion and translates the response
// into model-friendly structures (assistant content + tool calls + usage).
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completions: %w", err)
	}
	return translateResponse(resp)
}

// Stream reports that this adapter does not support OpenAI streaming chat
// completions. Callers should fall back to Complete.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := c.resolveModelID(req)
	if modelID == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	toolParams, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if maxTokens := c.effectiveMaxTokens(req.MaxTokens); maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if req.ToolChoice != nil {
		choice, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = choice
	}
	return &params, nil
}

func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

func encodeMessages(msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		text := flattenText(m.Parts)
		switch m.Role { //nolint:exhaustive
		case model.ConversationRoleSystem:
			out = append(out, sdk.SystemMessage(text))
		case model.ConversationRoleUser:
			out = append(out, encodeUserMessage(m, text)...)
		case model.ConversationRoleAssistant:
			msg, err := encodeAssistantMessage(m, text)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

// encodeUserMessage folds any ToolResultPart entries carried on a user turn
// into tool-role messages, since Chat Completions represents tool results as
// a distinct message type rather than as user content blocks.
func encodeUserMessage(m *model.Message, text string) []sdk.ChatCompletionMessageParamUnion {
	var out []sdk.ChatCompletionMessageParamUnion
	for _, part := range m.Parts {
		if v, ok := part.(model.ToolResultPart); ok {
			out = append(out, sdk.ToolMessage(encodeToolResultContent(v), v.ToolUseID))
		}
	}
	if len(out) > 0 {
		return out
	}
	return []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(text)}
}

func encodeAssistantMessage(m *model.Message, text string) (sdk.ChatCompletionMessageParamUnion, error) {
	var calls []model.ToolUsePart
	for _, part := range m.Parts {
		if v, ok := part.(model.ToolUsePart); ok {
			calls = append(calls, v)
		}
	}
	if len(calls) == 0 {
		return sdk.AssistantMessage(text), nil
	}
	msg := sdk.ChatCompletionAssistantMessageParam{}
	if text != "" {
		msg.Content.OfString = sdk.String(text)
	}
	for _, call := range calls {
		args, err := json.Marshal(call.Input)
		if err != nil {
			return sdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: marshal tool_use %s input: %w", call.Name, err)
		}
		msg.ToolCalls = append(msg.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: sdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: &msg}, nil
}

func encodeToolResultContent(v model.ToolResultPart) string {
	switch content := v.Content.(type) {
	case nil:
		return ""
	case string:
		return content
	case []byte:
		return string(content)
	default:
		if data, err := json.Marshal(content); err == nil {
			return string(data)
		}
		return ""
	}
}

func flattenText(parts []model.Part) string {
	var text string
	for _, part := range parts {
		if v, ok := part.(model.TextPart); ok {
			if text != "" {
				text += "\n"
			}
			text += v.Text
		}
	}
	return text
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema, err := toFunctionParameters(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: tool %s schema: %w", def.Name, err)
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  schema,
			},
		})
	}
	return out, nil
}

func toFunctionParameters(schema any) (shared.FunctionParameters, error) {
	if schema == nil {
		return shared.FunctionParameters{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var params shared.FunctionParameters
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func encodeToolChoice(choice *model.ToolChoice) (sdk.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("auto")}, nil
	case model.ToolChoiceModeNone:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}, nil
	case model.ToolChoiceModeAny:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return sdk.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("openai: tool choice mode \"tool\" requires a name")
		}
		return sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: unsupported tool choice mode %q", choice.Mode)
	}
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func translateResponse(resp *sdk.ChatCompletion) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	out := &model.Response{}
	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Content = append(out.Content, model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: choice.Message.Content}},
		})
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			Name:    tools.Ident(call.Function.Name),
			Payload: json.RawMessage(call.Function.Arguments),
			ID:      call.ID,
		})
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	out.StopReason = string(choice.FinishReason)
	return out, nil
}
