package brain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/tools"
)

const maxRequestAttempts = 2

// Client submits conversation history plus a tool catalog to the model and
// returns either final text or requested tool calls.
type Client struct {
	client openai.Client
	config config.BrainConfig
	logger zerolog.Logger
}

// NewClient creates a model client from the brain configuration.
func NewClient(cfg config.BrainConfig, logger zerolog.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	return &Client{
		client: openai.NewClient(opts...),
		config: cfg,
		logger: logger.With().Str("component", "brain").Logger(),
	}
}

// Complete submits the full history and tool catalog. Transport failures are
// retried a bounded number of times, then surfaced as ErrModelRequest.
func (c *Client) Complete(ctx context.Context, history *History, catalog []tools.Tool) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.config.Model),
		Messages: toMessages(history.Turns()),
	}
	if c.config.Temperature > 0 {
		params.Temperature = openai.Float(c.config.Temperature)
	}
	if c.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.config.MaxTokens))
	}
	if toolParams := toToolParams(catalog); len(toolParams) > 0 {
		params.Tools = toolParams
	}

	var lastErr error
	for attempt := 1; attempt <= maxRequestAttempts; attempt++ {
		reqCtx := ctx
		var cancel context.CancelFunc
		if c.config.Timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		}

		completion, err := c.client.Chat.Completions.New(reqCtx, params)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Model request failed")
			if ctx.Err() != nil {
				break
			}
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
			continue
		}

		if len(completion.Choices) == 0 {
			return nil, ErrEmptyChoice
		}
		return toResponse(completion), nil
	}

	return nil, fmt.Errorf("%w: %v", ErrModelRequest, lastErr)
}

// toMessages converts history turns into the wire message format.
func toMessages(turns []Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case RoleAssistant:
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(turn.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if turn.Content != "" {
				assistant.Content.OfString = openai.String(turn.Content)
			}
			for _, tc := range turn.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			messages = append(messages, openai.ToolMessage(turn.Content, turn.ToolCallID))
		}
	}
	return messages
}

// toToolParams converts the registry catalog into function definitions.
func toToolParams(catalog []tools.Tool) []openai.ChatCompletionToolParam {
	params := make([]openai.ChatCompletionToolParam, 0, len(catalog))
	for _, tool := range catalog {
		params = append(params, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Schema),
			},
		})
	}
	return params
}

func toResponse(completion *openai.ChatCompletion) *Response {
	message := completion.Choices[0].Message

	resp := &Response{Text: message.Content}
	for _, tc := range message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp
}
