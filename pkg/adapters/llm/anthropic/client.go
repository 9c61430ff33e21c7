package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/council/pkg/ports"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// Client implements LLMClient using the Anthropic Messages API
type Client struct {
	client anthropic.Client
	logger *zap.Logger
}

// NewClient creates a new Anthropic client. Extra request options are
// passed through to the SDK.
func NewClient(apiKey string, logger *zap.Logger, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &Client{
		client: anthropic.NewClient(opts...),
		logger: logger,
	}, nil
}

// GenerateCompletion sends req to the Messages API and returns the text of
// the reply
func (c *Client) GenerateCompletion(ctx context.Context, req *ports.LLMRequest) (*ports.LLMResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case "user":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	c.logger.Debug("sending completion request",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("max_tokens", req.MaxTokens))

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	c.logger.Debug("completion received",
		zap.String("model", string(resp.Model)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))

	return &ports.LLMResponse{
		Content:      text.String(),
		Model:        string(resp.Model),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
