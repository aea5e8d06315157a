package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

const anthropicDefaultMaxTokens = 1024

type AnthropicLLM struct {
	client anthropicSDK.Client
	model  string
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicLLM{
		client: anthropicSDK.NewClient(anthropicOption.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (l *AnthropicLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	resp, err := l.client.Messages.New(ctx, l.buildParams(messages, nil))
	if err != nil {
		return "", fmt.Errorf("anthropic llm error: %w", err)
	}
	return textFromAnthropicMessage(resp), nil
}

// CompleteWithImage satisfies orchestrator.VisionLLMProvider. The image, if
// non-empty, is attached as a base64 JPEG block on the final user turn; the
// caller still decides whether the response's screen-capture request needs
// a follow-up call once an image becomes available.
func (l *AnthropicLLM) CompleteWithImage(ctx context.Context, messages []orchestrator.Message, image []byte) (string, bool, string, error) {
	resp, err := l.client.Messages.New(ctx, l.buildParams(messages, image))
	if err != nil {
		return "", false, "", fmt.Errorf("anthropic vision llm error: %w", err)
	}

	raw := textFromAnthropicMessage(resp)
	wantsScreen, reason := detectScreenRequest(raw)
	text := raw
	if wantsScreen {
		text = reason
	}
	return text, wantsScreen, reason, nil
}

func (l *AnthropicLLM) buildParams(messages []orchestrator.Message, image []byte) anthropicSDK.MessageNewParams {
	var system []anthropicSDK.TextBlockParam
	converted := make([]anthropicSDK.MessageParam, 0, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropicSDK.TextBlockParam{Text: msg.Content})
		case "assistant":
			converted = append(converted, anthropicSDK.NewAssistantMessage(anthropicSDK.NewTextBlock(msg.Content)))
		default:
			blocks := []anthropicSDK.ContentBlockParamUnion{anthropicSDK.NewTextBlock(msg.Content)}
			if len(image) > 0 && i == len(messages)-1 {
				blocks = append(blocks, anthropicSDK.NewImageBlockBase64("image/jpeg", base64.StdEncoding.EncodeToString(image)))
			}
			converted = append(converted, anthropicSDK.NewUserMessage(blocks...))
		}
	}

	params := anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(l.model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  converted,
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

func textFromAnthropicMessage(resp *anthropicSDK.Message) string {
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}
