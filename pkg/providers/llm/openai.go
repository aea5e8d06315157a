package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	oai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type OpenAILLM struct {
	client oai.Client
	model  string
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (l *OpenAILLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	resp, err := l.client.Chat.Completions.New(ctx, l.buildParams(messages, nil))
	if err != nil {
		return "", fmt.Errorf("openai llm error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteWithImage satisfies orchestrator.VisionLLMProvider. The image, if
// supplied, is attached as a base64 data URL on the final user turn.
func (l *OpenAILLM) CompleteWithImage(ctx context.Context, messages []orchestrator.Message, image []byte) (string, bool, string, error) {
	resp, err := l.client.Chat.Completions.New(ctx, l.buildParams(messages, image))
	if err != nil {
		return "", false, "", fmt.Errorf("openai vision llm error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", false, "", fmt.Errorf("no choices returned from openai")
	}

	raw := resp.Choices[0].Message.Content
	wantsScreen, reason := detectScreenRequest(raw)
	text := raw
	if wantsScreen {
		text = reason
	}
	return text, wantsScreen, reason, nil
}

func (l *OpenAILLM) buildParams(messages []orchestrator.Message, image []byte) oai.ChatCompletionNewParams {
	var converted []oai.ChatCompletionMessageParamUnion

	for i, msg := range messages {
		switch msg.Role {
		case "system":
			converted = append(converted, oai.SystemMessage(msg.Content))
		case "assistant":
			converted = append(converted, oai.AssistantMessage(msg.Content))
		default:
			if len(image) > 0 && i == len(messages)-1 {
				dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
				converted = append(converted, oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
					oai.TextContentPart(msg.Content),
					oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				}))
			} else {
				converted = append(converted, oai.UserMessage(msg.Content))
			}
		}
	}

	return oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(l.model),
		Messages: converted,
	}
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}
