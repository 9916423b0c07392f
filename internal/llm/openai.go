package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/TobiSchelling/zhongwen/internal/config"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint.
// DeepSeek base URLs get the DeepSeek model mapping.
type OpenAIProvider struct {
	name         string
	client       openai.Client
	defaultModel string
	models       ModelMap
	nativePrefix string
}

// NewOpenAIProvider creates a provider from config. Retries are disabled;
// a failed phase fails the run.
func NewOpenAIProvider(p config.Provider, httpClient *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(p.APIKey()),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(p.BaseURL, "/")+"/"))
	}

	prov := &OpenAIProvider{
		name:         "openai",
		client:       openai.NewClient(opts...),
		defaultModel: p.DefaultModel,
		models:       modelsFor(p.BaseURL),
	}
	if prov.models != nil {
		prov.name = "deepseek"
		prov.nativePrefix = "deepseek-"
	}
	return prov
}

func (p *OpenAIProvider) Name() string { return p.name }

// FetchCompletion sends one chat completion request.
func (p *OpenAIProvider) FetchCompletion(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	model := resolveModel(p.models, p.nativePrefix, opts.Model, p.defaultModel)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if p.models != nil || !isReasoningModel(model) {
		params.Temperature = openai.Float(opts.temperature())
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return &Response{
				OK:       false,
				Status:   apiErr.StatusCode,
				Data:     ChatResponse{Error: &APIError{Message: apiErr.Message}},
				Provider: p.name,
				Model:    model,
			}, nil
		}
		return nil, fmt.Errorf("%s request: %w", p.name, err)
	}

	out := &Response{OK: true, Status: http.StatusOK, Provider: p.name, Model: model}
	for _, c := range resp.Choices {
		out.Data.Choices = append(out.Data.Choices, Choice{
			Message: Message{Role: RoleAssistant, Content: c.Message.Content},
		})
	}
	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
