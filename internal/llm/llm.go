package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/TobiSchelling/zhongwen/internal/config"
	"github.com/TobiSchelling/zhongwen/internal/logging"
)

// DefaultTemperature is sent when a caller does not pick one.
const DefaultTemperature = 0.7

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System and User are shorthands for building conversations.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Options tune a single completion request.
type Options struct {
	Model       string
	Temperature *float64
}

// Temp is a helper for setting Options.Temperature inline.
func Temp(t float64) *float64 { return &t }

func (o Options) temperature() float64 {
	if o.Temperature == nil {
		return DefaultTemperature
	}
	return *o.Temperature
}

// ChatResponse is the OpenAI-shaped body every provider is normalized to.
type ChatResponse struct {
	Choices []Choice  `json:"choices,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message Message `json:"message"`
}

type APIError struct {
	Message string `json:"message"`
}

// Response is the outcome of one provider call. Upstream HTTP failures
// come back as OK=false with Status set; transport failures are errors.
type Response struct {
	OK       bool
	Status   int
	Data     ChatResponse
	Provider string
	Model    string
}

// ErrEmptyContent is returned by Content when the reply has no text.
var ErrEmptyContent = errors.New("provider returned no content")

// Content returns the assistant text of the first choice.
func (r *Response) Content() (string, error) {
	if r == nil || len(r.Data.Choices) == 0 {
		return "", ErrEmptyContent
	}
	content := r.Data.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	return content, nil
}

// ErrorMessage returns the upstream error message, or a generic one
// naming the provider.
func (r *Response) ErrorMessage() string {
	if r == nil {
		return "API error"
	}
	if r.Data.Error != nil && r.Data.Error.Message != "" {
		return r.Data.Error.Message
	}
	return fmt.Sprintf("%s API error", r.Provider)
}

// Client sends chat completions to a text-generation backend.
type Client interface {
	FetchCompletion(ctx context.Context, messages []Message, opts Options) (*Response, error)
	Name() string
}

// New builds a client for one configured provider.
func New(p config.Provider) (Client, error) {
	hc := &http.Client{Timeout: p.Timeout()}
	switch strings.ToLower(p.Kind) {
	case "", "openai":
		return NewOpenAIProvider(p, hc), nil
	case "gemini":
		return NewGeminiProvider(p, hc), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// CreateProvider picks the primary provider when its key is set and falls
// back to the alternate otherwise.
func CreateProvider(cfg config.Providers, log *logging.Logger) (Client, error) {
	log = logging.OrNop(log)

	if cfg.Primary.APIKey() != "" {
		c, err := New(cfg.Primary)
		if err != nil {
			return nil, err
		}
		log.Info("using primary provider", "provider", c.Name(), "model", cfg.Primary.DefaultModel)
		return c, nil
	}
	log.Warn("primary provider has no API key, trying alternate", "env", cfg.Primary.APIKeyEnv)

	if cfg.Alternate.APIKey() != "" {
		c, err := New(cfg.Alternate)
		if err != nil {
			return nil, err
		}
		log.Info("using alternate provider", "provider", c.Name(), "model", cfg.Alternate.DefaultModel)
		return c, nil
	}

	return nil, fmt.Errorf("no text-generation provider configured; set %s or %s",
		cfg.Primary.APIKeyEnv, cfg.Alternate.APIKeyEnv)
}
