package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/TobiSchelling/zhongwen/internal/config"
)

// GeminiProvider calls the Gemini generateContent endpoint and normalizes
// the reply to the OpenAI chat shape.
type GeminiProvider struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	client       *http.Client
}

// NewGeminiProvider creates a provider from config.
func NewGeminiProvider(p config.Provider, httpClient *http.Client) *GeminiProvider {
	return &GeminiProvider{
		BaseURL:      strings.TrimRight(p.BaseURL, "/"),
		APIKey:       p.APIKey(),
		DefaultModel: p.DefaultModel,
		client:       httpClient,
	}
}

func (g *GeminiProvider) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// FetchCompletion sends one generateContent request.
func (g *GeminiProvider) FetchCompletion(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	model := resolveModel(GeminiModels, "gemini-", opts.Model, g.DefaultModel)

	body := geminiRequest{
		GenerationConfig: map[string]any{"temperature": opts.temperature()},
	}
	var system []string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.BaseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gemini response: %w", err)
	}

	out := &Response{OK: resp.StatusCode == http.StatusOK, Status: resp.StatusCode, Provider: g.Name(), Model: model}

	var result geminiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		if out.OK {
			return nil, fmt.Errorf("decoding gemini response: %w", err)
		}
		return out, nil
	}

	if !out.OK {
		if result.Error != nil {
			out.Data.Error = &APIError{Message: result.Error.Message}
		}
		return out, nil
	}

	if len(result.Candidates) > 0 {
		var sb strings.Builder
		for _, p := range result.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		out.Data.Choices = []Choice{{Message: Message{Role: RoleAssistant, Content: sb.String()}}}
	}
	return out, nil
}
