package llm

import "strings"

// ModelMap rewrites canonical model names into a provider's own names.
// Keys ending in "*" match by prefix; exact keys win over prefixes.
type ModelMap map[string]string

// Resolve returns the provider-specific name for model, or model itself
// when nothing matches.
func (m ModelMap) Resolve(model string) string {
	if mapped, ok := m[model]; ok {
		return mapped
	}
	best, bestLen := "", -1
	for key, mapped := range m {
		prefix, ok := strings.CutSuffix(key, "*")
		if !ok || !strings.HasPrefix(model, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = mapped, len(prefix)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return model
}

// DeepSeekModels maps the canonical OpenAI names used in pipeline config
// onto DeepSeek's models.
var DeepSeekModels = ModelMap{
	"gpt-4o-mini-2024-07-18": "deepseek-chat",
	"o3-mini-2025-01-31":     "deepseek-reasoner",
	"gpt-4o-mini*":           "deepseek-chat",
	"o3-mini*":               "deepseek-reasoner",
}

// GeminiModels maps canonical names onto Gemini models.
var GeminiModels = ModelMap{
	"gpt-4o-mini*":      "gemini-2.0-flash",
	"o3-mini*":          "gemini-2.5-pro",
	"deepseek-chat":     "gemini-2.0-flash",
	"deepseek-reasoner": "gemini-2.5-pro",
}

// modelsFor picks the mapping table for an OpenAI-compatible base URL.
func modelsFor(baseURL string) ModelMap {
	if strings.Contains(strings.ToLower(baseURL), "deepseek") {
		return DeepSeekModels
	}
	return nil
}

// resolveModel applies defaults and mapping. Names already native to the
// provider pass through untouched.
func resolveModel(models ModelMap, nativePrefix, requested, fallback string) string {
	model := requested
	if model == "" {
		model = fallback
	}
	if nativePrefix != "" && strings.HasPrefix(model, nativePrefix) {
		return model
	}
	return models.Resolve(model)
}

// isReasoningModel reports whether an OpenAI model rejects temperature.
func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
