package llm

import "strings"

// DetectKind guesses the provider kind from a model name. It returns
// "unknown" when no pattern matches.
func DetectKind(model string) string {
	ml := strings.ToLower(strings.TrimSpace(model))
	if ml == "" {
		return "unknown"
	}

	if strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3") ||
		strings.HasPrefix(ml, "o4") || strings.Contains(ml, "davinci") || strings.Contains(ml, "turbo") {
		return "openai"
	}

	if strings.Contains(ml, "claude") || strings.Contains(ml, "opus") ||
		strings.Contains(ml, "sonnet") || strings.Contains(ml, "haiku") {
		return "anthropic"
	}

	if strings.Contains(ml, "gemini") || strings.Contains(ml, "palm") || strings.Contains(ml, "bison") {
		return "gemini"
	}

	// OpenAI-compatible hosts serve these through base_url
	if strings.Contains(ml, "deepseek") || strings.Contains(ml, "qwen") ||
		strings.Contains(ml, "mistral") || strings.Contains(ml, "llama") || strings.Contains(ml, "grok") {
		return "openai"
	}

	return "unknown"
}
