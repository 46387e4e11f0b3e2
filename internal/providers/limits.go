package providers

import "strings"

// FallbackContextWindow is used for model identifiers missing from the table.
const FallbackContextWindow = 32_000

// ContextWindow returns the context window of a model identifier.
func ContextWindow(model string) int {
	modelLower := strings.ToLower(model)

	switch {
	// Claude 3 and later (200k context)
	case strings.Contains(modelLower, "claude"):
		return 200_000

	// GPT-4.1 family (1M context)
	case strings.Contains(modelLower, "gpt-4.1"):
		return 1_047_576

	// GPT-4o and GPT-4 Turbo (128k context)
	case strings.Contains(modelLower, "gpt-4o"), strings.Contains(modelLower, "gpt-4-turbo"):
		return 128_000

	// o-series reasoning models (200k context)
	case strings.HasPrefix(modelLower, "o1"), strings.HasPrefix(modelLower, "o3"), strings.HasPrefix(modelLower, "o4"):
		return 200_000

	case strings.Contains(modelLower, "gpt-3.5"):
		return 16_385

	// Kimi K2 (200k context)
	case strings.Contains(modelLower, "kimi"):
		return 200_000

	// DeepSeek (64k is safe across versions)
	case strings.Contains(modelLower, "deepseek"):
		return 64_000
	}

	return FallbackContextWindow
}
