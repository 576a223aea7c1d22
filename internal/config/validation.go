package config

import (
	"fmt"
	"os"
)

// ResolveAPIKey returns the effective API key for a model config:
// the role-specific key when set, otherwise the provider's
// conventional environment variable. Ollama needs no key.
func ResolveAPIKey(mc ModelConfig) string {
	if mc.APIKey != "" {
		return mc.APIKey
	}
	switch mc.Provider {
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// HasCredentials reports whether the model config can authenticate.
func HasCredentials(mc ModelConfig) bool {
	if mc.Provider == "ollama" {
		return true
	}
	return ResolveAPIKey(mc) != ""
}

// ValidateAPIKeys validates that required API keys are set for the given model configuration.
// Returns an error naming the missing variable if validation fails.
func ValidateAPIKeys(mc ModelConfig) error {
	switch mc.Provider {
	case "claude":
		if ResolveAPIKey(mc) == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable is required for Claude provider")
		}
	case "gemini":
		if ResolveAPIKey(mc) == "" {
			return fmt.Errorf("GEMINI_API_KEY or GOOGLE_API_KEY environment variable is required for Gemini provider")
		}
	case "openai":
		if ResolveAPIKey(mc) == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI-compatible provider")
		}
	case "ollama":
		// Local provider, no credentials.
	default:
		return fmt.Errorf("unsupported LLM provider: %s", mc.Provider)
	}
	return nil
}

// ValidateAPIKeysWithUserMessage validates API keys and returns a user-friendly error message.
// This is suitable for CLI output where we want to show detailed setup instructions.
func ValidateAPIKeysWithUserMessage(mc ModelConfig) error {
	supported := map[string]bool{"claude": true, "gemini": true, "openai": true, "ollama": true}
	if !supported[mc.Provider] {
		return fmt.Errorf("You need to connect Jarvis to an LLM.\n\nCurrently supported providers:\n  - Claude (Anthropic) - requires ANTHROPIC_API_KEY\n  - Gemini (Google) - requires GEMINI_API_KEY or GOOGLE_API_KEY\n  - OpenAI-compatible endpoints - require OPENAI_API_KEY\n  - Ollama (local) - no key\n\nConfigured provider '%s' is not supported.", mc.Provider)
	}

	if err := ValidateAPIKeys(mc); err != nil {
		switch mc.Provider {
		case "claude":
			return fmt.Errorf("You need to connect Jarvis to an LLM.\n\nClaude is configured but ANTHROPIC_API_KEY is not set or is empty.\n\nTo use Claude:\n  export ANTHROPIC_API_KEY=your-api-key-here\n\nTo use another provider, set DEFAULT_LLM_PROVIDER and its key")
		case "gemini":
			return fmt.Errorf("You need to connect Jarvis to an LLM.\n\nGemini is configured but neither GEMINI_API_KEY nor GOOGLE_API_KEY is set or both are empty.\n\nTo use Gemini:\n  export GEMINI_API_KEY=your-api-key-here\n\nTo use another provider, set DEFAULT_LLM_PROVIDER and its key")
		case "openai":
			return fmt.Errorf("You need to connect Jarvis to an LLM.\n\nAn OpenAI-compatible endpoint is configured but OPENAI_API_KEY is not set or is empty.\n\nTo use it:\n  export OPENAI_API_KEY=your-api-key-here\n\nTo use another provider, set DEFAULT_LLM_PROVIDER and its key")
		default:
			return err
		}
	}

	return nil
}
