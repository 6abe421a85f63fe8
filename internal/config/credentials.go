package config

import (
	"fmt"
	"strings"

	"github.com/MrWong99/persona/pkg/types"
)

// LLMKeyEnv lists the environment variables consulted, in order, for the
// primary LLM API key when the config does not set one.
var LLMKeyEnv = []string{"OPENAI_API_KEY", "NEXT_PUBLIC_OPENAI_API_KEY", "OPENAI_KEY"}

// ResolveLLMKey returns entry.APIKey, or else the first non-empty variable
// of [LLMKeyEnv] for the openai provider and NAME_API_KEY for the others,
// looked up through getenv.
func ResolveLLMKey(entry ProviderEntry, getenv func(string) string) string {
	if k := strings.TrimSpace(entry.APIKey); k != "" {
		return k
	}
	vars := LLMKeyEnv
	if entry.Name != "" && entry.Name != "openai" {
		vars = []string{keyEnv(entry.Name)}
	}
	for _, name := range vars {
		if k := strings.TrimSpace(getenv(name)); k != "" {
			return k
		}
	}
	return ""
}

// CheckLLMKey validates a resolved key for the named provider. A missing key
// is a [types.KindCredentialMissing] error; an openai key without the "sk-"
// prefix is [types.KindCredentialInvalid]. Providers that run locally need
// no key.
func CheckLLMKey(provider, key string) error {
	switch provider {
	case "ollama", "llamacpp", "llamafile":
		return nil
	}
	if key == "" {
		if provider != "" && provider != "openai" {
			return types.NewError(types.KindCredentialMissing,
				fmt.Sprintf("%s API key not configured. Set %s for the chat server", provider, keyEnv(provider)))
		}
		return types.NewError(types.KindCredentialMissing,
			"OpenAI API Key not configured. Set OPENAI_API_KEY for the chat server")
	}
	if provider == "openai" && !strings.HasPrefix(key, "sk-") {
		return types.NewError(types.KindCredentialInvalid, "OpenAI API Key has an unexpected format")
	}
	return nil
}

func keyEnv(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}
