package chat

import (
	"strings"

	"github.com/raglab/ragserver/internal/config"
)

// New builds a Client routed by cfg.Chat.Provider: "ollama"/"local" for
// a local daemon, anything else for an OpenAI-compatible endpoint.
func New(cfg *config.Config) (Client, error) {
	switch strings.ToLower(cfg.Chat.Provider) {
	case "ollama", "local":
		return NewOllamaChat(cfg)
	default:
		return NewOpenAIChat(cfg)
	}
}
