package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/zhouzirui/rev-voice/backend/internal/config"
)

// NewChatModel builds the chat model selected by cfg.AI.Provider. client may
// be nil when the provider is Ark.
func NewChatModel(ctx context.Context, cfg *config.Config, client *genai.Client) (model.BaseChatModel, error) {
	switch cfg.AI.Provider {
	case config.ProviderArk:
		cm, err := cfg.AI.NewArkChatModel(ctx)
		if err != nil {
			return nil, err
		}
		return cm, nil
	case config.ProviderGemini:
		if client == nil {
			return nil, fmt.Errorf("gemini provider selected but no client configured")
		}
		cm, err := NewGeminiChatModel(client.Models, GeminiChatModelConfig{
			Model:       cfg.Gemini.Model,
			Temperature: float32Ptr(cfg.AI.Temperature),
			TopP:        float32Ptr(cfg.AI.TopP),
			MaxTokens:   cfg.AI.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("no chat model provider configured")
	}
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}
