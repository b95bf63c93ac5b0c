package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// ContentGenerator is the slice of the genai Models API the adapters use.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiChatModel adapts a Gemini text model to eino's chat model interface
// so it can sit in the same chain as the Ark model.
type GeminiChatModel struct {
	models      ContentGenerator
	model       string
	temperature *float32
	topP        *float32
	maxTokens   *int
}

var _ model.BaseChatModel = (*GeminiChatModel)(nil)

// GeminiChatModelConfig configures NewGeminiChatModel.
type GeminiChatModelConfig struct {
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// NewGeminiChatModel returns a chat model backed by models.
func NewGeminiChatModel(models ContentGenerator, cfg GeminiChatModelConfig) (*GeminiChatModel, error) {
	if models == nil {
		return nil, errors.New("gemini client is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model is required")
	}
	return &GeminiChatModel{
		models:      models,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate sends the conversation and returns the assistant message.
func (m *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Model:       &m.model,
		Temperature: m.temperature,
		TopP:        m.topP,
		MaxTokens:   m.maxTokens,
	}, opts...)

	contents, system := toGeminiContents(input)
	if len(contents) == 0 {
		return nil, errors.New("gemini: no user or assistant messages in input")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       options.Temperature,
		TopP:              options.TopP,
		StopSequences:     options.Stop,
	}
	if options.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*options.MaxTokens)
	}

	modelName := m.model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	resp, err := m.models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return nil, errors.New("gemini generate: nil response")
	}

	return schema.AssistantMessage(resp.Text(), nil), nil
}

// Stream yields the full reply as a single chunk; voice replies are short
// and synthesized as a whole.
func (m *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// toGeminiContents splits eino messages into Gemini contents plus the
// system instruction. Tool messages are dropped.
func toGeminiContents(input []*schema.Message) ([]*genai.Content, *genai.Content) {
	var (
		contents    []*genai.Content
		systemParts []*genai.Part
	)
	for _, msg := range input {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case schema.System:
			systemParts = append(systemParts, genai.NewPartFromText(msg.Content))
		case schema.User:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return contents, system
}
