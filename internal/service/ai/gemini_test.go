package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func TestGeminiChatModelGenerate(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("Hello from Rev")}
	temp := float32(0.4)
	cm, err := NewGeminiChatModel(gen, GeminiChatModelConfig{Model: "gemini-test", Temperature: &temp})
	if err != nil {
		t.Fatalf("NewGeminiChatModel err: %v", err)
	}

	msg, err := cm.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("be brief"),
		schema.UserMessage("hi"),
		schema.AssistantMessage("hello", nil),
		schema.UserMessage("range?"),
	}, model.WithMaxTokens(64))
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}

	if msg.Role != schema.Assistant || msg.Content != "Hello from Rev" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if gen.model != "gemini-test" {
		t.Fatalf("unexpected model %q", gen.model)
	}
	if len(gen.contents) != 3 || gen.contents[1].Role != genai.RoleModel {
		t.Fatalf("unexpected contents %+v", gen.contents)
	}
	if gen.config.SystemInstruction == nil || gen.config.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("system instruction not forwarded: %+v", gen.config.SystemInstruction)
	}
	if gen.config.MaxOutputTokens != 64 || gen.config.Temperature == nil || *gen.config.Temperature != temp {
		t.Fatalf("options not applied: %+v", gen.config)
	}
}

func TestGeminiChatModelRequiresConversation(t *testing.T) {
	cm, _ := NewGeminiChatModel(&fakeGenerator{}, GeminiChatModelConfig{Model: "m"})
	if _, err := cm.Generate(context.Background(), []*schema.Message{schema.SystemMessage("only system")}); err == nil {
		t.Fatal("expected error without user content")
	}
}

func TestGeminiChatModelStreamWrapsError(t *testing.T) {
	boom := errors.New("unavailable")
	cm, _ := NewGeminiChatModel(&fakeGenerator{err: boom}, GeminiChatModelConfig{Model: "m"})
	if _, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestGeminiChatModelStreamSingleChunk(t *testing.T) {
	cm, _ := NewGeminiChatModel(&fakeGenerator{resp: textResponse("ok")}, GeminiChatModelConfig{Model: "m"})
	stream, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv()
	if err != nil || chunk.Content != "ok" {
		t.Fatalf("unexpected chunk %+v (%v)", chunk, err)
	}
}
