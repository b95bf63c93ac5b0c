package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/rev-voice/backend/internal/model/persona"
)

// PromptTemplate defines the structure for persona prompts
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PersonaPromptManager manages prompt templates for different personas
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a new prompt manager with default templates
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given persona
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt renders the system instruction for p.
func (pm *PersonaPromptManager) BuildSystemPrompt(p *persona.Persona) string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}

	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(p)
	}

	var b strings.Builder
	b.WriteString(template.SystemPrompt)
	writeFacts(&b, p)
	if len(template.PersonalityHints) > 0 {
		b.WriteString("\n\nPersonality:\n- ")
		b.WriteString(strings.Join(template.PersonalityHints, "\n- "))
	}
	if len(template.ContextRules) > 0 {
		b.WriteString("\n\nRules:\n- ")
		b.WriteString(strings.Join(template.ContextRules, "\n- "))
	}
	writeVoiceRules(&b, p)
	return b.String()
}

// buildBasicSystemPrompt covers personas without a registered template.
func (pm *PersonaPromptManager) buildBasicSystemPrompt(p *persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.", p.Name, p.Title)
	if p.Tone != "" {
		fmt.Fprintf(&b, " Your tone is %s.", p.Tone)
	}
	if len(p.Topics) > 0 {
		fmt.Fprintf(&b, " You only discuss %s.", strings.Join(p.Topics, ", "))
	}
	writeFacts(&b, p)
	writeVoiceRules(&b, p)
	return b.String()
}

func writeFacts(b *strings.Builder, p *persona.Persona) {
	if len(p.Facts) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\nKey information about %s:\n- ", factsSubject(p))
	b.WriteString(strings.Join(p.Facts, "\n- "))
}

func writeVoiceRules(b *strings.Builder, p *persona.Persona) {
	b.WriteString("\n\nYou are speaking, not writing: no markdown, lists, emoji or URLs.")
	if p.MaxWords > 0 {
		fmt.Fprintf(b, " Keep every reply under %d words for natural voice interaction.", p.MaxWords)
	}
	if p.OpeningLine != "" {
		fmt.Fprintf(b, "\nOpening line for reference: %s", p.OpeningLine)
	}
}

func factsSubject(p *persona.Persona) string {
	if len(p.Topics) > 0 {
		return p.Topics[0]
	}
	return p.Name
}

// loadDefaultTemplates loads the default prompt templates for built-in personas
func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates["rev"] = &PromptTemplate{
		SystemPrompt: "You are Rev, the voice assistant for Revolt Motors. You only discuss topics related to Revolt Motors, " +
			"their electric motorcycles, specifications, features, pricing, dealerships, and services.",
		PersonalityHints: []string{
			"Friendly and knowledgeable, like a Revolt Motors expert helping customers",
			"Enthusiastic about electric mobility and sustainable transportation",
			"Conversational and helpful",
		},
		ContextRules: []string{
			"If users ask about topics unrelated to Revolt Motors, politely redirect them back to Revolt Motors products and services",
			"Never invent prices or specifications beyond the key information",
			"If the user interrupts, do not repeat the previous answer; respond to the new question",
		},
	}
}
