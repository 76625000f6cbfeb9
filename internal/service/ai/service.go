package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"legaldemo/internal/config"
	"legaldemo/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	NotEnoughInformation = "I don't have enough information in this document to answer that question."

	maxContextRunes = 8000
	maxHistory      = 6
	claudeMaxTokens = 1024
)

const systemPrompt = `You are a helpful legal AI assistant. Answer questions based ONLY on the provided document context.

Rules:
1. If the answer is not in the context, say "` + NotEnoughInformation + `"
2. Always cite specific parts of the document when answering
3. Be precise and concise
4. Never make up information`

// Generator answers a question about one document.
type Generator interface {
	Answer(ctx context.Context, contextText, question string, history []models.Message) (string, error)
}

// NewGenerator builds the generator selected by demo.answer_provider.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	provider := cfg.Demo.AnswerProvider
	if provider == "" || provider == "template" {
		return NewTemplateGenerator(), nil
	}
	chatModel, err := NewChatModel(ctx, cfg, provider, cfg.Demo.AnswerModel)
	if err != nil {
		return nil, err
	}
	return NewChatGenerator(chatModel), nil
}

// NewChatModel creates an eino chat model for provider.
func NewChatModel(ctx context.Context, cfg *config.Config, provider, modelType string) (model.ToolCallingChatModel, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if modelType == "" {
		modelType = provCfg.Model
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelType,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelType,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelType,
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// ChatGenerator answers through a chat model, grounded on the document text.
type ChatGenerator struct {
	model model.BaseChatModel
}

func NewChatGenerator(m model.BaseChatModel) *ChatGenerator {
	return &ChatGenerator{model: m}
}

func (g *ChatGenerator) Answer(ctx context.Context, contextText, question string, history []models.Message) (string, error) {
	out, err := g.model.Generate(ctx, buildMessages(contextText, question, history))
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", errors.New("generate answer: empty response")
	}
	return strings.TrimSpace(out.Content), nil
}

func buildMessages(contextText, question string, history []models.Message) []*schema.Message {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		case models.RoleSystem:
			messages = append(messages, schema.SystemMessage(msg.Content))
		default:
			messages = append(messages, schema.UserMessage(msg.Content))
		}
	}
	messages = append(messages, schema.UserMessage(
		fmt.Sprintf("Context from document:\n%s\n\nQuestion: %s", truncateRunes(contextText, maxContextRunes), question),
	))
	return messages
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
