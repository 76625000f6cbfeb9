package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legaldemo/internal/config"
	"legaldemo/internal/models"
)

const lease = `The Tenant shall pay rent of $2,000 on the first day of each month. The Landlord is responsible for structural repairs.
Either party may terminate this lease with sixty days written notice.`

func TestTemplateGeneratorQuotesBestSentence(t *testing.T) {
	g := NewTemplateGenerator()
	answer, err := g.Answer(context.Background(), lease, "When is the rent due each month?", nil)
	require.NoError(t, err)
	assert.Equal(t, `Based on the document: "The Tenant shall pay rent of $2,000 on the first day of each month."`, answer)

	answer, err = g.Answer(context.Background(), lease, "How can the lease be terminated?", nil)
	require.NoError(t, err)
	assert.Contains(t, answer, "sixty days written notice")
}

func TestTemplateGeneratorNotEnoughInformation(t *testing.T) {
	g := NewTemplateGenerator()
	answer, err := g.Answer(context.Background(), lease, "Who won the football match?", nil)
	require.NoError(t, err)
	assert.Equal(t, NotEnoughInformation, answer)

	answer, err = g.Answer(context.Background(), lease, "?", nil)
	require.NoError(t, err)
	assert.Equal(t, NotEnoughInformation, answer)
}

func TestTemplateGeneratorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTemplateGenerator().Answer(ctx, lease, "rent", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeChatModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatGeneratorBuildsGroundedPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "  Rent is due on the first.  "}
	g := NewChatGenerator(fake)

	history := make([]models.Message, 0, 8)
	for i := 0; i < 8; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	longContext := strings.Repeat("x", maxContextRunes+500)

	answer, err := g.Answer(context.Background(), longContext, "When is rent due?", history)
	require.NoError(t, err)
	assert.Equal(t, "Rent is due on the first.", answer)

	require.Len(t, fake.got, 1+maxHistory+1)
	assert.Equal(t, schema.System, fake.got[0].Role)
	assert.Contains(t, fake.got[0].Content, "ONLY")
	assert.Equal(t, "turn 2", fake.got[1].Content)
	assert.Equal(t, schema.Assistant, fake.got[len(fake.got)-2].Role)

	last := fake.got[len(fake.got)-1]
	assert.Equal(t, schema.User, last.Role)
	assert.True(t, strings.HasSuffix(last.Content, "Question: When is rent due?"))
	assert.Equal(t, "Context from document:\n"+strings.Repeat("x", maxContextRunes)+"\n\nQuestion: When is rent due?", last.Content)
}

func TestChatGeneratorErrors(t *testing.T) {
	_, err := NewChatGenerator(&fakeChatModel{err: errors.New("upstream down")}).Answer(context.Background(), "ctx", "q", nil)
	assert.ErrorContains(t, err, "upstream down")

	_, err = NewChatGenerator(&fakeChatModel{reply: "   "}).Answer(context.Background(), "ctx", "q", nil)
	assert.Error(t, err)
}

func TestNewGeneratorSelection(t *testing.T) {
	cfg := config.Default()
	g, err := NewGenerator(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &TemplateGenerator{}, g)

	cfg.Demo.AnswerProvider = "openai"
	_, err = NewGenerator(context.Background(), cfg)
	assert.ErrorContains(t, err, "provider openai not configured")

	_, err = NewChatModel(context.Background(), &config.Config{Providers: map[string]config.ProviderConfig{"mistral": {}}}, "mistral", "")
	assert.ErrorContains(t, err, "invalid provider")
}
