package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/MangBao/triage-recovery-hub-be/internal/config"
)

func TestLangChainProviderReturnsFirstChoice(t *testing.T) {
	model := fake.NewFakeLLM([]string{`{"category":"Technical"}`})
	provider := NewLangChainProvider(model, config.AIConfig{Provider: ProviderOpenAI, MaxTokens: 256})

	out, err := provider.Generate(context.Background(), systemPrompt, userPrompt("the app crashes"))
	require.NoError(t, err)
	assert.Equal(t, `{"category":"Technical"}`, out)
}

func TestNewProviderRejectsUnknownOrKeylessProviders(t *testing.T) {
	_, err := NewProvider(context.Background(), config.AIConfig{Provider: "watson"})
	assert.ErrorContains(t, err, "unsupported AI_PROVIDER")

	_, err = NewProvider(context.Background(), config.AIConfig{Provider: ProviderGemini, Model: "gemini-2.5-flash"})
	assert.ErrorContains(t, err, "AI_API_KEY")
}
