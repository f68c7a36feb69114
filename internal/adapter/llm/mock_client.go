package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/farmerassist/internal/domain"
)

// MockClient is an offline LLMClient. It answers from a small table of
// agronomy tips so the widget can be driven without a key.
type MockClient struct {
	// ChunkDelay is the pause between streamed words.
	ChunkDelay time.Duration
}

type mockTip struct {
	keywords []string
	tip      string
}

var mockTips = []mockTip{
	{[]string{"ph", "acidez", "calagem", "calcário"}, "faça a calagem cerca de 60 dias antes do plantio, com base na análise de solo."},
	{[]string{"irrig", "água", "regar", "rega"}, "irrigue no início da manhã e prefira gotejamento para reduzir perdas por evaporação."},
	{[]string{"praga", "lagarta", "pulgão", "inseto"}, "monitore a lavoura semanalmente e adote o manejo integrado antes de recorrer a defensivos."},
	{[]string{"adub", "fertiliz", "npk", "nitrogênio"}, "parcele a adubação nitrogenada em cobertura para acompanhar a demanda da cultura."},
}

const mockDefaultTip = "mantenha o pH do solo entre 6,0 e 6,5 para a maioria das hortaliças."

// NewMockClient creates a mock client that streams without pauses.
func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ LLMClient = (*MockClient)(nil)

// Validate always succeeds; the mock needs no credential.
func (m *MockClient) Validate() error {
	return nil
}

// CreateChatCompletionStream streams the canned answer word by word.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	answer := mockAnswer(lastUserContent(req.Messages))
	words := splitWords(answer)
	id := "mock-chatcmpl-" + uuid.NewString()[:8]
	created := time.Now().Unix()

	for i, word := range words {
		if i > 0 && m.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, &TransportError{Message: DefaultTransportMessage, Err: ctx.Err()}
			case <-time.After(m.ChunkDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{Message: DefaultTransportMessage, Err: err}
		}

		chunk := &StreamChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model}
		choice := Choice{Delta: &ChatMessage{Role: string(domain.RoleAssistant), Content: word}}
		if i == len(words)-1 {
			choice.FinishReason = "stop"
		}
		chunk.Choices = []Choice{choice}

		if err := callback(chunk); err != nil {
			return nil, err
		}
	}

	prompt := 0
	for _, msg := range req.Messages {
		prompt += approxTokens(msg.Content)
	}
	completion := approxTokens(answer)
	return &Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}, nil
}

// ListModels reports the single mock model.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{ID: "mock-gpt-4o-mini", Object: "model", OwnedBy: "mock"}}, nil
}

func lastUserContent(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(domain.RoleUser) {
			return msgs[i].Content
		}
	}
	return ""
}

func mockAnswer(question string) string {
	if question == "" {
		return "[MOCK] Esta é uma resposta simulada do assistente."
	}
	tip := mockDefaultTip
	lower := strings.ToLower(question)
	for _, t := range mockTips {
		if containsAny(lower, t.keywords) {
			tip = t.tip
			break
		}
	}
	return fmt.Sprintf("[MOCK] Recebi sua pergunta: %q. **Dica:** %s", truncate(question, 100), tip)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// splitWords splits s after each space, so concatenating the parts gives
// back s.
func splitWords(s string) []string {
	if s == "" {
		return []string{""}
	}
	parts := strings.SplitAfter(s, " ")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func approxTokens(s string) int {
	return len([]rune(s)) / 4
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
