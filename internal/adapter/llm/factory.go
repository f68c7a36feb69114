package llm

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ModeMock selects the offline mock client.
const ModeMock = "MOCK"

// mockChunkDelay paces the mock stream so the widget visibly streams.
const mockChunkDelay = 40 * time.Millisecond

// NewLLMClient creates an LLM client for the given mode.
// If mode is MOCK, returns a MockClient; otherwise returns a real Client.
func NewLLMClient(mode, baseURL, apiKey string, timeout time.Duration) LLMClient {
	if strings.EqualFold(mode, ModeMock) {
		log.Info().Str("component", "llm").Msg("mock mode selected, using mock LLM client")
		mock := NewMockClient()
		mock.ChunkDelay = mockChunkDelay
		return mock
	}

	return NewClient(baseURL, apiKey, timeout)
}
