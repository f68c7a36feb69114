package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/farmerassist/internal/adapter/llm"
	"github.com/xiaot623/farmerassist/internal/domain"
)

func deltaFrame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", content)
}

// streamServer answers every completion request with the given frames and
// counts the requests it received.
func streamServer(t *testing.T, frames ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

type recorder struct {
	mu            sync.Mutex
	notifications []domain.Notification
	snapshots     []Snapshot
}

func (r *recorder) Notify(n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) Render(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) Notifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.notifications...)
}

func newTestSession(client llm.LLMClient) (*Session, *recorder) {
	rec := &recorder{}
	return NewSession(client, WithNotifier(rec), WithRenderer(rec)), rec
}

// scriptedClient streams fixed fragments, optionally failing afterwards or
// waiting on gate before it starts.
type scriptedClient struct {
	fragments []string
	err       error
	gate      chan struct{}

	mu       sync.Mutex
	requests []*llm.ChatCompletionRequest
}

func (c *scriptedClient) Validate() error { return nil }

func (c *scriptedClient) CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) (*llm.Usage, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.gate != nil {
		<-c.gate
	}
	for _, f := range c.fragments {
		chunk := &llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{Role: "assistant", Content: f}}}}
		if err := callback(chunk); err != nil {
			return nil, err
		}
	}
	return nil, c.err
}

func (c *scriptedClient) ListModels(ctx context.Context) ([]llm.Model, error) {
	return nil, nil
}

func TestNewSessionSeedsGreeting(t *testing.T) {
	s, _ := newTestSession(&scriptedClient{})
	snap := s.Snapshot()

	assert.Equal(t, []domain.Message{domain.AssistantMessage(Greeting)}, snap.Transcript)
	assert.Equal(t, domain.PhaseIdle, snap.Phase)
	assert.Equal(t, MaxQuestions, snap.Remaining())
	assert.Contains(t, s.ID(), "chat_")
}

func TestSubmitQuestionStreamsAnswer(t *testing.T) {
	var received llm.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, deltaFrame("Pl"))
		fmt.Fprint(w, deltaFrame("ant"))
		fmt.Fprint(w, deltaFrame("io"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	s, rec := newTestSession(llm.NewClient(server.URL, "sk-test", time.Second))
	outcome, err := s.SubmitQuestion(context.Background(), "  Quando plantar milho?  ")
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)

	snap := s.Snapshot()
	assert.Equal(t, []domain.Message{
		domain.AssistantMessage(Greeting),
		domain.UserMessage("Quando plantar milho?"),
		domain.AssistantMessage("Plantio"),
	}, snap.Transcript)
	assert.Equal(t, 1, snap.TurnCount)
	assert.False(t, snap.Pending)
	assert.Equal(t, domain.PhaseCompleted, snap.Phase)
	assert.Empty(t, rec.Notifications())

	assert.True(t, received.Stream)
	assert.Equal(t, DefaultModel, received.Model)
	assert.Equal(t, []llm.ChatMessage{
		{Role: "system", Content: DefaultSystemPrompt},
		{Role: "assistant", Content: Greeting},
		{Role: "user", Content: "Quando plantar milho?"},
	}, received.Messages)
}

func TestSubmitQuestionRendersProgress(t *testing.T) {
	s, rec := newTestSession(&scriptedClient{fragments: []string{"Pl", "", "ant", "io"}})
	_, err := s.SubmitQuestion(context.Background(), "oi")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// user turn, three fragments, completion
	require.Len(t, rec.snapshots, 5)

	first := rec.snapshots[0]
	assert.True(t, first.Pending)
	assert.Equal(t, domain.PhaseSending, first.Phase)
	assert.Equal(t, domain.UserMessage("oi"), first.Transcript[len(first.Transcript)-1])

	var contents []string
	for _, snap := range rec.snapshots[1:4] {
		assert.Equal(t, domain.PhaseStreaming, snap.Phase)
		assert.Len(t, snap.Transcript, 3)
		contents = append(contents, snap.Transcript[2].Content)
	}
	assert.Equal(t, []string{"Pl", "Plant", "Plantio"}, contents)

	last := rec.snapshots[4]
	assert.False(t, last.Pending)
	assert.Equal(t, domain.PhaseCompleted, last.Phase)
}

func TestQuotaAfterThreeExchanges(t *testing.T) {
	server, hits := streamServer(t, deltaFrame("ok"), "data: [DONE]\n\n")
	s, rec := newTestSession(llm.NewClient(server.URL, "sk-test", time.Second))

	for i := 0; i < MaxQuestions; i++ {
		outcome, err := s.SubmitQuestion(context.Background(), fmt.Sprintf("pergunta %d", i))
		require.NoError(t, err)
		require.Equal(t, Completed, outcome)
	}
	require.EqualValues(t, 3, hits.Load())
	before := len(s.Snapshot().Transcript)

	outcome, err := s.SubmitQuestion(context.Background(), "mais uma")
	require.NoError(t, err)
	assert.Equal(t, LimitReached, outcome)

	snap := s.Snapshot()
	assert.EqualValues(t, 3, hits.Load())
	assert.True(t, snap.QuotaExhausted)
	assert.Equal(t, 3, snap.TurnCount)
	assert.Zero(t, snap.Remaining())
	require.Len(t, snap.Transcript, before+1)
	assert.Equal(t, domain.AssistantMessage(LimitNotice), snap.Transcript[before])

	// the notice is appended again on every further attempt
	outcome, _ = s.SubmitQuestion(context.Background(), "e agora?")
	assert.Equal(t, LimitReached, outcome)
	snap = s.Snapshot()
	require.Len(t, snap.Transcript, before+2)
	assert.Equal(t, domain.AssistantMessage(LimitNotice), snap.Transcript[before+1])
	assert.EqualValues(t, 3, hits.Load())
	assert.Empty(t, rec.Notifications())
}

func TestSubmitWhilePendingIsNoop(t *testing.T) {
	client := &scriptedClient{fragments: []string{"resposta"}, gate: make(chan struct{})}
	s, _ := newTestSession(client)

	done := make(chan Outcome)
	go func() {
		outcome, _ := s.SubmitQuestion(context.Background(), "primeira")
		done <- outcome
	}()

	require.Eventually(t, func() bool { return s.Snapshot().Pending }, time.Second, time.Millisecond)
	before := s.Snapshot().Transcript

	outcome, err := s.SubmitQuestion(context.Background(), "segunda")
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)
	assert.Equal(t, before, s.Snapshot().Transcript)

	close(client.gate)
	assert.Equal(t, Completed, <-done)

	client.mu.Lock()
	assert.Len(t, client.requests, 1)
	client.mu.Unlock()
	assert.Equal(t, 1, s.Snapshot().TurnCount)
}

func TestSubmitEmptyIsNoop(t *testing.T) {
	client := &scriptedClient{}
	s, rec := newTestSession(client)

	for _, text := range []string{"", "   ", "\n\t"} {
		outcome, err := s.SubmitQuestion(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, Ignored, outcome)
	}
	assert.Len(t, s.Snapshot().Transcript, 1)
	assert.Empty(t, client.requests)
	assert.Empty(t, rec.snapshots)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	server, _ := streamServer(t,
		deltaFrame("Solo "),
		"data: {\"choices\":[{\"delta\":{\"content\":\"trunc\n\n",
		deltaFrame("fértil"),
		"data: [DONE]\n\n",
	)
	s, rec := newTestSession(llm.NewClient(server.URL, "sk-test", time.Second))

	outcome, err := s.SubmitQuestion(context.Background(), "Como está meu solo?")
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)

	transcript := s.Snapshot().Transcript
	assert.Equal(t, domain.AssistantMessage("Solo fértil"), transcript[len(transcript)-1])
	assert.Empty(t, rec.Notifications())
}

func TestSplitFrameMatchesWholeFrame(t *testing.T) {
	frame := deltaFrame("Adubação verde")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, frame[:7])
		flusher.Flush()
		fmt.Fprint(w, frame[7:30])
		flusher.Flush()
		fmt.Fprint(w, frame[30:])
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	s, _ := newTestSession(llm.NewClient(server.URL, "sk-test", time.Second))
	_, err := s.SubmitQuestion(context.Background(), "o que é adubação verde?")
	require.NoError(t, err)

	transcript := s.Snapshot().Transcript
	assert.Equal(t, "Adubação verde", transcript[len(transcript)-1].Content)
}

func TestFailureBeforeFragmentRollsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	}))
	defer server.Close()

	s, rec := newTestSession(llm.NewClient(server.URL, "sk-test", time.Second))
	before := len(s.Snapshot().Transcript)

	outcome, err := s.SubmitQuestion(context.Background(), "Qual o melhor adubo?")
	assert.Equal(t, Failed, outcome)
	var tErr *llm.TransportError
	require.True(t, errors.As(err, &tErr))

	snap := s.Snapshot()
	require.Len(t, snap.Transcript, before+1)
	assert.Equal(t, domain.UserMessage("Qual o melhor adubo?"), snap.Transcript[before])
	assert.Zero(t, snap.TurnCount)
	assert.False(t, snap.Pending)
	assert.False(t, snap.QuotaExhausted)
	assert.Equal(t, domain.PhaseFailed, snap.Phase)
	assert.Equal(t, []domain.Notification{{Kind: domain.NotificationError, Message: "Rate limit reached"}}, rec.Notifications())
}

func TestFailureMidStreamDiscardsPartialAnswer(t *testing.T) {
	client := &scriptedClient{
		fragments: []string{"Use cal", "cário"},
		err:       &llm.TransportError{Message: llm.DefaultTransportMessage, Err: errors.New("connection reset")},
	}
	s, rec := newTestSession(client)

	outcome, err := s.SubmitQuestion(context.Background(), "Como corrigir pH?")
	assert.Equal(t, Failed, outcome)
	assert.Error(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, domain.UserMessage("Como corrigir pH?"), snap.Transcript[1])
	assert.Zero(t, snap.TurnCount)
	assert.Equal(t, []domain.Notification{{Kind: domain.NotificationError, Message: llm.DefaultTransportMessage}}, rec.Notifications())
}

func TestFailuresDoNotConsumeQuota(t *testing.T) {
	client := &scriptedClient{err: &llm.TransportError{StatusCode: http.StatusBadGateway}}
	s, rec := newTestSession(client)

	for i := 0; i < MaxQuestions+2; i++ {
		outcome, _ := s.SubmitQuestion(context.Background(), "de novo")
		assert.Equal(t, Failed, outcome)
	}

	snap := s.Snapshot()
	assert.Zero(t, snap.TurnCount)
	assert.False(t, snap.QuotaExhausted)
	assert.Len(t, rec.Notifications(), MaxQuestions+2)
	assert.Equal(t, llm.DefaultErrorMessage, rec.Notifications()[0].Message)
}

func TestCancelledExchangeFails(t *testing.T) {
	s, rec := newTestSession(llm.NewMockClient())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := s.SubmitQuestion(ctx, "olá")
	assert.Equal(t, Failed, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, s.Snapshot().Transcript, 2)
	assert.Len(t, rec.Notifications(), 1)
}

func TestMissingCredential(t *testing.T) {
	server, hits := streamServer(t, deltaFrame("nunca"))
	s, rec := newTestSession(llm.NewClient(server.URL, "", time.Second))
	before := s.Snapshot()

	outcome, err := s.SubmitQuestion(context.Background(), "Posso plantar feijão agora?")
	assert.Equal(t, NotConfigured, outcome)
	var cfgErr *llm.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	assert.Equal(t, []domain.Notification{{Kind: domain.NotificationError, Message: llm.MissingKeyMessage}}, rec.Notifications())
	assert.Equal(t, before, s.Snapshot())
	assert.Zero(t, hits.Load())
}

func TestQuotaCheckPrecedesCredentialCheck(t *testing.T) {
	s, rec := newTestSession(llm.NewClient("http://127.0.0.1:0", "", time.Second))
	s.turnCount = MaxQuestions

	outcome, err := s.SubmitQuestion(context.Background(), "oi")
	require.NoError(t, err)
	assert.Equal(t, LimitReached, outcome)
	assert.Empty(t, rec.Notifications())
}

func TestSessionOptions(t *testing.T) {
	temp := 0.3
	client := &scriptedClient{fragments: []string{"ok"}}
	s := NewSession(client,
		WithModel("gpt-4o"),
		WithSystemPrompt("Responda em uma frase."),
		WithTemperature(&temp),
		WithModel(""),
		WithSystemPrompt("  "),
	)

	_, err := s.SubmitQuestion(context.Background(), "oi")
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "Responda em uma frase.", req.Messages[0].Content)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.3, *req.Temperature)
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := newTestSession(&scriptedClient{})
	snap := s.Snapshot()
	snap.Transcript[0].Content = "alterado"

	assert.Equal(t, Greeting, s.Snapshot().Transcript[0].Content)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "limit_reached", LimitReached.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
