// Package chat implements the widget's conversation session: a bounded
// transcript relayed to a streaming completion endpoint under a
// per-session question quota.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/farmerassist/internal/adapter/llm"
	"github.com/xiaot623/farmerassist/internal/domain"
)

// MaxQuestions is the number of successful exchanges a session allows.
const MaxQuestions = 3

const (
	// Greeting seeds every new transcript.
	Greeting = "Olá! Sou seu assistente de agricultura familiar. Como posso ajudar com questões sobre solo, plantio ou cultivo?"

	// LimitNotice is appended for every submission once the quota is used up.
	LimitNotice = "Você atingiu o limite de perguntas gratuitas. Para mais informações, entre em contato com nossos serviços pelo número (XX) XXXX-XXXX."

	// DefaultSystemPrompt is the assistant persona sent ahead of the transcript.
	DefaultSystemPrompt = "Você é um assistente especializado em agricultura familiar e análise de solo. " +
		"Forneça respostas **curtas, objetivas e práticas** sobre plantio, qualidade do solo, pH, nutrientes, " +
		"irrigação e melhores práticas agrícolas. Use linguagem acessível para agricultores familiares. " +
		"Foque em soluções sustentáveis e de baixo custo."

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
)

// Outcome describes what a call to SubmitQuestion did.
type Outcome int

const (
	// Ignored: empty text or an exchange already in flight. Nothing changed.
	Ignored Outcome = iota
	// LimitReached: the limit notice was appended, no request was sent.
	LimitReached
	// NotConfigured: no credential; one error notification, transcript untouched.
	NotConfigured
	// Completed: the exchange streamed to the end and counted against the quota.
	Completed
	// Failed: the exchange was rolled back and the user notified.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case LimitReached:
		return "limit_reached"
	case NotConfigured:
		return "not_configured"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notifier receives transient user-facing alerts.
type Notifier interface {
	Notify(n domain.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n domain.Notification)

func (f NotifierFunc) Notify(n domain.Notification) { f(n) }

// Renderer receives the latest session state after every change.
type Renderer interface {
	Render(s Snapshot)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(s Snapshot)

func (f RendererFunc) Render(s Snapshot) { f(s) }

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	SessionID      string
	Transcript     []domain.Message
	Pending        bool
	QuotaExhausted bool
	TurnCount      int
	Phase          domain.ExchangePhase
}

// Remaining is the number of questions still allowed.
func (s Snapshot) Remaining() int {
	if n := MaxQuestions - s.TurnCount; n > 0 {
		return n
	}
	return 0
}

// Option configures a Session.
type Option func(*Session)

// WithModel sets the model id sent with every request.
func WithModel(model string) Option {
	return func(s *Session) {
		if model != "" {
			s.model = model
		}
	}
}

// WithSystemPrompt replaces the default persona.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		if strings.TrimSpace(prompt) != "" {
			s.systemPrompt = prompt
		}
	}
}

// WithTemperature sets the sampling temperature. Nil leaves the endpoint default.
func WithTemperature(t *float64) Option {
	return func(s *Session) { s.temperature = t }
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithRenderer sets the render surface.
func WithRenderer(r Renderer) Option {
	return func(s *Session) { s.renderer = r }
}

// Session is a single widget conversation. It is safe for concurrent use;
// at most one exchange runs at a time and submissions made meanwhile are
// rejected.
type Session struct {
	id           string
	client       llm.LLMClient
	model        string
	systemPrompt string
	temperature  *float64
	notifier     Notifier
	renderer     Renderer

	mu             sync.Mutex
	transcript     []domain.Message
	turnCount      int
	quotaExhausted bool
	pending        bool
	phase          domain.ExchangePhase
}

// NewSession creates a session seeded with the greeting.
func NewSession(client llm.LLMClient, opts ...Option) *Session {
	s := &Session{
		id:           "chat_" + uuid.New().String()[:8],
		client:       client,
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
		transcript:   []domain.Message{domain.AssistantMessage(Greeting)},
		phase:        domain.PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	transcript := make([]domain.Message, len(s.transcript))
	copy(transcript, s.transcript)
	return Snapshot{
		SessionID:      s.id,
		Transcript:     transcript,
		Pending:        s.pending,
		QuotaExhausted: s.quotaExhausted,
		TurnCount:      s.turnCount,
		Phase:          s.phase,
	}
}

// SubmitQuestion relays one user question. It blocks until the exchange
// completes or fails and reports what happened; failures are also sent to
// the notifier. The returned error is a *llm.ConfigurationError for
// NotConfigured and the exchange error for Failed.
func (s *Session) SubmitQuestion(ctx context.Context, text string) (Outcome, error) {
	question := strings.TrimSpace(text)

	req, outcome, err := s.begin(question)
	if req == nil {
		return outcome, err
	}
	return s.stream(ctx, req)
}

// begin applies the submission preconditions in order and, when they pass,
// records the user turn and marks the session pending.
func (s *Session) begin(question string) (*llm.ChatCompletionRequest, Outcome, error) {
	s.mu.Lock()

	if question == "" || s.pending {
		s.mu.Unlock()
		return nil, Ignored, nil
	}

	if s.turnCount >= MaxQuestions {
		s.quotaExhausted = true
		s.transcript = append(s.transcript, domain.AssistantMessage(LimitNotice))
		snap := s.snapshotLocked()
		s.mu.Unlock()

		log.Info().Str("session_id", s.id).Msg("question limit reached")
		s.render(snap)
		return nil, LimitReached, nil
	}

	if err := s.client.Validate(); err != nil {
		s.mu.Unlock()

		log.Error().Err(err).Str("session_id", s.id).Msg("completion client not configured")
		s.notify(domain.NotificationError, userMessage(err))
		return nil, NotConfigured, err
	}

	user := domain.UserMessage(question)
	messages := make([]domain.Message, 0, len(s.transcript)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: s.systemPrompt})
	messages = append(messages, s.transcript...)
	messages = append(messages, user)

	s.transcript = append(s.transcript, user)
	s.pending = true
	s.phase = domain.PhaseSending
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.render(snap)
	return &llm.ChatCompletionRequest{
		Model:       s.model,
		Messages:    llm.MessagesFromDomain(messages),
		Temperature: s.temperature,
		Stream:      true,
	}, Completed, nil
}

// stream runs the exchange and settles the session as completed or failed.
func (s *Session) stream(ctx context.Context, req *llm.ChatCompletionRequest) (Outcome, error) {
	exchangeID := "exc_" + uuid.New().String()[:8]
	logger := log.With().Str("session_id", s.id).Str("exchange_id", exchangeID).Logger()
	startTime := time.Now()
	logger.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("exchange started")

	// index of the assistant message created by this exchange, -1 until the
	// first fragment arrives
	assistantIdx := -1
	fragments := 0
	var answer strings.Builder

	usage, err := s.client.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
		fragment := chunk.Content()

		s.mu.Lock()
		s.phase = domain.PhaseStreaming
		if fragment == "" {
			s.mu.Unlock()
			return nil
		}
		fragments++
		answer.WriteString(fragment)
		if assistantIdx < 0 {
			s.transcript = append(s.transcript, domain.AssistantMessage(answer.String()))
			assistantIdx = len(s.transcript) - 1
		} else {
			s.transcript[assistantIdx].Content = answer.String()
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.render(snap)
		return nil
	})

	latency := time.Since(startTime)

	s.mu.Lock()
	s.pending = false
	if err != nil {
		if assistantIdx >= 0 {
			s.transcript = s.transcript[:assistantIdx]
		}
		s.phase = domain.PhaseFailed
	} else {
		s.turnCount++
		s.phase = domain.PhaseCompleted
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		logger.Warn().Err(err).Dur("latency", latency).Int("fragments", fragments).Msg("exchange failed, rolled back")
		s.render(snap)
		s.notify(domain.NotificationError, userMessage(err))
		return Failed, err
	}

	event := logger.Info().Dur("latency", latency).Int("fragments", fragments).Int("turn", snap.TurnCount)
	if usage != nil {
		event = event.Int("total_tokens", usage.TotalTokens)
	}
	event.Msg("exchange completed")
	s.render(snap)
	return Completed, nil
}

func (s *Session) render(snap Snapshot) {
	if s.renderer != nil {
		s.renderer.Render(snap)
	}
}

func (s *Session) notify(kind domain.NotificationKind, message string) {
	if s.notifier != nil {
		s.notifier.Notify(domain.Notification{Kind: kind, Message: message})
	}
}

// userMessage picks the text shown to the user for err.
func userMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return llm.DefaultTransportMessage
}
