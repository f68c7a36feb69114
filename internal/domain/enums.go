package domain

// ExchangePhase is the state of the most recent user→assistant exchange.
type ExchangePhase string

const (
	PhaseIdle      ExchangePhase = "idle"
	PhaseSending   ExchangePhase = "sending"
	PhaseStreaming ExchangePhase = "streaming"
	PhaseCompleted ExchangePhase = "completed"
	PhaseFailed    ExchangePhase = "failed"
)

// InFlight reports whether an exchange in this phase still holds the session.
func (p ExchangePhase) InFlight() bool {
	return p == PhaseSending || p == PhaseStreaming
}
