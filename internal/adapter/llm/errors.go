package llm

import "fmt"

// Fallback messages shown when the endpoint gives nothing better.
const (
	DefaultErrorMessage     = "Erro ao processar mensagem"
	DefaultTransportMessage = "Erro ao enviar mensagem"
	MissingKeyMessage       = "Chave da OpenAI não configurada"
)

// ConfigurationError reports a setting that must be present before any
// request can be sent.
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Key)
}

// UserMessage is the text shown in the widget for this error.
func (e *ConfigurationError) UserMessage() string {
	return MissingKeyMessage
}

// TransportError is a network failure or a non-2xx answer from the
// completion endpoint.
type TransportError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	// Message is the endpoint's error message, or a generic fallback.
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("LLM API error [%d]: %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM transport error: %v", e.Err)
	}
	return "LLM transport error: " + e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown in the widget for this error.
func (e *TransportError) UserMessage() string {
	if e.Message == "" {
		return DefaultErrorMessage
	}
	return e.Message
}

// ParseError is a stream frame whose payload is not a valid chunk. It never
// aborts a stream.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed stream frame %q: %v", truncate(e.Payload, 64), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
