// Package llm provides a client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/farmerassist/internal/domain"
	"github.com/xiaot623/farmerassist/internal/sse"
)

// APIKeyEnv names the setting that carries the bearer credential.
const APIKeyEnv = "OPENAI_API_KEY"

const readBufferSize = 4096

// Client is the completion API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new completion API client. A zero timeout leaves the
// stream unbounded in time.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ChatCompletionRequest represents the chat completion request body.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatMessage represents a chat message on the wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesFromDomain converts transcript messages to their wire form.
func MessagesFromDomain(msgs []domain.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// Choice represents a completion choice.
type Choice struct {
	Index        int          `json:"index"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single frame payload of a streamed response.
type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Content returns the text fragment carried by the first choice.
func (c *StreamChunk) Content() string {
	if len(c.Choices) == 0 || c.Choices[0].Delta == nil {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError represents the error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Model represents a model from the models list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse represents the response from /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// StreamCallback is called for each chunk in a streaming response.
type StreamCallback func(chunk *StreamChunk) error

// Validate fails with a ConfigurationError when no credential is set.
func (c *Client) Validate() error {
	if c.apiKey == "" {
		return &ConfigurationError{Key: APIKeyEnv}
	}
	return nil
}

// CreateChatCompletionStream sends a streaming chat completion request and
// calls callback for every chunk, in arrival order, until the terminal frame
// or the end of the body. Malformed frames are skipped.
func (c *Client) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Message: DefaultTransportMessage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeErrorResponse(resp)
	}

	return readStream(ctx, resp.Body, callback)
}

// readStream feeds body reads through an sse.Decoder. The body is consumed
// with a fixed buffer so stream length is unbounded.
func readStream(ctx context.Context, body io.Reader, callback StreamCallback) (*Usage, error) {
	var usage *Usage
	dec := sse.NewDecoder()

	handle := func(frame sse.Frame) error {
		chunk, err := decodeChunk(frame.Data)
		if err != nil {
			log.Debug().Err(err).Str("component", "llm").Msg("skipping stream frame")
			return nil
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		return callback(chunk)
	}

	buf := make([]byte, readBufferSize)
	for !dec.Done() {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				if frame.Terminal {
					break
				}
				if err := handle(frame); err != nil {
					return usage, err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				readErr = ctxErr
			}
			return usage, &TransportError{Message: DefaultTransportMessage, Err: errors.Wrap(readErr, "read stream")}
		}
	}

	if frame, ok := dec.Flush(); ok && !frame.Terminal {
		if err := handle(frame); err != nil {
			return usage, err
		}
	}
	return usage, nil
}

func decodeChunk(data []byte) (*StreamChunk, error) {
	var chunk StreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, &ParseError{Payload: string(data), Err: err}
	}
	return &chunk, nil
}

// decodeErrorResponse turns a non-2xx answer into a TransportError carrying
// the endpoint's message when it sent one.
func decodeErrorResponse(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	tErr := &TransportError{StatusCode: resp.StatusCode, Message: DefaultErrorMessage}

	var errResp ErrorResponse
	if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		tErr.Message = errResp.Error.Message
	}
	return tErr
}

// ListModels retrieves the list of available models.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Message: DefaultTransportMessage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}

	var result ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode models response")
	}
	return result.Data, nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
