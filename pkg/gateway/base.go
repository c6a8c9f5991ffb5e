// Package gateway provides a uniform, retrying wrapper around the hosted
// chat-completion and text-embedding capabilities.
//
// The gateway is the only component that talks to the model provider.
// Transient transport failures (429 and 5xx by default) are retried with
// exponential backoff and jitter; everything else propagates immediately so
// callers can branch on the original error.
package gateway

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// Message roles accepted by CompleteChat.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrMalformedResponse indicates the model returned a structurally invalid
// response (no choices, missing vectors, or a batch/input count mismatch).
// Malformed responses are fatal and never retried.
var ErrMalformedResponse = errors.New("malformed model response")

// Message is a single message in a chat completion request.
type Message struct {
	// Role is the message role: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message content text.
	Content string `json:"content"`
}

// Completion is the result of a chat completion call: either plain
// assistant text or a structured tool-call payload.
type Completion struct {
	// Text is the assistant message content.
	Text string `json:"text"`

	// ToolCalls contains structured tool invocations requested by the
	// model, if any.
	ToolCalls []openai.ToolCall `json:"tool_calls,omitempty"`
}

// CompleteOptions contains generation parameters for a chat completion.
//
// Pointer fields distinguish "not set" from zero values: a nil MaxTokens
// means no token limit is serialized into the outgoing payload at all.
type CompleteOptions struct {
	// Model overrides the configured chat model.
	Model string

	// Temperature controls randomness (0.0-2.0).
	Temperature *float64

	// MaxTokens limits the response length. Nil means the field is
	// omitted from the request entirely.
	MaxTokens *int

	// TopP controls nucleus sampling (0.0-1.0).
	TopP *float64

	// PresencePenalty penalizes tokens already present in the context.
	PresencePenalty *float64

	// FrequencyPenalty penalizes tokens by their frequency so far.
	FrequencyPenalty *float64

	// ResponseFormat requests a structured response type, e.g.
	// "json_object".
	ResponseFormat string

	// Tools declares tools the model may call.
	Tools []openai.Tool

	// ToolChoice constrains which tool the model must call.
	ToolChoice any
}

// CompleteOption configures a single CompleteChat call. Per-call options
// are merged over the configured defaults.
type CompleteOption func(*CompleteOptions)

// WithModel overrides the chat model for this call.
func WithModel(model string) CompleteOption {
	return func(o *CompleteOptions) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature for this call.
func WithTemperature(temp float64) CompleteOption {
	return func(o *CompleteOptions) {
		o.Temperature = &temp
	}
}

// WithMaxTokens sets the response token limit for this call.
func WithMaxTokens(max int) CompleteOption {
	return func(o *CompleteOptions) {
		o.MaxTokens = &max
	}
}

// WithTopP sets the nucleus sampling parameter for this call.
func WithTopP(topP float64) CompleteOption {
	return func(o *CompleteOptions) {
		o.TopP = &topP
	}
}

// WithPresencePenalty sets the presence penalty for this call.
func WithPresencePenalty(p float64) CompleteOption {
	return func(o *CompleteOptions) {
		o.PresencePenalty = &p
	}
}

// WithFrequencyPenalty sets the frequency penalty for this call.
func WithFrequencyPenalty(p float64) CompleteOption {
	return func(o *CompleteOptions) {
		o.FrequencyPenalty = &p
	}
}

// WithJSONResponse asks the model for a JSON object response.
func WithJSONResponse() CompleteOption {
	return func(o *CompleteOptions) {
		o.ResponseFormat = "json_object"
	}
}

// WithResponseFormat sets an explicit response format type.
func WithResponseFormat(format string) CompleteOption {
	return func(o *CompleteOptions) {
		o.ResponseFormat = format
	}
}

// WithTools declares tools the model may call during this completion.
func WithTools(tools []openai.Tool, choice any) CompleteOption {
	return func(o *CompleteOptions) {
		o.Tools = tools
		o.ToolChoice = choice
	}
}

// merge overlays per-call options onto the configured defaults. Call-level
// values win wherever they are set.
func (base CompleteOptions) merge(opts []CompleteOption) CompleteOptions {
	merged := base
	for _, opt := range opts {
		opt(&merged)
	}
	return merged
}

// EmbedOptions contains parameters for embedding calls.
type EmbedOptions struct {
	// Model overrides the configured embedding model.
	Model string
}

// EmbedOption configures a single Embed or EmbedBatch call.
type EmbedOption func(*EmbedOptions)

// WithEmbedModel overrides the embedding model for this call.
func WithEmbedModel(model string) EmbedOption {
	return func(o *EmbedOptions) {
		o.Model = model
	}
}
