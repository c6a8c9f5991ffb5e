package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Transport is the raw model-provider surface the gateway retries over.
// The production transport is the OpenAI-compatible HTTP client; tests
// inject fakes.
type Transport interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error)
}

// Config contains gateway configuration.
type Config struct {
	// APIKey authenticates against the model provider.
	APIKey string

	// BaseURL overrides the provider endpoint (optional).
	BaseURL string

	// ChatModel is the default chat model.
	ChatModel string

	// EmbedModel is the default embedding model.
	EmbedModel string

	// Defaults are the generation parameters applied to every
	// CompleteChat call unless overridden per call.
	Defaults CompleteOptions

	// MaxRetries is the number of additional attempts after the first.
	// Total attempts = MaxRetries + 1. Zero means the default of 3; pass
	// any negative value to disable retries entirely.
	MaxRetries int

	// BaseDelay is the backoff base for the first retry. Default: 500ms.
	BaseDelay time.Duration

	// RetryableStatuses overrides the set of transport status codes that
	// are retried. Default: 429, 500, 502, 503, 504.
	RetryableStatuses []int

	// Delay overrides the retry delay strategy (tests).
	Delay DelayFunc

	// Logger receives retry and failure records. Default: slog.Default().
	Logger *slog.Logger
}

// Client is the retrying gateway. Configuration is immutable after
// construction; the underlying transport is built lazily and exactly once.
type Client struct {
	cfg        Config
	maxRetries int
	retryable  map[int]bool
	delay      DelayFunc
	logger     *slog.Logger

	once      sync.Once
	transport Transport
}

// NewClient creates a gateway client from cfg. The transport is not dialed
// here; it is constructed on first use.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("gateway: NewClient: api key is required")
	}
	return newClient(cfg, nil), nil
}

// NewClientWithTransport creates a gateway client over an explicit
// transport. Used by callers that bring their own client and by tests.
func NewClientWithTransport(cfg *Config, t Transport) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return newClient(cfg, t)
}

func newClient(cfg *Config, t Transport) *Client {
	c := &Client{
		cfg:        *cfg,
		maxRetries: cfg.MaxRetries,
		transport:  t,
	}
	if cfg.MaxRetries == 0 {
		c.maxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		c.maxRetries = 0
	}

	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	c.retryable = make(map[int]bool, len(statuses))
	for _, s := range statuses {
		c.retryable[s] = true
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = 500 * time.Millisecond
	}
	c.delay = cfg.Delay
	if c.delay == nil {
		c.delay = ExponentialJitter(baseDelay)
	}

	c.logger = cfg.Logger
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// transportHandle returns the transport, building the default
// OpenAI-compatible client on first use.
func (c *Client) transportHandle() Transport {
	c.once.Do(func() {
		if c.transport != nil {
			return
		}
		conf := openai.DefaultConfig(c.cfg.APIKey)
		if c.cfg.BaseURL != "" {
			conf.BaseURL = c.cfg.BaseURL
		}
		c.transport = &openaiTransport{client: openai.NewClientWithConfig(conf)}
	})
	return c.transport
}

// CompleteChat sends a chat completion request and returns the assistant
// text or tool-call payload. Per-call options are merged over the
// configured defaults; retries follow the configured policy.
func (c *Client) CompleteChat(ctx context.Context, messages []Message, opts ...CompleteOption) (*Completion, error) {
	merged := c.cfg.Defaults.merge(opts)
	req := c.buildChatRequest(messages, merged)

	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, "CompleteChat", func() error {
		var callErr error
		resp, callErr = c.transportHandle().CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	msg := resp.Choices[0].Message
	return &Completion{
		Text:      msg.Content,
		ToolCalls: msg.ToolCalls,
	}, nil
}

// buildChatRequest translates merged options into the wire request.
// Unset pointer options stay at their zero value, which the wire codec
// omits: no token limit configured means no max_tokens key serialized.
func (c *Client) buildChatRequest(messages []Message, opts CompleteOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = c.cfg.ChatModel
	}

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: chatMessages,
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}
	if opts.PresencePenalty != nil {
		req.PresencePenalty = float32(*opts.PresencePenalty)
	}
	if opts.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*opts.FrequencyPenalty)
	}
	if opts.ResponseFormat != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatType(opts.ResponseFormat),
		}
	}
	if len(opts.Tools) > 0 {
		req.Tools = opts.Tools
		req.ToolChoice = opts.ToolChoice
	}
	return req
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string, opts ...EmbedOption) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text}, opts...)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts multiple texts to vectors. The returned vector count
// must equal the input count and every vector must be non-empty; a
// violation is a fatal, non-retried error.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, opts ...EmbedOption) ([][]float64, error) {
	options := &EmbedOptions{}
	for _, opt := range opts {
		opt(options)
	}
	model := options.Model
	if model == "" {
		model = c.cfg.EmbedModel
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}

	var resp openai.EmbeddingResponse
	err := c.withRetry(ctx, "EmbedBatch", func() error {
		var callErr error
		resp, callErr = c.transportHandle().CreateEmbeddings(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs",
			ErrMalformedResponse, len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for i, data := range resp.Data {
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty vector at index %d", ErrMalformedResponse, i)
		}
		vector := make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			vector[j] = float64(v)
		}
		vectors[i] = vector
	}

	return vectors, nil
}

// openaiTransport adapts the OpenAI SDK client to the Transport interface.
type openaiTransport struct {
	client *openai.Client
}

func (t *openaiTransport) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return t.client.CreateChatCompletion(ctx, req)
}

func (t *openaiTransport) CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
	return t.client.CreateEmbeddings(ctx, req)
}
