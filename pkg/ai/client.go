package ai

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checker",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of generation requests",
	}, []string{"model"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checker",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of failed generation requests",
	}, []string{"model", "kind"})

	keyRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checker",
		Subsystem: "ai",
		Name:      "key_rotations_total",
		Help:      "Number of credential rotations caused by quota errors",
	})
)

// ErrQuotaExhausted reports that the service rejected the call because of
// rate or usage limits. Recoverable through HandleQuota.
var ErrQuotaExhausted = errors.New("quota exhausted")

// ErrModelUnavailable reports that the requested model id is unknown to the
// service. Not retryable for that model.
var ErrModelUnavailable = errors.New("model unavailable")

var retryHintPattern = regexp.MustCompile(`retry in (\d+(?:\.\d+)?)s`)

// Config defines configuration options for the generation client.
type Config struct {
	APIKeys        []string
	BaseURL        string
	ProxyURL       string
	MinDelay       time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	RetryHintPad   time.Duration
	Temperature    float32
	MaxTokens      int
	Logger         zerolog.Logger
}

// Client calls the generation API with a minimum delay between requests and
// rotates through the credential pool when a key runs out of quota. All
// requests are serialized behind the client mutex.
type Client struct {
	mu          sync.Mutex
	cfg         Config
	keys        []string
	keyIndex    int
	usage       []int
	api         *openai.Client
	lastRequest time.Time
	httpClient  *http.Client

	tracer trace.Tracer
	logger zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randf func() float64
}

// NewClient builds a rate-limited client over the credential pool.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one api key is required")
	}

	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 10 * time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.RetryHintPad <= 0 {
		cfg.RetryHintPad = 10 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}

	httpClient, err := buildHTTPClient(cfg.ProxyURL, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		keys:       append([]string(nil), cfg.APIKeys...),
		usage:      make([]int, len(cfg.APIKeys)),
		httpClient: httpClient,
		tracer:     otel.Tracer("github.com/edulab/autochecker/pkg/ai"),
		logger:     cfg.Logger.With().Str("component", "ai_client").Logger(),
		now:        time.Now,
		sleep:      sleepContext,
		randf:      rand.Float64,
	}
	c.api = c.buildAPI(c.keys[0])

	return c, nil
}

func buildHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if proxyURL == "" {
		return client, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	return client, nil
}

func (c *Client) buildAPI(key string) *openai.Client {
	conf := openai.DefaultConfig(key)
	if c.cfg.BaseURL != "" {
		conf.BaseURL = c.cfg.BaseURL
	}
	conf.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(conf)
}

// Generate sends a single prompt to the given model and returns the response
// text. Waits out the configured minimum delay since the previous call before
// sending. Quota and unknown-model failures are reported through
// ErrQuotaExhausted and ErrModelUnavailable.
func (c *Client) Generate(ctx context.Context, prompt, model string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "ai.generate", trace.WithAttributes(
		attribute.String("model", model),
		attribute.Int("key_index", c.keyIndex),
	))
	defer span.End()

	if err := c.waitForRateLimit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate_limit_wait_interrupted")
		return "", err
	}
	c.lastRequest = c.now()

	request := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	start := c.now()
	resp, err := c.api.CreateChatCompletion(ctx, request)
	requestDuration.WithLabelValues(model).Observe(c.now().Sub(start).Seconds())
	if err != nil {
		classified := classify(err)
		requestFailures.WithLabelValues(model, failureKind(classified)).Inc()
		span.RecordError(classified)
		span.SetStatus(codes.Error, failureKind(classified))
		return "", classified
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned for model %s", model)
		requestFailures.WithLabelValues(model, "empty").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty_response")
		return "", err
	}

	c.usage[c.keyIndex]++
	c.logger.Debug().
		Str("model", model).
		Int("key_index", c.keyIndex).
		Int("key_usage", c.usage[c.keyIndex]).
		Msg("response received")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// waitForRateLimit sleeps until at least MinDelay has passed since the last
// request, plus jitter bounded by MaxDelay-MinDelay. Called with mu held.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	elapsed := c.now().Sub(c.lastRequest)
	if c.lastRequest.IsZero() || elapsed >= c.cfg.MinDelay {
		return nil
	}

	jitter := time.Duration(c.randf() * float64(c.cfg.MaxDelay-c.cfg.MinDelay))
	wait := c.cfg.MinDelay - elapsed + jitter
	c.logger.Debug().Dur("wait", wait).Msg("waiting for rate limit")
	return c.sleep(ctx, wait)
}

// HandleQuota recovers from a quota-exhaustion error: rotates to the next
// credential and waits either the service's retry hint plus a safety pad, or
// an exponential backoff derived from the attempt number. Returns the
// incremented attempt counter.
func (c *Client) HandleQuota(ctx context.Context, cause error, attempt int) (int, error) {
	if attempt < 1 {
		attempt = 1
	}

	c.mu.Lock()
	c.rotateKeyLocked()
	c.mu.Unlock()

	var wait time.Duration
	if hint, ok := ParseRetryHint(errorMessage(cause)); ok {
		wait = hint + c.cfg.RetryHintPad
	} else {
		wait = c.cfg.BackoffBase << (attempt - 1)
	}

	c.logger.Warn().
		Dur("wait", wait).
		Int("attempt", attempt).
		Msg("quota exhausted, rotated key and backing off")

	if err := c.sleep(ctx, wait); err != nil {
		return attempt, err
	}
	return attempt + 1, nil
}

func (c *Client) rotateKeyLocked() {
	c.keyIndex = (c.keyIndex + 1) % len(c.keys)
	c.api = c.buildAPI(c.keys[c.keyIndex])
	keyRotations.Inc()
	c.logger.Info().
		Int("key_index", c.keyIndex).
		Int("pool_size", len(c.keys)).
		Msg("switched api key")
}

// KeyIndex reports the index of the credential currently in use.
func (c *Client) KeyIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyIndex
}

// Usage returns per-credential request counts, for observability only.
func (c *Client) Usage() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.usage...)
}

// ParseRetryHint extracts the "retry in Ns" wait suggested by the service in
// a quota error message.
func ParseRetryHint(msg string) (time.Duration, bool) {
	m := retryHintPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// IsQuotaError reports whether err denotes quota exhaustion.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

// IsModelUnavailable reports whether err denotes an unknown model id.
func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrQuotaExhausted, apiErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrModelUnavailable, apiErr.Message)
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, msg)
	case strings.Contains(msg, "404") || strings.Contains(msg, "NOT_FOUND"):
		return fmt.Errorf("%w: %s", ErrModelUnavailable, msg)
	}
	return err
}

func failureKind(err error) string {
	switch {
	case IsQuotaError(err):
		return "quota"
	case IsModelUnavailable(err):
		return "model_unavailable"
	default:
		return "transient"
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
