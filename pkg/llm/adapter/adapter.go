// Package adapter wraps an llm.Provider with the bookkeeping agents rely on:
// message formatting, a cumulative input-token ceiling checked before every
// call, retries for transient faults and usage logging.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/llm/tokenizer"
	"github.com/entrhq/conduit/pkg/logging"
	"github.com/entrhq/conduit/pkg/types"
)

var (
	// ErrBudgetExceeded is wrapped by every Rejected result.
	ErrBudgetExceeded = errors.New("input token budget exceeded")

	// ErrInvalidToolChoice is returned for tool choices outside none/auto/required.
	ErrInvalidToolChoice = errors.New("invalid tool choice")
)

var adapterLog *logging.Logger

func init() {
	var err error
	adapterLog, err = logging.NewLogger("adapter")
	if err != nil {
		adapterLog.Warnf("Failed to initialize adapter logger, using stderr fallback: %v", err)
	}
}

// MultimodalModels accept image content. Other models get text only.
var MultimodalModels = []string{
	"o1",
	"o3-mini",
	"o4-mini",
	"gpt-4-vision-preview",
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4.1-mini",
	"gpt-4.1",
	"openai/o1",
	"openai/o3-mini",
	"openai/o4-mini",
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"openai/gpt-4.1-mini",
	"openai/gpt-4.1",
	"google/gemini-2.5-flash",
	"google/gemini-2.5-pro",
	"anthropic/claude-sonnet-4",
}

// IsMultimodal reports whether model is in MultimodalModels.
func IsMultimodal(model string) bool {
	for _, m := range MultimodalModels {
		if m == model {
			return true
		}
	}
	return false
}

const (
	DefaultMaxRetries = 3
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 60 * time.Second

	// reconnectDelay is the pause after rebuilding the transport.
	reconnectDelay = time.Second
)

// Config holds adapter limits.
type Config struct {
	// MaxInputTokens caps cumulative input tokens. Zero disables the check.
	MaxInputTokens int
	MaxTokens      int
	Temperature    *float64
	MaxRetries     int
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	// SupportsImages overrides the MultimodalModels lookup when set.
	SupportsImages *bool
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// Adapter is safe for concurrent use.
type Adapter struct {
	provider       llm.Provider
	counter        *tokenizer.Counter
	usage          *tokenizer.Usage
	cfg            Config
	supportsImages bool

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
	log    *logging.Logger
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) {
		a.sleep = sleep
	}
}

// WithJitter replaces the random source used for backoff. f must return a
// value in [0, 1).
func WithJitter(f func() float64) Option {
	return func(a *Adapter) {
		a.jitter = f
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Adapter) {
		a.log = l
	}
}

// New creates an adapter over provider.
func New(provider llm.Provider, counter *tokenizer.Counter, cfg Config, opts ...Option) *Adapter {
	cfg = cfg.withDefaults()
	a := &Adapter{
		provider:       provider,
		counter:        counter,
		usage:          tokenizer.NewUsage(cfg.MaxInputTokens),
		cfg:            cfg,
		supportsImages: IsMultimodal(provider.GetModel()),
		sleep:          sleepContext,
		jitter:         rand.Float64,
		log:            adapterLog,
	}
	if cfg.SupportsImages != nil {
		a.supportsImages = *cfg.SupportsImages
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Model returns the provider's model name.
func (a *Adapter) Model() string {
	return a.provider.GetModel()
}

// SupportsImages reports whether image content is forwarded.
func (a *Adapter) SupportsImages() bool {
	return a.supportsImages
}

// Usage returns the cumulative token tracker.
func (a *Adapter) Usage() *tokenizer.Usage {
	return a.usage
}

// Ask sends a batch request without tools.
func (a *Adapter) Ask(ctx context.Context, messages, system []*types.Message) Result {
	return a.complete(ctx, messages, system, nil, types.ToolChoiceNone)
}

// AskWithTools sends a batch request advertising tools.
func (a *Adapter) AskWithTools(ctx context.Context, messages, system []*types.Message, tools []llm.ToolDefinition, choice types.ToolChoice) Result {
	if !choice.Valid() {
		return failed(fmt.Errorf("%w: %q", ErrInvalidToolChoice, choice))
	}
	return a.complete(ctx, messages, system, tools, choice)
}

// AskStreaming streams a response without tools.
func (a *Adapter) AskStreaming(ctx context.Context, messages, system []*types.Message) Result {
	return a.stream(ctx, messages, system, nil, types.ToolChoiceNone)
}

// AskWithToolsStreaming streams a response advertising tools. Tool-call
// fragments arrive in StreamChunk.ToolCalls.
func (a *Adapter) AskWithToolsStreaming(ctx context.Context, messages, system []*types.Message, tools []llm.ToolDefinition, choice types.ToolChoice) Result {
	if !choice.Valid() {
		return failed(fmt.Errorf("%w: %q", ErrInvalidToolChoice, choice))
	}
	return a.stream(ctx, messages, system, tools, choice)
}

// prepare formats the request and checks the budget.
func (a *Adapter) prepare(messages, system []*types.Message, tools []llm.ToolDefinition, choice types.ToolChoice) (*llm.Request, int, *Result) {
	formatted := FormatMessages(messages, system, a.supportsImages)

	needed := a.counter.CountMessages(formatted)
	if len(tools) > 0 {
		needed += a.counter.CountTools(tools)
	}
	if err := a.usage.Check(needed); err != nil {
		a.log.Warnf("Rejecting request before sending: %v", err)
		r := rejected(err)
		return nil, 0, &r
	}

	req := &llm.Request{
		Messages:    formatted,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = choice
	}
	return req, needed, nil
}

func (a *Adapter) complete(ctx context.Context, messages, system []*types.Message, tools []llm.ToolDefinition, choice types.ToolChoice) Result {
	req, estimated, rejection := a.prepare(messages, system, tools, choice)
	if rejection != nil {
		return *rejection
	}

	var resp *llm.Response
	err := a.withRetry(ctx, func() error {
		var err error
		resp, err = a.provider.Complete(ctx, req)
		return err
	})
	if err != nil {
		return failed(err)
	}

	prompt, completion := estimated, a.counter.CountText(resp.Content)
	if resp.Usage != nil {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	a.record(prompt, completion)

	var msg *types.Message
	if len(resp.ToolCalls) > 0 {
		msg = types.NewToolCallsMessage(resp.Content, resp.ToolCalls)
	} else {
		msg = types.NewAssistantMessage(resp.Content)
	}
	return Result{Status: StatusOK, Message: msg}
}

// retryState tracks one logical request across attempts.
type retryState struct {
	attempt     int
	reconnected bool
}

// withRetry runs call until it succeeds, fails permanently or runs out of
// attempts.
func (a *Adapter) withRetry(ctx context.Context, call func() error) error {
	st := &retryState{attempt: 1}
	for {
		err := call()
		if err == nil {
			return nil
		}
		if !a.retry(ctx, st, err, true) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// retry decides whether err warrants another attempt and waits before it.
// Authentication failures get one reconnect and one final try regardless of
// replayable; transient faults are retried with backoff only while the
// request can be replayed without duplicating output.
func (a *Adapter) retry(ctx context.Context, st *retryState, err error, replayable bool) bool {
	if ctx.Err() != nil || st.reconnected {
		return false
	}
	if llm.IsAuthError(err) {
		st.reconnected = true
		return a.reconnect(ctx, err) == nil
	}
	if !replayable || !llm.IsRetryable(err) || st.attempt >= a.cfg.MaxRetries {
		return false
	}

	wait := a.backoff(st.attempt, err)
	a.log.Warnf("Retrying %s in %s (attempt %d/%d): %v", a.Model(), wait, st.attempt, a.cfg.MaxRetries, err)
	if serr := a.sleep(ctx, wait); serr != nil {
		return false
	}
	st.attempt++
	return true
}

func (a *Adapter) reconnect(ctx context.Context, cause error) error {
	a.log.Warnf("Authentication error: %v. Re-creating client and retrying once...", cause)
	if rc, ok := a.provider.(llm.Reconnector); ok {
		if err := rc.Reconnect(); err != nil {
			a.log.Errorf("Reconnect failed: %v", err)
			return err
		}
	}
	return a.sleep(ctx, reconnectDelay)
}

// backoff returns a random delay in [min, min(max, min*2^attempt)], never
// shorter than a server-provided Retry-After.
func (a *Adapter) backoff(attempt int, err error) time.Duration {
	upper := float64(a.cfg.MinBackoff) * math.Pow(2, float64(attempt))
	if upper > float64(a.cfg.MaxBackoff) {
		upper = float64(a.cfg.MaxBackoff)
	}
	lower := float64(a.cfg.MinBackoff)
	wait := time.Duration(lower + a.jitter()*(upper-lower))
	if ra := llm.GetRetryAfter(err); ra != nil && *ra > wait {
		wait = *ra
	}
	return wait
}

func (a *Adapter) record(prompt, completion int) {
	a.usage.Add(prompt, completion)
	totalIn, totalOut := a.usage.Totals()
	a.log.Infof("Max Input Tokens=%d, Max Completion Tokens=%d, Token usage: Input=%d, Completion=%d, Cumulative Input=%d, Cumulative Completion=%d",
		a.usage.MaxInput(), a.cfg.MaxTokens, prompt, completion, totalIn, totalOut)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
