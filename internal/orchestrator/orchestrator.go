// Package orchestrator drives the streaming model invocation for one turn
// under the tool-only policy.
//
// Transient failures (network errors, 5xx, rate limits) are retried with
// exponential backoff plus jitter, honoring Retry-After as a lower bound.
// Once the first tool call has been dispatched the turn is externalized and
// any further failure is terminal.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AcrylicShrimp/fathom/internal/backoff"
	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/internal/observability"
	"github.com/AcrylicShrimp/fathom/internal/tools"
)

// EventType identifies the kind of model event.
type EventType string

const (
	// EventNote is an informational phase marker (request started, retry
	// scheduled). Surfaced as AgentStream events.
	EventNote EventType = "note"
	// EventTextFragment is a streamed text delta.
	EventTextFragment EventType = "text_fragment"
	// EventToolCall is a completed, validated tool call ready for dispatch.
	EventToolCall EventType = "tool_call"
	// EventDone ends a successful stream; Text carries the accumulated
	// assistant text, possibly empty.
	EventDone EventType = "done"
	// EventError ends the stream with a turn-terminal failure.
	EventError EventType = "error"
)

// Event is one element of the lazy model-event stream consumed by the actor.
type Event struct {
	Type     EventType
	Note     string
	Delta    string
	ToolCall *ToolCall
	Text     string
	Err      *Error
}

// ToolCall is a validated tool invocation from the model.
type ToolCall struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

// Orchestrator owns the OpenAI client and retry policy. Safe for concurrent
// use across sessions; each Run is independent.
type Orchestrator struct {
	client     *openai.Client
	model      string
	maxRetries int
	policy     backoff.Policy
	registry   *tools.Registry
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New builds the orchestrator. The API key is required.
func New(cfg config.ModelConfig, registry *tools.Registry, logger *slog.Logger, metrics *observability.Metrics) (*Orchestrator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s is required", config.EnvAPIKey)
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: &retryAfterTransport{next: http.DefaultTransport},
	}

	return &Orchestrator{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		policy:     backoff.DefaultPolicy(),
		registry:   registry,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Run streams the model invocation for one turn. The returned channel is
// closed after a Done or Error event. Cancellation is cooperative at event
// boundaries: cancel ctx to stop the stream.
func (o *Orchestrator) Run(ctx context.Context, bundle Bundle) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		o.run(ctx, bundle, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, bundle Bundle, out chan<- Event) {
	tracer := observability.Tracer()
	ctx, span := tracer.Start(ctx, "model.run", trace.WithAttributes(
		attribute.String("session.id", bundle.SessionID),
		attribute.Int64("turn.seq", int64(bundle.TurnSeq)),
	))
	defer span.End()

	prompt := BuildPrompt(bundle)
	request := openai.ChatCompletionRequest{
		Model:    o.model,
		Stream:   true,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt}},
		Tools:    o.toolDefinitions(),
	}

	var externalized atomic.Bool
	for attempt := 0; ; attempt++ {
		out <- Event{Type: EventNote, Note: fmt.Sprintf("model.request.start attempt=%d", attempt+1)}

		hint := &retryHint{}
		attemptCtx := context.WithValue(ctx, retryHintKey{}, hint)

		err := o.streamOnce(attemptCtx, request, &externalized, out)
		if err == nil {
			return
		}

		var alreadyTerminal *Error
		if errors.As(err, &alreadyTerminal) {
			o.logger.Warn("model call failed terminally",
				"session_id", bundle.SessionID, "turn_seq", bundle.TurnSeq,
				"kind", alreadyTerminal.Kind, "error", err)
			out <- Event{Type: EventError, Err: alreadyTerminal}
			return
		}

		kind, retryable := classify(err)
		if externalized.Load() || !retryable || attempt >= o.maxRetries {
			if externalized.Load() || (retryable && attempt >= o.maxRetries) {
				kind = pickTerminalKind(err, kind)
			}
			o.logger.Warn("model call failed terminally",
				"session_id", bundle.SessionID, "turn_seq", bundle.TurnSeq,
				"kind", kind, "error", err)
			out <- Event{Type: EventError, Err: terminal(kind, err)}
			return
		}

		delay := o.policy.Delay(attempt+1, hint.get())
		if o.metrics != nil {
			o.metrics.ModelRetries.Inc()
		}
		o.logger.Debug("retrying model call",
			"session_id", bundle.SessionID, "attempt", attempt+1, "delay", delay, "error", err)
		out <- Event{Type: EventNote, Note: fmt.Sprintf("model.request.retry delay=%s", delay)}
		if serr := backoff.Sleep(ctx, delay); serr != nil {
			out <- Event{Type: EventError, Err: terminal(FailCanceled, serr)}
			return
		}
	}
}

// pickTerminalKind maps retry exhaustion and post-externalization failures
// onto the terminal taxonomy: explicit kinds survive, everything transient
// collapses to Exhausted.
func pickTerminalKind(err error, kind FailureKind) FailureKind {
	if errors.Is(err, context.Canceled) {
		return FailCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailExhausted
	}
	switch kind {
	case FailAuth, FailRequestInvalid, FailContextTooLong, FailCanceled:
		return kind
	default:
		return FailExhausted
	}
}

// streamOnce performs one streaming attempt. A nil return means the stream
// finished and Done was emitted.
func (o *Orchestrator) streamOnce(ctx context.Context, request openai.ChatCompletionRequest, externalized *atomic.Bool, out chan<- Event) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return err
	}
	defer stream.Close()

	var text string
	partials := newPartialCalls()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			for _, call := range partials.finalize() {
				if err := o.emitToolCall(call, externalized, out); err != nil {
					return err
				}
			}
			out <- Event{Type: EventDone, Text: text}
			return nil
		}
		if err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			text += delta.Content
			out <- Event{Type: EventTextFragment, Delta: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			for _, completed := range partials.absorb(tc) {
				if err := o.emitToolCall(completed, externalized, out); err != nil {
					return err
				}
			}
		}
	}
}

// emitToolCall validates the accumulated call and dispatches it downstream.
// The first successful emission externalizes the turn.
func (o *Orchestrator) emitToolCall(call ToolCall, externalized *atomic.Bool, out chan<- Event) error {
	if !json.Valid(call.Args) {
		return terminal(FailRequestInvalid, fmt.Errorf("tool %s arguments are not valid JSON", call.Name))
	}
	if err := o.registry.Validate(call.Name, call.Args); err != nil {
		return terminal(FailRequestInvalid, err)
	}
	externalized.Store(true)
	out <- Event{Type: EventToolCall, ToolCall: &call}
	return nil
}

func (o *Orchestrator) toolDefinitions() []openai.Tool {
	handlers := o.registry.Handlers()
	defs := make([]openai.Tool, 0, len(handlers))
	for _, h := range handlers {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        h.Name(),
				Description: h.Description(),
				Parameters:  h.Schema(),
			},
		})
	}
	return defs
}

// partialCalls accumulates streamed tool-call deltas by index. A call
// completes as soon as its name is known and its arguments form complete
// JSON, so dispatch happens mid-stream rather than at end-of-stream.
type partialCalls struct {
	order   []int
	byIndex map[int]*ToolCall
}

func newPartialCalls() *partialCalls {
	return &partialCalls{byIndex: make(map[int]*ToolCall)}
}

// absorb merges one delta, returning any call that just completed.
func (p *partialCalls) absorb(tc openai.ToolCall) []ToolCall {
	index := 0
	if tc.Index != nil {
		index = *tc.Index
	}

	call, ok := p.byIndex[index]
	if !ok {
		call = &ToolCall{}
		p.byIndex[index] = call
		p.order = append(p.order, index)
	}
	if tc.ID != "" {
		call.CallID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	call.Args = append(call.Args, tc.Function.Arguments...)

	if call.Name != "" && len(call.Args) > 0 && json.Valid(call.Args) {
		delete(p.byIndex, index)
		return []ToolCall{*call}
	}
	return nil
}

// finalize returns calls that never reached valid JSON, in stream order.
// They fail validation downstream, which is the right diagnostic.
func (p *partialCalls) finalize() []ToolCall {
	var out []ToolCall
	for _, index := range p.order {
		if call, ok := p.byIndex[index]; ok {
			out = append(out, *call)
			delete(p.byIndex, index)
		}
	}
	return out
}

// retryAfterTransport captures Retry-After hints from throttled responses
// into the request context so the retry loop can honor them as a lower bound.
type retryAfterTransport struct {
	next http.RoundTripper
}

type retryHintKey struct{}

type retryHint struct {
	value atomic.Int64 // nanoseconds
}

func (h *retryHint) set(d time.Duration) { h.value.Store(int64(d)) }

func (h *retryHint) get() time.Duration {
	if h == nil {
		return 0
	}
	return time.Duration(h.value.Load())
}

func (t *retryAfterTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	response, err := t.next.RoundTrip(request)
	if err != nil || response == nil {
		return response, err
	}
	if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
		if hint, ok := request.Context().Value(retryHintKey{}).(*retryHint); ok {
			if raw := response.Header.Get("Retry-After"); raw != "" {
				if seconds, perr := strconv.Atoi(raw); perr == nil && seconds >= 0 {
					hint.set(time.Duration(seconds) * time.Second)
				}
			}
		}
	}
	return response, err
}
