package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/internal/tools"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

func testBundle() Bundle {
	return Bundle{
		SessionID: "s1",
		TurnSeq:   1,
		Agent: &models.AgentProfile{
			ID:     "a1",
			Name:   "Agent",
			Fields: map[string]string{models.AgentFieldSoul: "be kind"},
		},
		Triggers: []models.Trigger{{
			ID:          "trigger-1",
			Kind:        models.TriggerUserMessage,
			UserMessage: &models.UserMessagePayload{UserID: "u1", Text: "hello"},
		}},
	}
}

func newOrchestrator(t *testing.T, baseURL string, maxRetries int) *Orchestrator {
	t.Helper()
	registry, err := tools.DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	o, err := New(config.ModelConfig{
		APIKey:     "test-key",
		Model:      "gpt-4o",
		MaxRetries: maxRetries,
		BaseURL:    baseURL,
	}, registry, nil, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func writeSSE(t *testing.T, w http.ResponseWriter, payloads ...string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, payload := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func chunkText(text string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`, text)
}

func chunkToolCall(id, name, args string) string {
	payload := map[string]any{
		"id":     "c1",
		"object": "chat.completion.chunk",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{
				"tool_calls": []map[string]any{{
					"index": 0,
					"id":    id,
					"type":  "function",
					"function": map[string]any{
						"name":      name,
						"arguments": args,
					},
				}},
			},
		}},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for event := range ch {
		out = append(out, event)
	}
	return out
}

func TestTextOnlyTurnSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, chunkText("hel"), chunkText("lo"), "[DONE]")
	}))
	defer server.Close()

	o := newOrchestrator(t, server.URL+"/v1", 0)
	events := collect(o.Run(context.Background(), testBundle()))

	last := events[len(events)-1]
	if last.Type != EventDone || last.Text != "hello" {
		t.Fatalf("last event = %+v", last)
	}
	var fragments int
	for _, event := range events {
		if event.Type == EventTextFragment {
			fragments++
		}
		if event.Type == EventToolCall {
			t.Error("text-only stream produced a tool call")
		}
	}
	if fragments != 2 {
		t.Errorf("fragments = %d, want 2", fragments)
	}
}

func TestToolCallDispatchedMidStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			chunkToolCall("call_1", "fs_write", `{"path":"fs://out`),
			chunkToolCall("", "", `.txt","content":"hi","allow_override":true}`),
			chunkText("wrote it"),
			"[DONE]",
		)
	}))
	defer server.Close()

	o := newOrchestrator(t, server.URL+"/v1", 0)
	events := collect(o.Run(context.Background(), testBundle()))

	var toolIdx, textIdx = -1, -1
	for i, event := range events {
		switch event.Type {
		case EventToolCall:
			toolIdx = i
			if event.ToolCall.Name != "fs_write" || event.ToolCall.CallID != "call_1" {
				t.Errorf("tool call = %+v", event.ToolCall)
			}
		case EventTextFragment:
			if textIdx == -1 {
				textIdx = i
			}
		}
	}
	if toolIdx == -1 {
		t.Fatal("no tool call emitted")
	}
	if textIdx != -1 && toolIdx > textIdx {
		t.Error("tool call was not dispatched before trailing text")
	}
	if events[len(events)-1].Type != EventDone {
		t.Errorf("missing done event: %+v", events[len(events)-1])
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
			return
		}
		writeSSE(t, w, chunkText("ok"), "[DONE]")
	}))
	defer server.Close()

	o := newOrchestrator(t, server.URL+"/v1", 2)
	start := time.Now()
	events := collect(o.Run(context.Background(), testBundle()))
	elapsed := time.Since(start)

	if events[len(events)-1].Type != EventDone {
		t.Fatalf("expected done, got %+v", events[len(events)-1])
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if elapsed < time.Second {
		t.Errorf("retried after %s, want >= Retry-After of 1s", elapsed)
	}
}

func TestAuthFailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	o := newOrchestrator(t, server.URL+"/v1", 3)
	events := collect(o.Run(context.Background(), testBundle()))

	last := events[len(events)-1]
	if last.Type != EventError || last.Err.Kind != FailAuth {
		t.Fatalf("last event = %+v", last)
	}
	if calls.Load() != 1 {
		t.Errorf("auth failure retried: %d calls", calls.Load())
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer server.Close()

	o := newOrchestrator(t, server.URL+"/v1", 1)
	events := collect(o.Run(context.Background(), testBundle()))

	last := events[len(events)-1]
	if last.Type != EventError || last.Err.Kind != FailExhausted {
		t.Fatalf("last event = %+v", last)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want initial + 1 retry", calls.Load())
	}
}

func TestNoRetryAfterExternalization(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeSSE(t, w, chunkToolCall("call_1", "schedule_heartbeat", `{"delay_ms":5}`))
		// Connection drops without [DONE]: the stream errors mid-flight.
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer server.Close()

	o := newOrchestrator(t, server.URL+"/v1", 3)
	events := collect(o.Run(context.Background(), testBundle()))

	var sawToolCall bool
	for _, event := range events {
		if event.Type == EventToolCall {
			sawToolCall = true
		}
	}
	if !sawToolCall {
		t.Fatal("tool call should have been dispatched before the drop")
	}
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("expected terminal error, got %+v", last)
	}
	if calls.Load() != 1 {
		t.Errorf("externalized turn was retried: %d calls", calls.Load())
	}
}

func TestPromptStableAcrossBuilds(t *testing.T) {
	bundle := testBundle()
	if BuildPrompt(bundle) != BuildPrompt(bundle) {
		t.Error("prompt rendering is not deterministic")
	}
}

func TestInvalidToolArgsAreTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, chunkToolCall("call_1", "fs_write", `{"nope":true}`), "[DONE]")
	}))
	defer server.Close()

	o := newOrchestrator(t, server.URL+"/v1", 3)
	events := collect(o.Run(context.Background(), testBundle()))

	last := events[len(events)-1]
	if last.Type != EventError || last.Err.Kind != FailRequestInvalid {
		t.Fatalf("last event = %+v", last)
	}
}
