package summarizer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-orchestrator/internal/resilience"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

func sampleEntries(n int) []model.Entry {
	out := make([]model.Entry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.TurnEntry(model.Turn{
			TurnID:          int64(i),
			RequestText:     strings.Repeat("how did the home team perform ", 3),
			ResponseSummary: "they won",
			Category:        []string{"analysis", "prediction"}[i%2],
			Role:            model.RoleAnalyst,
		}))
	}
	return out
}

// ============================================================================
// Heuristic
// ============================================================================

func TestHeuristic_Deterministic(t *testing.T) {
	h := Heuristic{}
	entries := sampleEntries(5)

	a, err := h.Summarize(context.Background(), entries, 200)
	require.NoError(t, err)
	b, err := h.Summarize(context.Background(), entries, 200)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), 200)
	assert.True(t, strings.HasPrefix(a, "5 exchanges (prediction,analysis): "))
}

func TestHeuristic_Limits(t *testing.T) {
	h := Heuristic{}
	tests := []struct {
		name  string
		limit int
	}{
		{"很小", 5},
		{"中等", 64},
		{"很大", 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Summarize(context.Background(), sampleEntries(20), tt.limit)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), tt.limit)
			assert.True(t, utf8.ValidString(got))
		})
	}

	got, err := h.Summarize(context.Background(), nil, 100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHeuristic_NestedSummaryCountsTurns(t *testing.T) {
	entries := []model.Entry{
		model.SummaryEntry(model.Summary{StartTurn: 1, EndTurn: 10, Text: "earlier discussion"}),
		sampleEntries(1)[0],
	}
	got, err := Heuristic{}.Summarize(context.Background(), entries, 500)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "11 exchanges"))
	assert.Contains(t, got, "earlier discussion")
}

// ============================================================================
// Anthropic
// ============================================================================

type stubHTTPClient struct {
	responder func(req *http.Request) *http.Response
	calls     atomic.Int32
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	return s.responder(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

const messageBody = `{"id":"msg_test","type":"message","role":"assistant","model":"claude-3-haiku-20240307",
"content":[{"type":"text","text":"  user compared teams; model favoured home side  "}],
"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":12}}`

func newTestAnthropic(t *testing.T, stub *stubHTTPClient) *Anthropic {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	a, err := NewAnthropic(cfg, option.WithHTTPClient(stub))
	require.NoError(t, err)
	return a
}

func TestAnthropic_Summarize(t *testing.T) {
	stub := &stubHTTPClient{responder: func(req *http.Request) *http.Response {
		return jsonResponse(http.StatusOK, messageBody)
	}}
	a := newTestAnthropic(t, stub)

	got, err := a.Summarize(context.Background(), sampleEntries(3), 1000)
	require.NoError(t, err)
	assert.Equal(t, "user compared teams; model favoured home side", got)

	got, err = a.Summarize(context.Background(), sampleEntries(3), 13)
	require.NoError(t, err)
	assert.Equal(t, "user compared", got)
}

func TestAnthropic_ServerErrorIsTransient(t *testing.T) {
	stub := &stubHTTPClient{responder: func(req *http.Request) *http.Response {
		return jsonResponse(http.StatusServiceUnavailable, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	}}
	a := newTestAnthropic(t, stub)

	_, err := a.Summarize(context.Background(), sampleEntries(2), 100)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), stub.calls.Load(), "sdk retries are disabled")
}

func TestAnthropic_BadRequestIsPermanent(t *testing.T) {
	stub := &stubHTTPClient{responder: func(req *http.Request) *http.Response {
		return jsonResponse(http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}}
	a := newTestAnthropic(t, stub)

	_, err := a.Summarize(context.Background(), sampleEntries(2), 100)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropic(DefaultConfig())
	assert.Error(t, err)
}

// ============================================================================
// Protected
// ============================================================================

type failingSummarizer struct{ calls atomic.Int32 }

func (f *failingSummarizer) Name() string { return "failing" }
func (f *failingSummarizer) Summarize(context.Context, []model.Entry, int) (string, error) {
	f.calls.Add(1)
	return "", errors.New("model unavailable")
}

func TestProtected_FallsBackToHeuristic(t *testing.T) {
	cfg := resilience.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.FailureThreshold = 2
	cfg.Cooldown = time.Minute
	ex := resilience.NewExecutor(cfg, resilience.WithLogger(logging.Nop()))

	primary := &failingSummarizer{}
	p := NewProtected(primary, Heuristic{}, ex, logging.Nop())

	want, _ := Heuristic{}.Summarize(context.Background(), sampleEntries(4), 120)
	for i := 0; i < 4; i++ {
		got, err := p.Summarize(context.Background(), sampleEntries(4), 120)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	// 熔断打开后不再调用主摘要器
	assert.Equal(t, int32(2), primary.calls.Load())
	assert.Equal(t, model.CircuitOpen, ex.State(Dependency).State)
}

func TestNew(t *testing.T) {
	s, err := New(nil, nil, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, ProviderHeuristic, s.Name())

	_, err = New(&Config{Provider: "gpt"}, nil, logging.Nop())
	assert.Error(t, err)

	t.Setenv("ANTHROPIC_API_KEY", "k")
	ex := resilience.NewExecutor(nil, resilience.WithLogger(logging.Nop()))
	s, err = New(&Config{Provider: ProviderAnthropic}, ex, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, s.Name())
}
