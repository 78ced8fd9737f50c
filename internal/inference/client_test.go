package inference

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/parser"
)

type fakeModel struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	prompts  []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	for _, m := range msgs {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.response}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, opts...)
}

func testClient(t *testing.T, llm llms.Model, timeout time.Duration) *OllamaClient {
	prompt, err := loadPrompt("")
	require.NoError(t, err)
	return newClient(llm, prompt, timeout, rate.NewLimiter(rate.Inf, 1), time.UTC)
}

var msg = parser.Message{
	Subject:    "Fwd: School play",
	Body:       "The school play is next Friday evening in the auditorium.",
	ReceivedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
}

func TestInferSuccess(t *testing.T) {
	llm := &fakeModel{response: "```json\n" + `{
		"title": "School play",
		"start_date": "2025-03-14",
		"start_time": "18:30",
		"end_date": null,
		"end_time": "20:00",
		"location": "Auditorium",
		"prep_items": ["costume", " ", null]
	}` + "\n```"}

	c, err := testClient(t, llm, time.Second).Infer(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "School play", c.Title)
	assert.Equal(t, time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC), c.Start)
	assert.Equal(t, time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC), c.End)
	assert.Equal(t, "Auditorium", c.Location)
	assert.Equal(t, []string{"costume"}, c.PrepItems)
	assert.Equal(t, 0.8, c.Confidence)
	assert.Equal(t, model.ProvenanceInference, c.Provenance)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Subject: Fwd: School play")
	assert.Contains(t, llm.prompts[0], "Today is 2025-03-10 (Monday)")
}

func TestInferTimeoutIsUnavailable(t *testing.T) {
	llm := &fakeModel{delay: time.Second}

	_, err := testClient(t, llm, 20*time.Millisecond).Infer(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, failure.IsTransient(err))
}

func TestInferMalformed(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"prose", "I could not find an event in this email."},
		{"broken json", `{"title": "x", "start_date": }`},
		{"missing start date", `{"title": "x", "start_date": null}`},
		{"bad date", `{"title": "x", "start_date": "next friday"}`},
		{"bad time", `{"title": "x", "start_date": "2025-03-14", "start_time": "6ish"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testClient(t, &fakeModel{response: tt.response}, time.Second).Infer(context.Background(), msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.True(t, failure.IsParse(err))
			assert.False(t, failure.IsTransient(err))
		})
	}
}

func TestParseResponseDefaults(t *testing.T) {
	c, err := ParseResponse(`{"start_date": "2025-06-01", "prep_items": "towel"}`, msg, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, "School play", c.Title)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), c.Start)
	assert.Equal(t, c.Start, c.End)
	assert.Equal(t, []string{"towel"}, c.PrepItems)

	c, err = ParseResponse(`{"start_date": "2025-06-01", "start_time": "10:00", "end_time": "09:00"}`, parser.Message{}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Event", c.Title)
	assert.Equal(t, c.Start, c.End)
}

func TestInferEndpointDown(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	client, err := NewOllamaClient(config.InferenceConfig{
		BaseURL: url,
		Model:   "llama3.1:8b",
		Timeout: time.Second,
	}, time.UTC)
	require.NoError(t, err)

	_, err = client.Infer(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPromptFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Parse {{.Subject}} on {{.Today}}"), 0o600))

	tmpl, err := loadPrompt(path)
	require.NoError(t, err)

	llm := &fakeModel{response: `{"start_date": "2025-03-14"}`}
	client := newClient(llm, tmpl, time.Second, rate.NewLimiter(rate.Inf, 1), time.UTC)
	_, err = client.Infer(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Parse Fwd: School play on 2025-03-10 (Monday)"}, llm.prompts)

	_, err = loadPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(t, &fakeModel{err: errors.New("unused")}, time.Second).Infer(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}
