package brain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("  hello \n"))

	long := strings.Repeat("ü", 350)
	out := Truncate(long)
	assert.Equal(t, MaxPostRunes, utf8.RuneCountInString(out))
	assert.True(t, utf8.ValidString(out))
}

func TestComposeUserPrompt(t *testing.T) {
	assert.Equal(t, "write", ComposeUserPrompt("write", nil))

	p := ComposeUserPrompt("write", []string{"first\npost", "second"})
	assert.True(t, strings.HasPrefix(p, "write\n\nRecent posts"))
	assert.Contains(t, p, "\n- first post")
	assert.Contains(t, p, "\n- second")
}

type chatRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, status int, content string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-3.5-turbo",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIBrainGenerate(t *testing.T) {
	var seen chatRequest
	srv := chatServer(t, http.StatusOK, "  Stay kind to yourself today. #mentalhealth  ", &seen)
	b, err := NewOpenAIBrain("test-key", "", srv.URL, logging.Discard())
	require.NoError(t, err)

	text, err := b.Generate(context.Background(), "sys", "user", []string{"old post"})
	require.NoError(t, err)
	assert.Equal(t, "Stay kind to yourself today. #mentalhealth", text)

	assert.Equal(t, "gpt-3.5-turbo", seen.Model)
	assert.Equal(t, 300, seen.MaxTokens)
	assert.InDelta(t, 0.7, seen.Temperature, 0.001)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "sys", seen.Messages[0].Content)
	assert.Contains(t, seen.Messages[1].Content, "old post")
}

func TestOpenAIBrainTruncatesLongOutput(t *testing.T) {
	srv := chatServer(t, http.StatusOK, strings.Repeat("a", 500), nil)
	b, err := NewOpenAIBrain("test-key", "gpt-4o-mini", srv.URL, logging.Discard())
	require.NoError(t, err)

	text, err := b.Generate(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	assert.Len(t, text, MaxPostRunes)
}

func TestOpenAIBrainFailures(t *testing.T) {
	for name, srv := range map[string]*httptest.Server{
		"server error":  chatServer(t, http.StatusInternalServerError, "", nil),
		"empty content": chatServer(t, http.StatusOK, "   ", nil),
	} {
		t.Run(name, func(t *testing.T) {
			b, err := NewOpenAIBrain("test-key", "", srv.URL, logging.Discard())
			require.NoError(t, err)
			_, err = b.Generate(context.Background(), "sys", "user", nil)
			assert.ErrorIs(t, err, domain.ErrGenerationFailed)
		})
	}
}

func TestOpenAIBrainRequiresKey(t *testing.T) {
	_, err := NewOpenAIBrain("", "", "", logging.Discard())
	assert.Error(t, err)
}

func TestGeminiModelBudget(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := modelConfig{Name: "m", RPM: 2, RPD: 3}
	b := newGeminiBrain(nil, []modelConfig{m}, clock, logging.Discard())

	assert.True(t, b.canUseModel(m))
	b.recordUsage(m)
	b.recordUsage(m)
	assert.False(t, b.canUseModel(m), "per-minute budget spent")

	now = now.Add(time.Minute)
	assert.True(t, b.canUseModel(m))
	b.recordUsage(m)
	assert.False(t, b.canUseModel(m), "per-day budget spent")

	now = now.Add(24 * time.Hour)
	assert.True(t, b.canUseModel(m))
}

func TestGeminiAllModelsOverBudget(t *testing.T) {
	m := modelConfig{Name: "m", RPM: 0, RPD: 0}
	b := newGeminiBrain(nil, []modelConfig{m}, time.Now, logging.Discard())
	_, err := b.Generate(context.Background(), "sys", "user", nil)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}
