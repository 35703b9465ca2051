package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/explainit/internal/retry"
)

func TestNewClient_WithAPIKey(t *testing.T) {
	client, err := NewClient(ClientConfig{
		APIKey: "test-key-123",
		Model:  anthropic.ModelClaudeSonnet4_20250514,
	})
	require.NoError(t, err)
	assert.Equal(t, anthropic.ModelClaudeSonnet4_20250514, client.Model())
	assert.NotNil(t, client.Tracker())
}

func TestNewClient_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	os.Unsetenv("ANTHROPIC_API_KEY")

	_, err := NewClient(ClientConfig{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewClient_DefaultModel(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, anthropic.ModelClaudeSonnet4_20250514, client.Model())
}

func TestTranslateModelForBedrock(t *testing.T) {
	assert.Equal(t,
		anthropic.Model("us.anthropic.claude-sonnet-4-20250514-v1:0"),
		translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514))
	assert.Equal(t, anthropic.Model("custom-profile"), translateModelForBedrock("custom-profile"))
}

func TestClient_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "{\"ok\": "}, {"type": "text", "text": "true}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), CompletionRequest{
		System: "be terse",
		Prompt: "explain closures",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)

	in, outTok := client.Tracker().Total()
	assert.Equal(t, int64(12), in)
	assert.Equal(t, int64(7), outTok)
	assert.EqualValues(t, DefaultMaxTokens, got["max_tokens"])
	assert.NotNil(t, got["system"])
}

func TestClient_CompleteAuthErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestClient_CompleteServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
	var apiErr *anthropic.Error
	assert.True(t, errors.As(err, &apiErr))
}

func TestTokenTracker(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(100, 50)
	tracker.Add(200, 100)

	input, output := tracker.Total()
	assert.Equal(t, int64(300), input)
	assert.Equal(t, int64(150), output)
	assert.Equal(t, 2, tracker.Calls())

	tracker.Reset()
	input, output = tracker.Total()
	assert.Zero(t, input)
	assert.Zero(t, output)
	assert.Zero(t, tracker.Calls())
}

func TestTokenTracker_Cost(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, tracker.Cost(), 1e-9)
}
