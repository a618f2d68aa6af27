package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweetseek/internal/domain/ports"
)

func chatServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
}

func TestGenerate_Success(t *testing.T) {
	srv := chatServer(t, http.StatusOK, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": "蔗糖是基准甜味剂。"}},
		},
	})
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.URL, "test-key", "deepseek-chat", nil)
	text, err := a.Generate(context.Background(), "system", "user")

	require.NoError(t, err)
	assert.Equal(t, "蔗糖是基准甜味剂。", text)
}

func TestGenerate_MissingKeyIsNotConfigured(t *testing.T) {
	a := NewDeepSeekAdapter("http://unused", "", "deepseek-chat", nil)

	_, err := a.Generate(context.Background(), "system", "user")
	assert.True(t, ports.IsNotConfiguredGeneration(err))
}

func TestGenerate_RateLimitIsTransient(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, map[string]any{})
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.URL, "test-key", "", nil)
	_, err := a.Generate(context.Background(), "system", "user")
	assert.True(t, ports.IsTransientGeneration(err))
}

func TestGenerate_ServerErrorIsTransient(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, map[string]any{})
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.URL, "test-key", "", nil)
	_, err := a.Generate(context.Background(), "system", "user")
	assert.True(t, ports.IsTransientGeneration(err))
}

func TestGenerate_ClientErrorIsPermanent(t *testing.T) {
	srv := chatServer(t, http.StatusBadRequest, map[string]any{})
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.URL, "test-key", "", nil)
	_, err := a.Generate(context.Background(), "system", "user")

	var ge *ports.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ports.GenerationPermanent, ge.Kind)
}

func TestGenerate_NetworkFailureIsTransient(t *testing.T) {
	a := NewDeepSeekAdapter("http://127.0.0.1:1", "test-key", "", nil)
	_, err := a.Generate(context.Background(), "system", "user")
	assert.True(t, ports.IsTransientGeneration(err))
}

func TestGenerate_UpstreamErrorBodyIsPermanent(t *testing.T) {
	srv := chatServer(t, http.StatusOK, map[string]any{
		"error": map[string]string{"message": "model overloaded by policy", "type": "invalid_request"},
	})
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.URL, "test-key", "", nil)
	_, err := a.Generate(context.Background(), "system", "user")

	var ge *ports.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ports.GenerationPermanent, ge.Kind)
}

func TestGenerate_NoChoicesIsPermanent(t *testing.T) {
	srv := chatServer(t, http.StatusOK, map[string]any{"choices": []any{}})
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.URL, "test-key", "", nil)
	_, err := a.Generate(context.Background(), "system", "user")

	var ge *ports.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ports.GenerationPermanent, ge.Kind)
}

func TestGenerate_SendsModelAndPrompts(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.URL, "test-key", "deepseek-chat", nil)
	_, err := a.Generate(context.Background(), "system text", "user text")
	require.NoError(t, err)

	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "system text", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
}
