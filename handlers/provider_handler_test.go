package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-failover/services/circuitbreaker"
	"github.com/upb/llm-failover/services/providers/providerstest"
)

func newProviderRouter(h *ProviderHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/providers/health", h.HandleHealth)
	r.Post("/providers/reset", h.HandleResetAll)
	r.Post("/providers/{id}/reset", h.HandleResetProvider)
	return r
}

func tripCircuit(t *testing.T, stack *testStack, id string) {
	t.Helper()
	cb, err := stack.registry.CircuitBreaker(id)
	require.NoError(t, err)
	cb.RecordFailure(stack.clock.Now())
	cb.RecordFailure(stack.clock.Now())
	require.Equal(t, circuitbreaker.StateOpen, cb.State())
}

func TestProviderHandler_HandleHealth(t *testing.T) {
	stack := newTestStack(t,
		provider("openai", providerstest.Succeed("ok", `{}`)),
		provider("anthropic", providerstest.Succeed("ok", `{}`)),
	)
	tripCircuit(t, stack, "openai")
	router := newProviderRouter(NewProviderHandler(stack.monitor, zap.NewNop()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/providers/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])
	assert.Equal(t, float64(1), data["available"])

	list := data["providers"].([]interface{})
	require.Len(t, list, 2)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "openai", first["provider"])
	assert.Equal(t, "open", first["state"])
	assert.Equal(t, float64(2), first["consecutive_failures"])
	assert.NotNil(t, first["opened_at"])

	second := list[1].(map[string]interface{})
	assert.Equal(t, "closed", second["state"])
	assert.Nil(t, second["opened_at"])
}

func TestProviderHandler_HandleResetProvider(t *testing.T) {
	t.Run("resets an open circuit", func(t *testing.T) {
		stack := newTestStack(t, provider("openai", providerstest.Succeed("ok", `{}`)))
		tripCircuit(t, stack, "openai")
		router := newProviderRouter(NewProviderHandler(stack.monitor, zap.NewNop()))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/providers/openai/reset", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "circuit breaker reset", decodeBody(t, w)["message"])

		cb, err := stack.registry.CircuitBreaker("openai")
		require.NoError(t, err)
		assert.Equal(t, circuitbreaker.StateClosed, cb.State())
	})

	t.Run("unknown provider returns 404", func(t *testing.T) {
		stack := newTestStack(t, provider("openai", providerstest.Succeed("ok", `{}`)))
		router := newProviderRouter(NewProviderHandler(stack.monitor, zap.NewNop()))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/providers/mistral/reset", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", decodeBody(t, w)["error"])
	})
}

func TestProviderHandler_HandleResetAll(t *testing.T) {
	stack := newTestStack(t,
		provider("openai", providerstest.Succeed("ok", `{}`)),
		provider("anthropic", providerstest.Succeed("ok", `{}`)),
	)
	tripCircuit(t, stack, "openai")
	tripCircuit(t, stack, "anthropic")
	router := newProviderRouter(NewProviderHandler(stack.monitor, zap.NewNop()))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/providers/reset", nil))
		require.Equal(t, http.StatusOK, w.Code)

		data := decodeBody(t, w)["data"].(map[string]interface{})
		assert.Equal(t, float64(2), data["available"])
	}
}
