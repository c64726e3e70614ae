package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/choicestory/api/internal/middleware"
	"github.com/choicestory/api/internal/provider"
	"github.com/choicestory/api/internal/textgen"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	outcome textgen.Outcome
	err     error
	lastReq textgen.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req textgen.Request) (textgen.Outcome, error) {
	f.lastReq = req
	return f.outcome, f.err
}

func newTestRouter(gen *fakeGenerator, breaker *middleware.CircuitBreaker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewGenerationHandler(gen, nil, nil, breaker, zap.NewNop())

	router := gin.New()
	router.POST("/stories/generate", h.GenerateStory)
	router.GET("/generations/:id", h.GetGeneration)
	return router
}

func postStory(t *testing.T, router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/stories/generate", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGenerateStorySuccess(t *testing.T) {
	gen := &fakeGenerator{outcome: textgen.Outcome{
		Success:  true,
		Text:     "Once upon a time, a fox...",
		Provider: "gemini",
		Model:    "gemini-1.5-pro",
		Attempts: 1,
	}}
	router := newTestRouter(gen, nil)

	w := postStory(t, router, map[string]any{
		"prompt":            "Tell a story about a fox",
		"max_output_tokens": 2048,
		"child_name":        "Mira",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp GenerateStoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Story != "Once upon a time, a fox..." {
		t.Errorf("unexpected story %q", resp.Story)
	}
	if resp.Provider != "gemini" || resp.Model != "gemini-1.5-pro" {
		t.Errorf("unexpected provenance: %+v", resp)
	}
	if gen.lastReq.MaxOutputTokens != 2048 {
		t.Errorf("max tokens not passed through, got %d", gen.lastReq.MaxOutputTokens)
	}
}

func TestGenerateStoryMissingPrompt(t *testing.T) {
	router := newTestRouter(&fakeGenerator{}, nil)

	w := postStory(t, router, map[string]any{"child_name": "Mira"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGenerateStoryFailureHidesProviderErrors(t *testing.T) {
	gen := &fakeGenerator{outcome: textgen.Outcome{
		Success:   false,
		Provider:  "openai",
		Fallback:  true,
		ErrorKind: provider.KindTransient,
		Message:   "gemini: secret internal detail; openai: another secret detail",
	}}
	router := newTestRouter(gen, nil)

	w := postStory(t, router, map[string]any{"prompt": "a story"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	body := w.Body.String()
	if strings.Contains(body, "secret internal detail") {
		t.Error("raw provider error leaked to the caller")
	}
	if !strings.Contains(body, "gemini, openai") {
		t.Errorf("response should name the attempted providers, got %s", body)
	}
	if !strings.Contains(body, middleware.ErrCodeGenerationFailed) {
		t.Errorf("expected %s code, got %s", middleware.ErrCodeGenerationFailed, body)
	}
}

func TestGenerateStoryAuthFailure(t *testing.T) {
	gen := &fakeGenerator{outcome: textgen.Outcome{
		Success:   false,
		Provider:  "gemini",
		ErrorKind: provider.KindAuthError,
		Message:   "invalid api key sk-123",
	}}
	router := newTestRouter(gen, nil)

	w := postStory(t, router, map[string]any{"prompt": "a story"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, middleware.ErrCodeProviderAuth) {
		t.Errorf("expected auth error code, got %s", body)
	}
	if strings.Contains(body, "sk-123") {
		t.Error("credential detail leaked to the caller")
	}
}

func TestGenerateStoryFeedsCircuitBreaker(t *testing.T) {
	breaker := middleware.NewCircuitBreakerWithConfig(2, 1, 0)
	gen := &fakeGenerator{outcome: textgen.Outcome{
		Success:   false,
		Provider:  "openai",
		Fallback:  true,
		ErrorKind: provider.KindTransient,
		Message:   "down",
	}}
	router := newTestRouter(gen, breaker)

	postStory(t, router, map[string]any{"prompt": "a story"})
	postStory(t, router, map[string]any{"prompt": "a story"})

	if breaker.State() != middleware.CircuitOpen {
		t.Errorf("two failures should open the breaker, got %v", breaker.State())
	}

	// Zero timeout: the next Allow probe moves the breaker to half-open,
	// as the route middleware would.
	if !breaker.Allow() {
		t.Fatal("probe should be allowed after the timeout")
	}

	gen.outcome = textgen.Outcome{Success: true, Text: "ok", Provider: "gemini", Model: "m", Attempts: 1}
	postStory(t, router, map[string]any{"prompt": "a story"})
	if breaker.State() != middleware.CircuitClosed {
		t.Errorf("success should close the half-open breaker, got %v", breaker.State())
	}
}

func TestGetGenerationInvalidID(t *testing.T) {
	router := newTestRouter(&fakeGenerator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/generations/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetGenerationWithoutStore(t *testing.T) {
	router := newTestRouter(&fakeGenerator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/generations/7b19a0cc-2f0f-4df1-9e61-2cf9f05a8f3f", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a store, got %d", w.Code)
	}
}
