package authserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func TestConfigureCORSAllowsBearerPreflight(t *testing.T) {
	t.Parallel()

	router := gin.New()
	middleware, err := ConfigureCORS(zaptest.NewLogger(t), []string{"http://localhost:3000"})
	if err != nil {
		t.Fatalf("unexpected error configuring CORS: %v", err)
	}
	router.Use(middleware)
	router.OPTIONS("/api/me", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/api/me", nil)
	request.Header.Set("Origin", "http://localhost:3000")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from preflight, got %d", recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:3000" {
		t.Fatalf("unexpected allowed origin header: %q", origin)
	}
}

func TestSanitizeOrigins(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	sanitized, err := sanitizeOrigins(logger, []string{"https://App.example.com/", "https://app.example.com", " ", "http://127.0.0.1:5173"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sanitized) != 2 || sanitized[0] != "http://127.0.0.1:5173" || sanitized[1] != "https://app.example.com" {
		t.Fatalf("unexpected origins %v", sanitized)
	}

	testCases := []struct {
		origins  []string
		expected error
	}{
		{origins: nil, expected: errEmptyAllowedOrigins},
		{origins: []string{"  "}, expected: errEmptyAllowedOrigins},
		{origins: []string{"*"}, expected: errWildcardOrigin},
		{origins: []string{"https://example.com/path"}, expected: errInvalidOrigin},
		{origins: []string{"ftp://example.com"}, expected: errInvalidOrigin},
		{origins: []string{"example.com"}, expected: errInvalidOrigin},
	}
	for _, testCase := range testCases {
		if _, err := sanitizeOrigins(logger, testCase.origins); !errors.Is(err, testCase.expected) {
			t.Fatalf("origins %v: expected %v, got %v", testCase.origins, testCase.expected, err)
		}
	}
}
