package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRespondOK(t *testing.T) {
	router := setupRouter()
	router.GET("/test", func(c *gin.Context) {
		RespondOK(c, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("RespondOK() status = %v, want %v", w.Code, http.StatusOK)
	}
	var response map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("RespondOK() response status = %v, want ok", response["status"])
	}
}

func TestRespondNoContent(t *testing.T) {
	router := setupRouter()
	router.DELETE("/test", func(c *gin.Context) {
		RespondNoContent(c)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/test", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("RespondNoContent() status = %v, want %v", w.Code, http.StatusNoContent)
	}
	if w.Body.String() != "" {
		t.Errorf("RespondNoContent() body = %v, want empty", w.Body.String())
	}
}

func TestRespondList(t *testing.T) {
	router := setupRouter()
	router.GET("/empty", func(c *gin.Context) {
		var items []string
		RespondList(c, items)
	})
	router.GET("/items", func(c *gin.Context) {
		RespondList(c, []string{"a", "b"})
	})

	tests := []struct {
		path      string
		wantBody  string
		wantCount int
	}{
		{"/empty", `{"items":[],"count":0}`, 0},
		{"/items", `{"items":["a","b"],"count":2}`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Body.String() != tt.wantBody {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRespondErrors(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(c *gin.Context)
		wantStatus int
		wantCode   ErrorCode
	}{
		{
			name:       "bad request",
			respond:    func(c *gin.Context) { RespondBadRequest(c, "Bad request") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "validation",
			respond:    func(c *gin.Context) { RespondValidationError(c, ErrCodeInvalidChannelID, "bad channel") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeInvalidChannelID,
		},
		{
			name:       "unauthorized",
			respond:    func(c *gin.Context) { RespondUnauthorized(c, "Unauthorized") },
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrCodeUnauthorized,
		},
		{
			name:       "not found",
			respond:    func(c *gin.Context) { RespondNotFound(c, "Not found") },
			wantStatus: http.StatusNotFound,
			wantCode:   ErrCodeNotFound,
		},
		{
			name:       "conflict",
			respond:    func(c *gin.Context) { RespondConflict(c, ErrCodeChannelTaken, "taken") },
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeChannelTaken,
		},
		{
			name:       "internal",
			respond:    func(c *gin.Context) { RespondInternalError(c, ErrCodeStorage, "storage down") },
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter()
			router.GET("/test", tt.respond)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			var response ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}
			if response.Error.Code != tt.wantCode {
				t.Errorf("code = %v, want %v", response.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	router := setupRouter()
	router.Use(APIKeyAuth("secret"))
	router.GET("/test", func(c *gin.Context) { RespondNoContent(c) })

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", HeaderAPIKey, "nope", http.StatusUnauthorized},
		{"header key", HeaderAPIKey, "secret", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer secret", http.StatusNoContent},
		{"bearer wrong", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	router := setupRouter()
	router.Use(limiter.Middleware())
	router.GET("/test", func(c *gin.Context) { RespondNoContent(c) })

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(HeaderAPIKey, key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("a"); code != http.StatusNoContent {
			t.Fatalf("request %d status = %v, want %v", i, code, http.StatusNoContent)
		}
	}
	if code := do("a"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %v, want %v", code, http.StatusTooManyRequests)
	}
	if code := do("b"); code != http.StatusNoContent {
		t.Errorf("other visitor status = %v, want %v", code, http.StatusNoContent)
	}

	now = now.Add(30 * time.Second)
	if code := do("a"); code != http.StatusNoContent {
		t.Errorf("status after refill = %v, want %v", code, http.StatusNoContent)
	}
}

func TestRateLimiterEvictsOldestVisitor(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	limiter.maxVisitors = 2
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(time.Second)
	limiter.Allow("b")
	now = now.Add(time.Second)
	limiter.Allow("c")

	if got := limiter.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	// a was evicted, so it starts with a full bucket again
	if !limiter.Allow("a") {
		t.Error("Allow(a) = false after eviction, want true")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(45 * time.Second)
	limiter.Allow("recent")
	now = now.Add(30 * time.Second)

	limiter.Cleanup()
	if got := limiter.Len(); got != 1 {
		t.Errorf("Len() after cleanup = %d, want 1", got)
	}
}
