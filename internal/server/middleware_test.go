package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snapmagictest/snapmagic/internal/common"
)

// logLevelCapture wraps a writer to capture raw JSON log events and extract levels.
type logLevelCapture struct {
	buf bytes.Buffer
}

func (c *logLevelCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logLevelCapture) output() string {
	return c.buf.String()
}

func TestLoggingMiddleware_4xxUsesInfoLevel(t *testing.T) {
	capture := &logLevelCapture{}
	logger := common.NewLoggerWithOutput("warn", capture)

	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status/missing", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	output := capture.output()
	if strings.Contains(output, "HTTP request") {
		t.Errorf("expected 404 log to be filtered at WARN level (should use INFO), but it passed through: %s", output)
	}
}

func TestLoggingMiddleware_5xxUsesErrorLevel(t *testing.T) {
	capture := &logLevelCapture{}
	logger := common.NewLoggerWithOutput("warn", capture)

	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/submit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	output := capture.output()
	if !strings.Contains(output, "HTTP request") {
		t.Errorf("expected 500 log to pass WARN filter (should use ERROR), got: %q", output)
	}
}

func TestLoggingMiddleware_2xxUsesTraceLevel(t *testing.T) {
	capture := &logLevelCapture{}
	logger := common.NewLoggerWithOutput("info", capture)

	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	output := capture.output()
	if strings.Contains(output, "HTTP request") {
		t.Errorf("expected 200 log to be filtered at INFO level (should use TRACE), but it passed through: %s", output)
	}
}

func TestCORSMiddleware_PreflightNoContent(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/submit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected wildcard CORS origin, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AdminUsers = []string{"root"}
	return cfg
}

func TestSessionAuthMiddleware_MissingToken(t *testing.T) {
	cfg := testConfig()
	handler := sessionAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a bearer token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/gallery", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_ValidToken(t *testing.T) {
	cfg := testConfig()
	token, _, err := signJWT("alice", false, []byte(cfg.Auth.JWTSecret), time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	var got *common.SessionContext
	handler := sessionAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = common.SessionContextFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/gallery", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got == nil || got.SessionID != "alice" || got.Admin {
		t.Errorf("expected non-admin session alice, got %+v", got)
	}
}

func TestSessionAuthMiddleware_WrongSecretRejected(t *testing.T) {
	cfg := testConfig()
	token, _, err := signJWT("alice", false, []byte("wrong-secret"), time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	handler := sessionAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run with a mis-signed token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/gallery", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for mis-signed token, got %d", rr.Code)
	}
}

func TestAdminMiddleware_RequiresAdminClaim(t *testing.T) {
	cfg := testConfig()
	nonAdminToken, _, _ := signJWT("alice", false, []byte(cfg.Auth.JWTSecret), time.Hour)
	adminToken, _, _ := signJWT("root", true, []byte(cfg.Auth.JWTSecret), time.Hour)

	auth := sessionAuthMiddleware(cfg)
	handler := auth(adminMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/deadletter", nil)
	req.Header.Set("Authorization", "Bearer "+nonAdminToken)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin session, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/api/deadletter", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for admin session, got %d", rr.Code)
	}
}
