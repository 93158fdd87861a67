package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eventgate/backend/internal/models"
)

type stubAuth map[string]*models.Principal

func (s stubAuth) Authenticate(_ context.Context, token string) (*models.Principal, error) {
	if p, ok := s[token]; ok {
		return p, nil
	}
	return nil, errors.New("bad token")
}

func newRouter(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	authn := stubAuth{
		"officer-token": {UserID: "u-1", Role: models.RoleOfficer},
		"student-token": {UserID: "u-2", Role: models.RoleStudent},
	}
	r := gin.New()
	r.Use(Recovery(logger), Logger(logger))
	staff := r.Group("/staff", JWT(authn), RequireRole(models.RoleOfficer))
	staff.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAndRoleGuard(t *testing.T) {
	r := newRouter(zap.NewNop())
	tests := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Token officer-token", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer student-token", http.StatusForbidden},
		{"bearer officer-token", http.StatusOK},
	}
	for _, tt := range tests {
		if w := get(r, "/staff/whoami", tt.header); w.Code != tt.status {
			t.Errorf("%q: status = %d, want %d", tt.header, w.Code, tt.status)
		}
	}
	if w := get(r, "/staff/whoami", "Bearer officer-token"); w.Body.String() != "u-1" {
		t.Fatalf("user id = %q", w.Body.String())
	}
}

func TestRecoveryAndLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newRouter(zap.New(core))

	if w := get(r, "/boom", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("panic status = %d", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("panic not logged")
	}
	get(r, "/staff/whoami", "Bearer officer-token")
	entries := logs.FilterMessage("request").FilterField(zap.String("user_id", "u-1")).All()
	if len(entries) != 1 || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("request log = %+v", entries)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://gate.campus.edu"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://gate.campus.edu")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://gate.campus.edu" {
		t.Fatalf("preflight = %d %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin allowed")
	}
}
