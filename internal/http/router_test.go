package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gigmarket/backend/internal/auth"
	"github.com/gigmarket/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestRouterGuards(t *testing.T) {
	support := uuid.New()
	cfg := &config.Config{JWTSecret: "test-secret", SupportUserIDs: []uuid.UUID{support}}
	app := fiber.New()
	SetupRouter(app, cfg, zap.NewNop(), nil, Handlers{})

	token := func(id uuid.UUID) string {
		tok, err := auth.GenerateJWT(cfg.JWTSecret, id, "u@example.com", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + tok
	}

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"health is public", "GET", "/health", "", fiber.StatusOK},
		{"missing token", "GET", "/api/v1/contracts", "", fiber.StatusUnauthorized},
		{"malformed header", "GET", "/api/v1/contracts", "Token abc", fiber.StatusUnauthorized},
		{"bad signature", "GET", "/api/v1/contracts", "Bearer not.a.jwt", fiber.StatusUnauthorized},
		{"support route for regular user", "GET", "/api/v1/support/contracts/" + uuid.NewString() + "/tickets", token(uuid.New()), fiber.StatusForbidden},
		{"unknown route", "GET", "/api/v1/nowhere", token(uuid.New()), fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing request id header")
			}
		})
	}
}
