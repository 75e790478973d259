package tenant

import (
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"dojo-backend/internal/auth"
	"dojo-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

func TestIdentityIPHonoursTrustedProxiesOnly(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		want    string
	}{
		{"untrusted peer", nil, "0.0.0.0"},
		{"trusted proxy", []string{"0.0.0.0"}, "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{
				ProxyHeader:             fiber.HeaderXForwardedFor,
				EnableTrustedProxyCheck: true,
				TrustedProxies:          tt.trusted,
				EnableIPValidation:      true,
			})
			var got string
			app.Get("/", func(c *fiber.Ctx) error {
				c.Locals(auth.CtxUserIDKey, uint(5))
				c.Locals(auth.CtxUserRoleKey, models.RoleStaff)
				id, err := IdentityFromCtx(c)
				if err != nil {
					return err
				}
				got = id.IP
				return c.SendStatus(fiber.StatusNoContent)
			})

			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set(fiber.HeaderXForwardedFor, "203.0.113.7")
			if _, err := app.Test(req); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("IP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateHintKeepsRunes(t *testing.T) {
	got := truncateHint(strings.Repeat("x", 31) + "ü und mehr")
	if !utf8.ValidString(got) {
		t.Fatalf("truncated hint is not valid UTF-8: %q", got)
	}
	if got != strings.Repeat("x", 31)+"ü" {
		t.Fatalf("truncateHint = %q", got)
	}
}
