package audit

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"dojo-backend/internal/models"
	"dojo-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
)

func TestStoreInsertTruncatesByRune(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := NewStore(db)

	desc := strings.Repeat("a", 254) + "ü Konto erloschen"
	err := store.Insert(context.Background(), Event{
		Actor:       System,
		Action:      models.AuditActionReconcile,
		EntityType:  "collection_item",
		EntityID:    1,
		Description: desc,
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := store.List(context.Background(), db, Filter{EntityType: "collection_item"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	got := rows[0].Description
	if !utf8.ValidString(got) {
		t.Fatalf("description is not valid UTF-8")
	}
	if got != strings.Repeat("a", 254)+"ü" {
		t.Fatalf("description = %q", got[250:])
	}
}

func TestWithRequestIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	app := fiber.New(fiber.Config{
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		EnableIPValidation:      true,
	})
	var actor Actor
	app.Post("/api/members", func(c *fiber.Ctx) error {
		actor = System.WithRequest(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest("POST", "/api/members", nil)
	req.Header.Set(fiber.HeaderXForwardedFor, "198.51.100.9")
	if _, err := app.Test(req); err != nil {
		t.Fatal(err)
	}
	if actor.IP == "198.51.100.9" {
		t.Fatal("forwarded address from an untrusted peer was recorded")
	}
	if actor.Path != "/api/members" || actor.Method != "POST" {
		t.Fatalf("actor = %+v", actor)
	}
}
