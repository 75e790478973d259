package admin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"dojo-backend/internal/audit"
	"dojo-backend/internal/auth"
	"dojo-backend/internal/database"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"
	"dojo-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newApp(role models.UserRole, dojoID *uint) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		if fe, ok := err.(*fiber.Error); ok {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(auth.CtxUserIDKey, uint(1))
		c.Locals(auth.CtxUserEmailKey, "admin@dojo.test")
		c.Locals(auth.CtxUserRoleKey, role)
		c.Locals(auth.CtxDojoIDKey, dojoID)
		return c.Next()
	})
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestCreditorAccountsAreBoundToCallerDojo(t *testing.T) {
	db := testutil.SetupTestDB(t)
	f := testutil.NewFixtures(t, db)
	nord := f.CreateDojo("Nord")
	sued := f.CreateDojo("Sued")
	f.CreateCreditorAccount(sued.ID)

	rec := &audit.Memory{}
	res := tenant.NewResolver(zap.NewNop(), rec)
	app := newApp(models.RoleDojoAdmin, &nord.ID)
	app.Post("/creditor-accounts", CreateCreditorAccountHandler(db, res, rec))
	app.Get("/creditor-accounts", ListCreditorAccountsHandler(db, res))

	code, _ := post(t, app, "/creditor-accounts", `{"name":"Konto","creditor_id":"DE98ZZZ09999999999","iban":"DE00 1234"}`)
	if code != fiber.StatusBadRequest {
		t.Fatalf("invalid iban: status %d", code)
	}

	code, body := post(t, app, "/creditor-accounts",
		`{"name":"Konto","creditor_id":"DE98ZZZ09999999999","iban":"de89 3704 0044 0532 0130 00","dojo_id":`+itoa(sued.ID)+`}`)
	if code != fiber.StatusCreated {
		t.Fatalf("create: status %d %v", code, body)
	}
	if uint(body["dojo_id"].(float64)) != nord.ID || body["iban"] != "DE89370400440532013000" {
		t.Fatalf("created = %v", body)
	}
	if rec.Count(models.AuditActionCrossTenant) != 1 {
		t.Fatal("foreign dojo in body not audited")
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/creditor-accounts?dojo_id="+itoa(sued.ID), nil))
	if err != nil {
		t.Fatal(err)
	}
	var list []CreditorAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].DojoID != nord.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestSuperAdminMustNameDojoForCreditorAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	res := tenant.NewResolver(zap.NewNop(), audit.Nop{})
	app := newApp(models.RoleSuperAdmin, nil)
	app.Post("/creditor-accounts", CreateCreditorAccountHandler(db, res, audit.Nop{}))

	code, _ := post(t, app, "/creditor-accounts", `{"name":"Konto","creditor_id":"DE98ZZZ09999999999","iban":"DE89370400440532013000"}`)
	if code != fiber.StatusBadRequest {
		t.Fatalf("status %d, want 400", code)
	}
}

func TestAuditLogsAreScoped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.NewStore(db)
	ctx := context.Background()
	for _, ev := range []audit.Event{
		{DojoID: audit.DojoRef(1), Action: models.AuditActionCreate, EntityType: "member", EntityID: 1},
		{DojoID: audit.DojoRef(2), Action: models.AuditActionCreate, EntityType: "member", EntityID: 2},
		{Action: models.AuditActionGenerate, EntityType: "contract"},
	} {
		if err := store.Insert(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		role   models.UserRole
		dojoID *uint
		query  string
		want   int
	}{
		{"dojo admin", models.RoleDojoAdmin, audit.DojoRef(1), "", 1},
		{"dojo admin asking for other dojo", models.RoleDojoAdmin, audit.DojoRef(1), "?dojo_id=2", 1},
		{"super admin all", models.RoleSuperAdmin, nil, "", 3},
		{"super admin one dojo", models.RoleSuperAdmin, nil, "?dojo_id=2", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(tt.role, tt.dojoID)
			app.Get("/audit-logs", ListAuditLogsHandler(store, tenant.NewResolver(zap.NewNop(), audit.Nop{})))
			resp, err := app.Test(httptest.NewRequest("GET", "/audit-logs"+tt.query, nil))
			if err != nil {
				t.Fatal(err)
			}
			var rows []models.AuditLog
			if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
				t.Fatal(err)
			}
			if len(rows) != tt.want {
				t.Fatalf("rows = %d, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestCreateDojoUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	withGlobalDB(t, db)
	f := testutil.NewFixtures(t, db)
	d := f.CreateDojo("Nord")

	app := newApp(models.RoleSuperAdmin, nil)
	app.Post("/admin/dojos/:id/users", CreateDojoUserHandler())

	code, body := post(t, app, "/admin/dojos/"+itoa(d.ID)+"/users", `{"name":"Kim","email":"KIM@nord.test","password":"secret-pass"}`)
	if code != fiber.StatusCreated {
		t.Fatalf("status %d %v", code, body)
	}
	if body["role"] != string(models.RoleDojoAdmin) || body["email"] != "kim@nord.test" {
		t.Fatalf("user = %v", body)
	}
	if code, _ := post(t, app, "/admin/dojos/"+itoa(d.ID)+"/users", `{"name":"Kim","email":"kim@nord.test","password":"secret-pass"}`); code != fiber.StatusConflict {
		t.Fatalf("duplicate email: status %d", code)
	}
	if code, _ := post(t, app, "/admin/dojos/"+itoa(d.ID)+"/users", `{"name":"Lu","email":"lu@nord.test","password":"secret-pass","role":"super_admin"}`); code != fiber.StatusBadRequest {
		t.Fatalf("super admin role: status %d", code)
	}
}

func withGlobalDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
