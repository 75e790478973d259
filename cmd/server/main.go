package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dojo-backend/internal/admin"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/auth"
	"dojo-backend/internal/collection"
	"dojo-backend/internal/config"
	"dojo-backend/internal/contributions"
	"dojo-backend/internal/database"
	"dojo-backend/internal/invoices"
	"dojo-backend/internal/logging"
	"dojo-backend/internal/mandates"
	"dojo-backend/internal/members"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("[FATAL] logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := database.Init(cfg, logger); err != nil {
		logger.Fatal("database init", zap.Error(err))
	}
	db := database.DB

	store := audit.NewStore(db)
	sink := audit.NewSink(store, logger.Named("audit"), cfg.AuditBuffer)
	sink.Start()
	defer sink.Stop()

	resolver := tenant.NewResolver(logger.Named("tenant"), sink)
	seq := invoices.NewSequencer(db, logger.Named("invoices"))
	invoiceSvc := invoices.NewService(db, logger.Named("invoices"), sink, seq)
	gen := contributions.NewGenerator(db, logger.Named("generator"), sink, contributions.Options{
		ProrateFirstMonth: cfg.ProrateFirstMonth,
		ContractTimeout:   cfg.RegenerateContractTimeout,
	})
	contribSvc := contributions.NewService(db, logger.Named("contributions"), sink, gen)
	registry := mandates.NewRegistry(db, logger.Named("mandates"), sink)
	memberSvc := members.NewService(db, logger.Named("members"), sink)

	proc := collection.NewHTTPProcessor(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout)
	collOpts := collection.Options{
		Workers:          cfg.CollectionWorkers,
		ProcessorTimeout: cfg.ProcessorTimeout,
		Currency:         cfg.Currency,
	}
	locker := collection.NewLocker(db, logger.Named("collection"), cfg.CollectionLockTTL)
	engine := collection.NewEngine(db, logger.Named("collection"), sink, proc, locker, collOpts)
	reconciler := collection.NewReconciler(db, logger.Named("reconcile"), sink, proc, collOpts)

	app := fiber.New(fiber.Config{
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.TrustedProxies,
		EnableIPValidation:      true,

		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			logger.Error("unexpected error", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "unexpected server error",
			})
		},
	})

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(corsOrigins, ","),
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		ExposeHeaders: "Content-Disposition, X-Batch-ID, X-Missing-Mandates",
	}))

	api := app.Group("/api")

	// Public
	api.Post("/auth/register-super-admin", auth.RegisterSuperAdminHandler(cfg))
	api.Post("/auth/login", auth.LoginHandler(cfg))
	api.Post("/webhooks/processor", collection.ProcessorWebhookHandler(reconciler, cfg.WebhookSecret, logger.Named("webhook")))

	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg))

	protected.Get("/auth/me", auth.MeHandler())

	// Super admin
	adminRoutes := protected.Group("/admin")
	adminRoutes.Use(auth.RequireRole(models.RoleSuperAdmin))

	adminRoutes.Post("/dojos", admin.CreateDojoHandler())
	adminRoutes.Get("/dojos", admin.ListDojosHandler())
	adminRoutes.Put("/dojos/:id", admin.UpdateDojoHandler())
	adminRoutes.Post("/dojos/:id/users", admin.CreateDojoUserHandler())
	adminRoutes.Get("/dojos/:id/users", admin.ListDojoUsersHandler())

	// Managers only; staff can read but not move money.
	managers := auth.RequireRole(models.RoleSuperAdmin, models.RoleDojoAdmin)

	protected.Post("/creditor-accounts", managers, admin.CreateCreditorAccountHandler(db, resolver, sink))
	protected.Get("/creditor-accounts", admin.ListCreditorAccountsHandler(db, resolver))
	protected.Put("/creditor-accounts/:id", managers, admin.UpdateCreditorAccountHandler(db, resolver, sink, logger))

	// Members & mandates
	protected.Post("/members", members.CreateMemberHandler(memberSvc, resolver))
	protected.Get("/members", members.ListMembersHandler(memberSvc, resolver))
	protected.Get("/members/:id", members.GetMemberHandler(memberSvc, resolver))
	protected.Post("/members/:id/archive", managers, members.ArchiveMemberHandler(memberSvc, resolver))
	protected.Post("/members/:id/mandates", mandates.CreateMandateHandler(registry, resolver))
	protected.Get("/members/:id/mandates", mandates.ListMandatesHandler(registry, resolver))
	protected.Post("/mandates/:id/revoke", mandates.RevokeMandateHandler(registry, resolver))
	protected.Post("/mandates/:id/archive", managers, mandates.ArchiveMandateHandler(registry, resolver))

	// Contracts & contributions
	protected.Post("/contracts", contributions.CreateContractHandler(contribSvc, resolver))
	protected.Post("/contracts/:id/generate", contributions.GenerateMissingHandler(contribSvc, resolver))
	protected.Get("/contracts/tariff-deviations", contributions.TariffDeviationsHandler(contribSvc, resolver))
	protected.Post("/contributions/regenerate", managers, contributions.RegenerateAllHandler(contribSvc, resolver))
	protected.Post("/contributions/dunning", managers, contributions.AdvanceDunningHandler(contribSvc, resolver))
	protected.Get("/contributions", contributions.ListContributionsHandler(contribSvc, resolver))
	protected.Post("/contributions/:id/mark-paid", managers, contributions.MarkPaidHandler(contribSvc, resolver))
	protected.Post("/contributions/:id/fee-invoice", invoices.CreateFeeInvoiceHandler(invoiceSvc, resolver))

	// Collection runs
	protected.Get("/collections/preview", collection.PreviewHandler(engine, resolver))
	protected.Get("/collections/missing-mandates", collection.MissingMandatesHandler(engine, resolver))
	protected.Post("/collections/export", managers, collection.ExportHandler(engine, resolver))
	protected.Post("/collections/execute", managers, collection.ExecuteHandler(engine, resolver))
	protected.Post("/collections/poll", managers, collection.PollHandler(reconciler, resolver))
	protected.Get("/collections", collection.ListBatchesHandler(engine, resolver))
	protected.Get("/collections/:id", collection.GetBatchHandler(engine, resolver))

	// Invoices
	protected.Post("/invoices", invoices.CreateInvoiceHandler(invoiceSvc, resolver))
	protected.Post("/invoices/from-contributions", invoices.InvoiceContributionsHandler(invoiceSvc, resolver))
	protected.Get("/invoices", invoices.ListInvoicesHandler(invoiceSvc, resolver))
	protected.Get("/invoices/:id", invoices.GetInvoiceHandler(invoiceSvc, resolver))
	protected.Post("/invoices/:id/sync-status", invoices.SyncStatusHandler(invoiceSvc, resolver))
	protected.Post("/invoices/:id/payments", managers, invoices.RecordPaymentHandler(invoiceSvc, resolver))

	// Audit logs
	protected.Get("/audit-logs", managers, admin.ListAuditLogsHandler(store, resolver))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("server listening", zap.String("port", cfg.HTTPPort))
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
