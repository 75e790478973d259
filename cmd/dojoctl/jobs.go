package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dojo-backend/internal/audit"
	"dojo-backend/internal/collection"
	"dojo-backend/internal/config"
	"dojo-backend/internal/contributions"
	"dojo-backend/internal/database"
	"dojo-backend/internal/logging"
	"dojo-backend/internal/tenant"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// jobEnv holds what every job needs. close flushes the audit sink.
type jobEnv struct {
	cfg  *config.Config
	log  *zap.Logger
	sink *audit.Sink
}

func setup() (*jobEnv, error) {
	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if err := database.Init(cfg, log); err != nil {
		return nil, err
	}
	sink := audit.NewSink(audit.NewStore(database.DB), log.Named("audit"), cfg.AuditBuffer)
	sink.Start()
	return &jobEnv{cfg: cfg, log: log, sink: sink}, nil
}

func (r *jobEnv) close() {
	r.sink.Stop()
	_ = r.log.Sync()
}

func scope() tenant.Scope {
	if dojoFlag > 0 {
		return tenant.ForDojo(dojoFlag)
	}
	return tenant.AllDojos()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup() // Init migrates
			if err != nil {
				return err
			}
			defer rt.close()
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func regenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate",
		Short: "Create missing contributions for every active contract",
		Long: `Walks all active contracts and inserts the contributions that are
missing. Existing rows are never touched, so the job can run any number of
times. A contract that fails or times out is reported and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := signalContext()
			defer cancel()

			gen := contributions.NewGenerator(database.DB, rt.log.Named("generator"), rt.sink, contributions.Options{
				ProrateFirstMonth: rt.cfg.ProrateFirstMonth,
				ContractTimeout:   rt.cfg.RegenerateContractTimeout,
			})
			res, err := gen.RegenerateAll(ctx, scope())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Ask the processor about collection items still processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := signalContext()
			defer cancel()

			proc := collection.NewHTTPProcessor(rt.cfg.ProcessorBaseURL, rt.cfg.ProcessorAPIKey, rt.cfg.ProcessorTimeout)
			rc := collection.NewReconciler(database.DB, rt.log.Named("reconcile"), rt.sink, proc, collection.Options{
				ProcessorTimeout: rt.cfg.ProcessorTimeout,
				Currency:         rt.cfg.Currency,
			})
			res, err := rc.PollProcessing(ctx, scope())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}
