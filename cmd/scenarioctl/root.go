package main

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/config"
	"github.com/iliyamo/scenario-steal/internal/database"
	"github.com/iliyamo/scenario-steal/internal/logger"
	"github.com/iliyamo/scenario-steal/internal/queue"
	"github.com/iliyamo/scenario-steal/internal/service"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// NewRootCommand creates the scenarioctl command tree.  Configuration is
// read from the same environment as the server.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scenarioctl",
		Short: "Operate the scenario ownership auction",
		Long:  "Administrative commands for the scenario service: migrations, resolution, cancellation, sweeps and balances.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newCancelCommand(opts))
	cmd.AddCommand(newCloseExpiredCommand(opts))
	cmd.AddCommand(newRelayCommand(opts))
	cmd.AddCommand(newGrantCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

// runtime is what a command needs to talk to the store.
type runtime struct {
	cfg     config.Config
	db      *sql.DB
	dialect database.Dialect
	log     *zap.Logger
	engine  *service.Engine
}

func (r *runtime) Close() {
	_ = r.db.Close()
	_ = r.log.Sync()
}

// connect loads configuration and opens the database.  The engine is only
// built when withEngine is set, since migrate must run before it is
// usable.
func connect(opts *RootOptions, withEngine bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		return nil, err
	}
	db, dialect, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	r := &runtime{cfg: cfg, db: db, dialect: dialect, log: log}
	if !withEngine {
		return r, nil
	}

	economy, err := config.LoadEconomy(cfg.EconomyFile)
	if err != nil {
		r.Close()
		return nil, err
	}
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		r.Close()
		return nil, err
	}
	var gateway service.Gateway = service.LogGateway{Log: log.Named("notify")}
	if cfg.RabbitURL != "" {
		gateway = queue.NewPublisher(cfg.RabbitURL, log)
	}
	r.engine = service.NewEngine(service.Deps{
		DB:      db,
		Dialect: dialect,
		Economy: economy,
		IDs:     node,
		Logger:  log,
		Gateway: gateway,
	})
	r.engine.Dispatcher().MaxAttempts = cfg.OutboxMaxAttempts
	r.engine.Dispatcher().Timeout = cfg.OutboxDeliverTimeout
	return r, nil
}

// output prints v as indented JSON, or text otherwise.
func output(cmd *cobra.Command, opts *RootOptions, v any, text string) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
