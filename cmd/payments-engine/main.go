// Command payments-engine applies a CSV stream of transactions to client
// accounts and prints the final balances as CSV.
//
//	payments-engine transactions.csv > accounts.csv
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atmx/payments-engine/internal/config"
	"github.com/atmx/payments-engine/internal/engine"
	"github.com/atmx/payments-engine/internal/ingest"
	"github.com/atmx/payments-engine/internal/report"
	"github.com/atmx/payments-engine/internal/status"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments-engine TRANSACTIONS.csv",
		Short: "Apply a transaction stream to client accounts",
		Long: `Reads deposits, withdrawals, disputes, resolves and chargebacks from a
CSV file and writes one line per client with its available, held and total
funds and whether the account is locked.

Malformed or invalid records are skipped and reported on stderr; only a
missing input file stops the run.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runEngine,
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Path to a TOML config file")
	f.StringP("format", "f", config.FormatCSV, "Output format: csv or table")
	f.String("sqlite-out", "", "Also export final balances to this SQLite database")
	f.String("locked-policy", "", "Records accepted on locked accounts: block-funds, block-all or allow")
	f.String("dispute-policy", "", "Disputable transactions: deposits-only or symmetric")
	f.Int("queue-size", 0, "Per-client queue capacity")
	f.Int("shards", 0, "Lock shards of the in-memory store")
	f.String("status-addr", "", "Serve the status API on this address while running (e.g. :8080)")
	f.String("log-level", "", "Log level: debug, info, warn or error")
	return cmd
}

// loadConfig layers flags over the file and environment settings.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	strFlags := map[string]*string{
		"format":         &cfg.Output.Format,
		"sqlite-out":     &cfg.Output.SQLitePath,
		"locked-policy":  &cfg.Engine.LockedPolicy,
		"dispute-policy": &cfg.Engine.DisputePolicy,
		"status-addr":    &cfg.Status.Addr,
		"log-level":      &cfg.Log.Level,
	}
	for name, dst := range strFlags {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	intFlags := map[string]*int{
		"queue-size": &cfg.Engine.QueueSize,
		"shards":     &cfg.Engine.Shards,
	}
	for name, dst := range intFlags {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	policy, _ := cfg.Policy()

	// stdout carries the report; diagnostics go to stderr.
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	input, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	opts := []engine.Option{engine.WithPolicy(policy), engine.WithLogger(logger)}

	var serverDone chan error
	stopServer := func() {}
	if cfg.Status.Addr != "" {
		hub := status.NewHub(logger)
		opts = append(opts, engine.WithObserver(hub))

		srvCtx, cancel := context.WithCancel(ctx)
		serverDone = make(chan error, 1)
		go func() {
			serverDone <- status.NewServer(backend.Accounts, hub, logger).ListenAndServe(srvCtx, cfg.Status.Addr)
		}()
		stopServer = cancel
	}

	processor := engine.NewProcessor(backend.Accounts, backend.History, opts...)
	dispatcher := engine.NewDispatcher(processor, cfg.Engine.QueueSize, logger)

	runErr := dispatcher.Run(ctx, ingest.NewReader(bufio.NewReader(input)))
	if runErr != nil {
		logger.Error("input stream failed, reporting balances so far", "err", runErr)
	}

	accounts, err := backend.Accounts.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	out := bufio.NewWriter(cmd.OutOrStdout())
	writers := report.Multi{outputWriter(cfg.Output.Format, out)}
	if cfg.Output.SQLitePath != "" {
		writers = append(writers, report.NewSQLiteWriter(cfg.Output.SQLitePath))
	}
	if err := writers.Write(ctx, accounts); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := out.Flush(); err != nil {
		return err
	}

	stopServer()
	if serverDone != nil {
		if err := <-serverDone; err != nil {
			logger.Error("status server", "err", err)
		}
	}

	logger.Info("run complete", "run_id", backend.RunID, "accounts", len(accounts))
	return runErr
}

func outputWriter(format string, out *bufio.Writer) report.Writer {
	if format == config.FormatTable {
		return report.NewTableWriter(out)
	}
	return report.NewCSVWriter(out)
}
