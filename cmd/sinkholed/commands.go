package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/config"
	"github.com/haukened/rr-sinkhole/internal/dns/services/aggregator"
)

func newRootCmd() *cobra.Command {
	var configFile string

	loadConfig := func() (*config.AppConfig, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
			return nil, fmt.Errorf("logging configuration error: %w", err)
		}
		return cfg, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the DNS sinkhole",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	root := &cobra.Command{
		Use:          appName,
		Short:        "DNS sinkhole that answers blocklisted names locally and relays the rest",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"optional config file (yaml, json or toml); defaults to $"+config.ConfigFileEnv)

	root.AddCommand(serve)
	root.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch every blocklist source once, print a report and persist the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runRefresh(cmd.Context(), cfg, cmd)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check <name>...",
		Short: "Classify names against the persisted blocklist and the allowlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runCheck(cfg, args, cmd)
		},
	})
	return root
}

func runServe(parent context.Context, cfg *config.AppConfig) error {
	log.Info(map[string]any{
		"version":  version,
		"env":      cfg.Env,
		"listen":   cfg.Server.Listen,
		"upstream": cfg.Upstream.Server,
		"sources":  len(cfg.Blocklist.Sources),
		"admin":    cfg.Admin.Listen,
	}, "Starting sinkhole")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Error(map[string]any{"error": err}, "Failed to build application")
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Error(map[string]any{"error": err}, "Server failed")
		return err
	}
	log.Info(nil, "Sinkhole stopped gracefully")
	return nil
}

func runRefresh(ctx context.Context, cfg *config.AppConfig, cmd *cobra.Command) error {
	core, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer core.close()

	report, err := core.aggregator.Refresh(ctx)
	printReport(cmd, report)
	return err
}

func printReport(cmd *cobra.Command, report aggregator.Report) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tENTRIES\tLINES\tELAPSED\tERROR")
	for _, s := range report.Sources {
		errText := "-"
		if s.Err != "" {
			errText = s.Err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", s.Source, s.Entries, s.Lines, s.Elapsed, errText)
	}
	_ = w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "domains: %d  generation: %d  published: %t  duration: %s\n",
		report.Domains, report.Generation, report.Published, report.Duration)
}

func runCheck(cfg *config.AppConfig, names []string, cmd *cobra.Command) error {
	core, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer core.close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERDICT\tREASON\tMATCHED")
	for _, name := range names {
		d := core.classifier.Classify(name)
		matched := d.Matched
		if matched == "" {
			matched = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, d.Verdict, d.Reason, matched)
	}
	return w.Flush()
}
