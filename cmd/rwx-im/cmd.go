package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rwx-im/rwx-im/internal/app"
	"github.com/rwx-im/rwx-im/internal/config"
	"github.com/rwx-im/rwx-im/pkg/verify"
)

const (
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
)

func newRootCmd(lookup config.LookupFunc) *cobra.Command {
	serve := newServeCmd(lookup)

	root := &cobra.Command{
		Use:   "rwx-im",
		Short: "Serve a local content-addressed cache repository over HTTP",
		Long: `rwx-im opens the cache repository in ./cache, creating it on first start,
and serves /~<owner>/<path> addresses from it on ` + config.Addr + `.

Running rwx-im without a subcommand is the same as "rwx-im serve".`,
		Args:              cobra.NoArgs,
		RunE:              serve.RunE,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	root.AddCommand(serve, newVerifyCmd(lookup))
	return root
}

func newServeCmd(lookup config.LookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Resolve the cache repository and serve it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv(lookup)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), cfg, app.Options{})
		},
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
}

func newVerifyCmd(lookup config.LookupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every stored chunk of the cache repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv(lookup)
			if err != nil {
				return err
			}

			vcfg := verify.DefaultConfig()
			if vcfg.MaxConcurrency, err = cmd.Flags().GetInt(FlagConcurrency); err != nil {
				return err
			}
			if vcfg.Timeout, err = cmd.Flags().GetDuration(FlagTimeout); err != nil {
				return err
			}

			report, err := app.Verify(cmd.Context(), cfg, vcfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d of %d chunks in %s\n", report.Checked, report.Total, report.Duration.Round(time.Millisecond))
			for _, f := range report.Failures {
				fmt.Fprintf(out, "FAIL %s: %v\n", f.Digest, f.Err)
			}
			if !report.OK() {
				return fmt.Errorf("%d of %d chunks failed verification", len(report.Failures), report.Total)
			}
			return nil
		},
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	def := verify.DefaultConfig()
	cmd.Flags().Int(FlagConcurrency, def.MaxConcurrency, "Number of chunks verified in parallel")
	cmd.Flags().Duration(FlagTimeout, def.Timeout, "Timeout for verifying a single chunk")
	return cmd
}
