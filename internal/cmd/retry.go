package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/output"
)

var (
	retryContinueOnError bool
	retryOutput          string
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-send reports kept in offline storage",
	Long: `Re-send every stored report. Delivered reports are removed.

Stored reports bypass the rate limiter. By default the pass stops at the
first failure; --continue-on-error attempts every report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := output.ParseFormat(retryOutput)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		// Retry only needs storage and transport.
		cfg.RateLimit.Enabled = false
		rt, err := openClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		summary, retryErr := rt.client.Retry(ctx, store.RetryOptions{ContinueOnError: retryContinueOnError})
		view := output.RetryView{
			Attempted: summary.Attempted,
			Sent:      summary.Sent,
			Failed:    summary.Failed,
			Remaining: summary.Remaining,
		}
		if retryErr != nil {
			view.Error = retryErr.Error()
		}

		rendered, err := output.NewFormatter(format).FormatRetry(view)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return retryErr
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().BoolVar(&retryContinueOnError, "continue-on-error", false, "keep going after a failed report")
	retryCmd.Flags().StringVar(&retryOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
