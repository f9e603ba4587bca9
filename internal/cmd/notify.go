package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/delivery"
	"github.com/faultline/faultline/internal/output"
)

var (
	notifyClass        string
	notifyMessage      string
	notifySeverity     string
	notifyContext      string
	notifyGroupingHash string
	notifyMetadata     string
	notifyOutput       string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send an error report",
	Long: `Send one error report through the delivery pipeline.

The report passes the rate limiter when one is enabled. A report that
cannot be delivered is stored for "faultline retry" when offline storage
is enabled.`,
	Example: `  faultline notify --class DeployFailed --message "migration 42 timed out"
  faultline notify --class Timeout --message "upstream slow" --severity warning \
    --metadata '{"request":{"path":"/orders"}}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if strings.TrimSpace(notifyClass) == "" {
			return errors.New("--class is required")
		}
		format, err := output.ParseFormat(notifyOutput)
		if err != nil {
			return err
		}

		var severity core.Severity
		if notifySeverity != "" {
			severity, err = core.ParseSeverity(notifySeverity)
			if err != nil {
				return err
			}
		}
		var metadata json.RawMessage
		if strings.TrimSpace(notifyMetadata) != "" {
			if !json.Valid([]byte(notifyMetadata)) {
				return errors.New("--metadata must be valid JSON")
			}
			metadata = json.RawMessage(notifyMetadata)
		}

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		rt, err := openClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		n := rt.client.Notify(notifyClass, notifyMessage)
		if severity != "" {
			n.Severity(severity)
		}
		if notifyContext != "" {
			n.Context(notifyContext)
		}
		if notifyGroupingHash != "" {
			n.GroupingHash(notifyGroupingHash)
		}
		if metadata != nil {
			n.Metadata(metadata)
		}

		sendErr := n.Send(ctx)
		rendered, err := output.NewFormatter(format).FormatDelivery(deliveryView(n.Result(), sendErr))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return sendErr
	},
}

func deliveryView(res delivery.Result, sendErr error) output.DeliveryView {
	view := output.DeliveryView{
		Outcome:     string(res.Outcome),
		Trace:       make([]string, 0, len(res.Trace)),
		Substituted: res.Substituted,
		StoredID:    res.StoredID,
	}
	for _, state := range res.Trace {
		view.Trace = append(view.Trace, string(state))
	}
	if res.LimiterErr != nil {
		view.Warning = "rate limit state not saved: " + res.LimiterErr.Error()
	}
	if sendErr != nil {
		view.Error = sendErr.Error()
	}
	return view
}

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.Flags().StringVar(&notifyClass, "class", "", "error class (required)")
	notifyCmd.Flags().StringVar(&notifyMessage, "message", "", "error message")
	notifyCmd.Flags().StringVar(&notifySeverity, "severity", "", "severity: error|warning|info")
	notifyCmd.Flags().StringVar(&notifyContext, "context", "", "action or location that failed")
	notifyCmd.Flags().StringVar(&notifyGroupingHash, "grouping-hash", "", "override collector grouping")
	notifyCmd.Flags().StringVar(&notifyMetadata, "metadata", "", "JSON metadata; object keys become tabs")
	notifyCmd.Flags().StringVar(&notifyOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
