package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/output"
)

var (
	rateLimitStatusOutput string
	rateLimitListOutput   string
	rateLimitListOut      string
	rateLimitListPrefix   string
)

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show usage of the configured rate limiter",
	Long: `Show how many sends fall inside each configured window.

Status reads the stored state only; it never writes to the backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := output.ParseFormat(rateLimitStatusOutput)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		limits, err := cfg.RateLimit.SendLimits()
		if err != nil {
			return err
		}

		backend, err := openLimiterBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.close() // nolint:errcheck // best-effort cleanup

		state, err := backend.store.GetLimiterState(ctx, backend.key)
		if err != nil {
			return fmt.Errorf("read rate limit state: %w", err)
		}

		status := limiterStatus(backend.name, backend.key, cfg.RateLimit.Enabled, state, limits, time.Now().UTC())
		rendered, err := output.NewFormatter(format).FormatRateLimit(status)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limiters",
	Long: `List limiter state stored in the backend.

The libsql backend may hold limiters for many keys; --prefix narrows the
listing. The file and redis backends list the configured key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := output.ParseFormat(rateLimitListOutput)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		backend, err := openLimiterBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.close() // nolint:errcheck // best-effort cleanup

		rows, err := listLimiters(cmd, backend)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatLimiterEntries(rows)
		if err != nil {
			return err
		}
		return emit(cmd, rateLimitListOut, rendered)
	},
}

func listLimiters(cmd *cobra.Command, backend *limiterBackend) ([]output.LimiterRow, error) {
	ctx := cmd.Context()

	if backend.db != nil {
		query := store.LimiterQuery{Prefix: strings.TrimSpace(rateLimitListPrefix)}
		if query.Prefix == "" {
			query.All = true
		}
		entries, err := backend.db.ListLimiterStates(ctx, query)
		if err != nil {
			return nil, err
		}
		rows := make([]output.LimiterRow, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, output.LimiterRow{
				Key:       e.Key,
				Sends:     len(e.State.SentNotifications),
				Triggered: e.State.Triggered,
				UpdatedAt: e.UpdatedAt,
			})
		}
		return rows, nil
	}

	state, err := backend.store.GetLimiterState(ctx, backend.key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return []output.LimiterRow{}, nil
	}
	row := output.LimiterRow{
		Key:       backend.key,
		Sends:     len(state.SentNotifications),
		Triggered: state.Triggered,
	}
	if n := len(state.SentNotifications); n > 0 {
		row.UpdatedAt = state.SentNotifications[n-1]
	}
	return []output.LimiterRow{row}, nil
}

func init() {
	rateLimitStatusCmd.Flags().StringVar(&rateLimitStatusOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")

	rateLimitListCmd.Flags().StringVar(&rateLimitListOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOut, "out", "", "Write output to a file (default stdout)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List keys with matching prefix (libsql backend)")
}
