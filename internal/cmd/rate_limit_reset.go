package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/output"
)

var (
	rateLimitResetAll    bool
	rateLimitResetKey    string
	rateLimitResetPrefix string
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
	rateLimitResetOutput string
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate limit state",
	Long: `Clear the send history of the configured limiter.

With the libsql backend, --all, --key and --prefix select other limiters
stored in the same database. Reset requires --yes unless --dry-run is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := output.ParseFormat(rateLimitResetOutput)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}
		if !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("reset requires --yes (or use --dry-run)")
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

		query := store.LimiterQuery{
			All:    rateLimitResetAll,
			Key:    strings.TrimSpace(rateLimitResetKey),
			Prefix: strings.TrimSpace(rateLimitResetPrefix),
		}
		bulk := query.All || query.Key != "" || query.Prefix != ""

		if backend.db == nil {
			if bulk {
				return fmt.Errorf("--all, --key and --prefix require the libsql backend (configured: %s)", backend.name)
			}
			matched := 0
			if state, err := backend.store.GetLimiterState(ctx, backend.key); err == nil && state != nil {
				matched = 1
			}
			if rateLimitResetDryRun {
				return writeRateLimitResetResult(format, cmd.OutOrStdout(), matched, 0, true)
			}
			deleted, err := backend.reset(ctx)
			if err != nil {
				return err
			}
			return writeRateLimitResetResult(format, cmd.OutOrStdout(), matched, deleted, false)
		}

		if !bulk {
			query.Key = backend.key
		}
		matched, err := backend.db.CountLimiterStates(ctx, query)
		if err != nil {
			return err
		}
		if rateLimitResetDryRun {
			return writeRateLimitResetResult(format, cmd.OutOrStdout(), matched, 0, true)
		}
		deleted, err := backend.db.ResetLimiterStates(ctx, query)
		if err != nil {
			return err
		}
		return writeRateLimitResetResult(format, cmd.OutOrStdout(), matched, deleted, false)
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would reset %d rate limiter(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Reset %d/%d rate limiter(s)\n", deleted, matched)
	return err
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset every stored limiter (libsql)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetKey, "key", "", "Reset a single key (libsql)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset keys with matching prefix (libsql)")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be reset")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
}
