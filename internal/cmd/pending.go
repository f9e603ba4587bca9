package cmd

import (
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faultline/faultline/internal/core/store"
	"github.com/faultline/faultline/internal/output"
)

var (
	pendingOutput string
	pendingOut    string
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List reports waiting in offline storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(pendingOutput)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		if !cfg.OfflineStorage.Enabled || strings.TrimSpace(cfg.OfflineStorage.Dir) == "" {
			return errors.New("offline storage is disabled")
		}

		reports, err := listPending(store.NewReportStore(cfg.OfflineStorage.Dir))
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatPending(reports)
		if err != nil {
			return err
		}
		return emit(cmd, pendingOut, rendered)
	},
}

// listPending returns stored reports oldest first. A report removed while
// listing is skipped.
func listPending(reports *store.ReportStore) ([]output.PendingReport, error) {
	ids, err := reports.ListPending()
	if err != nil {
		return nil, err
	}

	pending := make([]output.PendingReport, 0, len(ids))
	for _, id := range ids {
		path := reports.Path(id)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		pending = append(pending, output.PendingReport{
			ID:       id,
			Path:     path,
			Size:     info.Size(),
			StoredAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].StoredAt.Equal(pending[j].StoredAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].StoredAt.Before(pending[j].StoredAt)
	})
	return pending, nil
}

func init() {
	rootCmd.AddCommand(pendingCmd)

	pendingCmd.Flags().StringVar(&pendingOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	pendingCmd.Flags().StringVar(&pendingOut, "out", "", "Write output to a file (default stdout)")
}
