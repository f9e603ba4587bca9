package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// emit writes rendered output to the command's stdout, or to path when one
// is given. Parent directories are created as needed.
func emit(cmd *cobra.Command, path, rendered string) error {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(rendered+"\n"), 0o644); err != nil { // #nosec G306 -- report listings are not secret
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
