package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Set via ldflags at build time
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Show version information",
	Annotations: map[string]string{annotationConfig: configOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if JSONOutput() {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{
				"version":    Version,
				"commit":     Commit,
				"build_date": BuildDate,
				"go_version": runtime.Version(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			})
		}

		_, _ = fmt.Fprintf(out, "encore %s\n", Version)
		if !Verbose() {
			return nil
		}
		t := NewTableWriter(out)
		t.Row("  commit:", Commit)
		t.Row("  built:", BuildDate)
		t.Row("  go version:", runtime.Version())
		t.Row("  platform:", runtime.GOOS+"/"+runtime.GOARCH)
		t.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
