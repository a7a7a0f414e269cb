// Command apt-cdrom would identify removable media and register their
// indexes as sources. The identification workflow itself lives in the
// media tooling, outside this engine; this binary exists so scripted
// callers get a stable exit status instead of a missing-command error.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arc-language/goapt/internal/cmdutil"
)

var flags cmdutil.CommonFlags

var rootCmd = &cobra.Command{
	Use:           "apt-cdrom",
	Short:         "manage removable-media sources",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags.Register(rootCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "add",
		Short: "add a medium to the source list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("media identification is handled by the platform media tooling; add a file: or copy: entry to sources.list instead")
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "E: %v\n", err)
		os.Exit(cmdutil.ExitFailure)
	}
}
