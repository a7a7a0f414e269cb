// Command apt-helper exposes small pieces of the engine to scripts:
// download-file fetches one URI through the acquire machinery, and the
// hidden method subcommand is the entry point the fetch-method binaries
// (symlinks under the methods directory) execute through.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arc-language/goapt/internal/acquire"
	"github.com/arc-language/goapt/internal/acquire/methods"
	"github.com/arc-language/goapt/internal/cmdutil"
	"github.com/arc-language/goapt/internal/hashes"
)

var flags cmdutil.CommonFlags

var rootCmd = &cobra.Command{
	Use:           "apt-helper",
	Short:         "helper operations for scripts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags.Register(rootCmd)
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "download-file <uri> <dest> [sha256]",
			Short: "download one file, optionally verifying a SHA256",
			Args:  cobra.RangeArgs(2, 3),
			RunE:  runDownload,
		},
		&cobra.Command{
			Use:    "method <name>",
			Short:  "run a fetch method over stdin/stdout",
			Hidden: true,
			Args:   cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return methods.Run(args[0])
			},
		},
	)
}

func main() {
	// Invoked via a method-directory symlink (http, file, copy, gzip):
	// serve that method directly.
	switch base := filepath.Base(os.Args[0]); base {
	case "http", "https", "file", "copy", "gzip":
		if err := methods.Run(base); err != nil {
			fmt.Fprintf(os.Stderr, "E: %v\n", err)
			os.Exit(cmdutil.ExitFailure)
		}
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "E: %v\n", err)
		os.Exit(cmdutil.ExitFailure)
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return err
	}
	dest, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}

	var expected *hashes.HashStringList
	if len(args) == 3 {
		expected = hashes.NewHashStringList(hashes.HashString{Kind: hashes.KindSHA256, Hex: args[2]})
	}

	a := acquire.New(env.Cfg, env.ES, env.Logger)
	if _, err := a.Add(&acquire.Item{
		Desc:     filepath.Base(dest),
		URIs:     []string{args[0]},
		DestFile: dest,
		Expected: expected,
	}); err != nil {
		return err
	}
	if err := a.Run(context.Background()); err != nil {
		os.Exit(env.ReportErrors(err))
	}
	return nil
}
