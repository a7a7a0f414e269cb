// Command apt-config prints the assembled configuration tree, the way
// scripts introspect the directory layout and knobs in effect.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arc-language/goapt/internal/cmdutil"
)

var flags cmdutil.CommonFlags

var rootCmd = &cobra.Command{
	Use:           "apt-config",
	Short:         "query the configuration",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags.Register(rootCmd)
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "dump",
			Short: "print every configured value",
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := cmdutil.Bootstrap(&flags)
				if err != nil {
					return err
				}
				fmt.Print(env.Cfg.Dump())
				return nil
			},
		},
		&cobra.Command{
			Use:   "shell [VAR KEY]...",
			Short: "print values for shell eval, VAR='value' per pair",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args)%2 != 0 {
					return fmt.Errorf("shell takes VAR KEY pairs")
				}
				env, err := cmdutil.Bootstrap(&flags)
				if err != nil {
					return err
				}
				for i := 0; i < len(args); i += 2 {
					if v := env.Cfg.Find(args[i+1], ""); v != "" {
						fmt.Printf("%s='%s'\n", args[i], v)
					}
				}
				return nil
			},
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "E: %v\n", err)
		os.Exit(cmdutil.ExitFailure)
	}
}
