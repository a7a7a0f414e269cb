// Command apt-sortpkgs reads a Packages or Sources file and emits its
// stanzas sorted by package name, each rewritten in the canonical field
// order.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/arc-language/goapt/internal/cmdutil"
	"github.com/arc-language/goapt/internal/tagfile"
)

var (
	flags      cmdutil.CommonFlags
	sourceMode bool
)

var rootCmd = &cobra.Command{
	Use:           "apt-sortpkgs <file>",
	Short:         "sort a package index file",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags.Register(rootCmd)
	rootCmd.Flags().BoolVarP(&sourceMode, "source", "S", false, "treat the input as a Sources file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "E: %v\n", err)
		os.Exit(cmdutil.ExitFailure)
	}
}

type stanza struct {
	key string
	sec *tagfile.Section
}

func run(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var stanzas []stanza
	sc := tagfile.NewScanner(f)
	for {
		sec, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*tagfile.ErrMalformedStanza); ok {
				fmt.Fprintf(os.Stderr, "W: %v\n", err)
				continue
			}
			return err
		}
		name, _ := sec.Find("Package")
		ver, _ := sec.Find("Version")
		stanzas = append(stanzas, stanza{key: name + "\x00" + ver, sec: sec})
	}

	sort.SliceStable(stanzas, func(i, j int) bool { return stanzas[i].key < stanzas[j].key })

	order := tagfile.RewritePackageOrder
	if sourceMode {
		order = tagfile.RewriteSourceOrder
	}
	for _, s := range stanzas {
		fmt.Print(s.sec.Rewrite(order))
		fmt.Println()
	}
	return nil
}
