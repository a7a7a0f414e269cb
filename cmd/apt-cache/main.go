// Command apt-cache queries the package cache: search, show, policy,
// dependency listings and cache statistics. Read-only; it never triggers
// downloads, though it will regenerate a stale cache from the stored
// lists.
package main

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/cachegen"
	"github.com/arc-language/goapt/internal/cmdutil"
	"github.com/arc-language/goapt/internal/indexfile"
	"github.com/arc-language/goapt/internal/policy"
)

var flags cmdutil.CommonFlags

var rootCmd = &cobra.Command{
	Use:           "apt-cache",
	Short:         "query the package cache",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags.Register(rootCmd)
	rootCmd.AddCommand(
		&cobra.Command{Use: "search <regex>", Short: "search package names", Args: cobra.ExactArgs(1), RunE: runSearch},
		&cobra.Command{Use: "show <package>...", Short: "show package records", Args: cobra.MinimumNArgs(1), RunE: runShow},
		&cobra.Command{Use: "policy <package>...", Short: "show candidate selection", Args: cobra.MinimumNArgs(1), RunE: runPolicy},
		&cobra.Command{Use: "depends <package>...", Short: "show raw dependencies", Args: cobra.MinimumNArgs(1), RunE: runDepends},
		&cobra.Command{Use: "rdepends <package>...", Short: "show reverse dependencies", Args: cobra.MinimumNArgs(1), RunE: runRDepends},
		&cobra.Command{Use: "pkgnames [prefix]", Short: "list all package names", RunE: runPkgNames},
		&cobra.Command{Use: "stats", Short: "show cache statistics", RunE: runStats},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "E: %v\n", err)
		os.Exit(cmdutil.ExitFailure)
	}
}

func open() (*cmdutil.Env, *acache.Cache, []cachegen.IndexSource, error) {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return nil, nil, nil, err
	}
	c, sources, err := env.OpenCache(false)
	if err != nil {
		return nil, nil, nil, err
	}
	return env, c, sources, nil
}

func findPkg(c *acache.Cache, env *cmdutil.Env, name string) (acache.PkgIterator, error) {
	p := c.FindPkg(name, string(env.Arch))
	if p.IsEnd() {
		p = c.FindPkgAnyArch(name)
	}
	if p.IsEnd() {
		return p, fmt.Errorf("no package found matching %s", name)
	}
	return p, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	_, c, _, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	re, err := regexp.Compile(args[0])
	if err != nil {
		return fmt.Errorf("bad search pattern: %w", err)
	}
	var names []string
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		if p.HasVersions() && re.MatchString(p.Name()) {
			names = append(names, p.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	env, c, sources, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	pol, err := env.NewPolicy(c)
	if err != nil {
		return err
	}
	for _, name := range args {
		p, err := findPkg(c, env, name)
		if err != nil {
			return err
		}
		v := pol.GetCandidateVer(p)
		if v.IsEnd() {
			v = p.VersionList()
		}
		if v.IsEnd() {
			return fmt.Errorf("package %s has no available version", name)
		}
		rp, _, err := indexfile.FindRecord(sources, v)
		if err != nil {
			// Status-only package: print what the cache knows.
			fmt.Printf("Package: %s\nVersion: %s\nArchitecture: %s\nSection: %s\n\n",
				p.Name(), v.VerStr(), v.Arch(), v.Section())
			continue
		}
		fmt.Printf("Package: %s\nVersion: %s\nArchitecture: %s\nMaintainer: %s\nFilename: %s\nSize: %d\nDescription: %s\n\n",
			p.Name(), v.VerStr(), v.Arch(), rp.Maintainer(), rp.FileName(), rp.Size(), rp.LongDesc())
	}
	return nil
}

func runPolicy(cmd *cobra.Command, args []string) error {
	env, c, _, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	pol, err := env.NewPolicy(c)
	if err != nil {
		return err
	}
	for _, name := range args {
		p, err := findPkg(c, env, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", p.Name())
		cur := p.CurrentVer()
		if cur.IsEnd() {
			fmt.Println("  Installed: (none)")
		} else {
			fmt.Printf("  Installed: %s\n", cur.VerStr())
		}
		cand := pol.GetCandidateVer(p)
		if cand.IsEnd() {
			fmt.Println("  Candidate: (none)")
		} else {
			fmt.Printf("  Candidate: %s\n", cand.VerStr())
		}
		fmt.Println("  Version table:")
		for v := p.VersionList(); !v.IsEnd(); v.Inc() {
			marker := "   "
			if v.Same(cur) {
				marker = "***"
			}
			fmt.Printf(" %s %s %d\n", marker, v.VerStr(), pol.VersionScore(v))
			for vf := v.FileList(); !vf.IsEnd(); vf.Inc() {
				f := vf.File()
				fmt.Printf("        %d %s/%s %s\n", filePriorityOf(f), f.Archive(), f.Component(), f.FileName())
			}
		}
	}
	return nil
}

func filePriorityOf(f acache.PkgFileIterator) int {
	switch {
	case f.IsStatusFile():
		return policy.StatusFilePriority
	case f.Flags()&acache.PkgFileFlagNotAutomatic != 0:
		return policy.NotAutomaticPriority
	default:
		return policy.DefaultPriority
	}
}

func runDepends(cmd *cobra.Command, args []string) error {
	env, c, _, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	for _, name := range args {
		p, err := findPkg(c, env, name)
		if err != nil {
			return err
		}
		v := p.VersionList()
		if v.IsEnd() {
			continue
		}
		fmt.Printf("%s\n", p.Name())
		for d := v.DependsList(); !d.IsEnd(); d.Inc() {
			line := fmt.Sprintf("%s: %s", acache.DepTypeName(d.DepType()), d.TargetPkg().Name())
			if tv := d.TargetVer(); tv != "" {
				line += fmt.Sprintf(" (%s %s)", d.CompareOp(), tv)
			}
			if d.IsOr() {
				line += " |"
			}
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

func runRDepends(cmd *cobra.Command, args []string) error {
	env, c, _, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	for _, name := range args {
		p, err := findPkg(c, env, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s\nReverse Depends:\n", p.Name())
		for d := p.RevDependsList(); !d.IsEnd(); d.Inc() {
			fmt.Printf("  %s\n", d.ParentPkg().Name())
		}
	}
	return nil
}

func runPkgNames(cmd *cobra.Command, args []string) error {
	_, c, _, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	var names []string
	for g := c.GrpBegin(); !g.IsEnd(); g.Inc() {
		if strings.HasPrefix(g.Name(), prefix) {
			names = append(names, g.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	_, c, _, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	virtual := 0
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		if !p.HasVersions() && p.HasProvides() {
			virtual++
		}
	}
	fmt.Printf("Total package names: %d\n", c.GroupCount())
	fmt.Printf("Total package structures: %d\n", c.PackageCount())
	fmt.Printf("Total distinct versions: %d\n", c.VersionCount())
	fmt.Printf("Total dependencies: %d\n", c.DependsCount())
	fmt.Printf("Pure virtual packages: %d\n", virtual)
	return nil
}
