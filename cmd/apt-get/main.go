// Command apt-get plans and performs package state changes: updating the
// index lists, installing, removing and upgrading. The dpkg invocation
// that would unpack on disk is delegated to the installer backend and not
// performed here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/acquire"
	"github.com/arc-language/goapt/internal/cachegen"
	"github.com/arc-language/goapt/internal/cmdutil"
	"github.com/arc-language/goapt/internal/depcache"
	"github.com/arc-language/goapt/internal/gpgverify"
	"github.com/arc-language/goapt/internal/indexfile"
	"github.com/arc-language/goapt/internal/layout"
	"github.com/arc-language/goapt/internal/resolver"
)

var flags cmdutil.CommonFlags

var rootCmd = &cobra.Command{
	Use:           "apt-get",
	Short:         "package handling utility",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags.Register(rootCmd)
	rootCmd.AddCommand(
		&cobra.Command{Use: "update", Short: "download fresh package index files", RunE: runUpdate},
		&cobra.Command{Use: "install [package...]", Short: "install packages", Args: cobra.MinimumNArgs(1), RunE: runInstall},
		&cobra.Command{Use: "remove [package...]", Short: "remove packages", Args: cobra.MinimumNArgs(1), RunE: runRemove},
		&cobra.Command{Use: "upgrade", Short: "upgrade without removing anything", RunE: runUpgrade},
		&cobra.Command{Use: "dist-upgrade", Short: "upgrade, adding and removing as needed", RunE: runDistUpgrade},
		&cobra.Command{Use: "autoremove", Short: "remove automatically installed, no longer needed packages", RunE: runAutoremove},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "E: %v\n", err)
		os.Exit(cmdutil.ExitFailure)
	}
}

// signalContext cancels on SIGINT so in-flight workers are reaped and
// partials kept for a later resume.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	list, err := env.SourceList()
	if err != nil {
		return err
	}
	keyringDir := filepath.Join(env.Paths.EtcDir, env.Cfg.Find("Dir::Etc::TrustedParts", "trusted.gpg.d"))
	keyring, err := gpgverify.LoadKeyringDir(keyringDir)
	if err != nil {
		return err
	}

	u := &indexfile.Updater{
		Cfg:     env.Cfg,
		Paths:   env.Paths,
		Arch:    env.Arch,
		ES:      env.ES,
		Logger:  env.Logger,
		Keyring: keyring,
	}
	if err := u.Run(ctx, list); err != nil {
		os.Exit(env.ReportErrors(err))
	}

	// Regenerate the cache from what just landed.
	sources := u.Sources(list)
	if _, err := cachegen.OpenOrRebuild(env.Paths, sources, env.Arch, env.ES, false); err != nil {
		os.Exit(env.ReportErrors(err))
	}
	fmt.Println("Reading package lists... Done")
	os.Exit(env.ReportErrors(nil))
	return nil
}

// plan marks the requested changes, repairs, prints and (unless simulate)
// downloads the archives. The installer handoff is gated on a clean error
// stack.
func plan(env *cmdutil.Env, mark func(dc *depcache.DepCache, c *acache.Cache) error) error {
	c, sources, err := env.OpenCache(false)
	if err != nil {
		return err
	}
	defer c.Close()

	dc, err := env.NewDepCache(c)
	if err != nil {
		return err
	}
	if err := mark(dc, c); err != nil {
		return err
	}

	cmdutil.PrintPlan(dc)
	if env.Flags.Simulate {
		return nil
	}
	if dc.Counters().Broken > 0 {
		return fmt.Errorf("unmet dependencies remain; try --fix-broken")
	}
	if err := fetchArchives(env, dc, sources); err != nil {
		return err
	}
	if env.ES.Pending() {
		return fmt.Errorf("errors occurred; not invoking the installer")
	}
	if dc.Counters().Install+dc.Counters().Delete > 0 {
		fmt.Println("Handing ordered work to the installer backend.")
	}
	return nil
}

func fetchArchives(env *cmdutil.Env, dc *depcache.DepCache, sources []cachegen.IndexSource) error {
	c := dc.Cache()
	a := acquire.New(env.Cfg, env.ES, env.Logger)
	count := 0
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		if dc.GetMode(p) != depcache.ModeInstall {
			continue
		}
		cand := dc.CandidateVer(p)
		if cand.IsEnd() || cand.Same(p.CurrentVer()) || !cand.Downloadable() {
			continue
		}
		item, err := indexfile.ArchiveItemFor(cand, sources, env.Paths.ArchivesDir)
		if err != nil {
			return err
		}
		if _, err := a.Add(item); err != nil {
			return err
		}
		count++
	}
	if count == 0 {
		return nil
	}

	// The installer directory lock is only held around the archive fetch.
	lock, err := layout.GetLock(env.Paths.ArchivesDir + "/lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, cancel := signalContext()
	defer cancel()
	return a.Run(ctx)
}

func resolveNames(c *acache.Cache, env *cmdutil.Env, names []string) ([]acache.PkgIterator, error) {
	var out []acache.PkgIterator
	for _, name := range names {
		pkgName, arch := name, string(env.Arch)
		if i := strings.IndexByte(name, ':'); i >= 0 {
			pkgName, arch = name[:i], name[i+1:]
		}
		p := c.FindPkg(pkgName, arch)
		if p.IsEnd() {
			p = c.FindPkgAnyArch(pkgName)
		}
		if p.IsEnd() {
			return nil, fmt.Errorf("unable to locate package %s", name)
		}
		out = append(out, p)
	}
	return out, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return err
	}
	return plan(env, func(dc *depcache.DepCache, c *acache.Cache) error {
		pkgs, err := resolveNames(c, env, args)
		if err != nil {
			return err
		}
		for _, p := range pkgs {
			dc.MarkInstall(p, true)
			dc.SetProtected(p)
		}
		if dc.Counters().Broken > 0 {
			return resolver.New(dc).Resolve()
		}
		return nil
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return err
	}
	return plan(env, func(dc *depcache.DepCache, c *acache.Cache) error {
		pkgs, err := resolveNames(c, env, args)
		if err != nil {
			return err
		}
		for _, p := range pkgs {
			dc.MarkDelete(p, false)
		}
		if dc.Counters().Broken > 0 {
			r := resolver.New(dc)
			r.RemoveEssential = false
			return r.Resolve()
		}
		return nil
	})
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return err
	}
	return plan(env, func(dc *depcache.DepCache, c *acache.Cache) error {
		return resolver.New(dc).Upgrade()
	})
}

func runDistUpgrade(cmd *cobra.Command, args []string) error {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return err
	}
	return plan(env, func(dc *depcache.DepCache, c *acache.Cache) error {
		return resolver.New(dc).DistUpgrade()
	})
}

func runAutoremove(cmd *cobra.Command, args []string) error {
	env, err := cmdutil.Bootstrap(&flags)
	if err != nil {
		return err
	}
	return plan(env, func(dc *depcache.DepCache, c *acache.Cache) error {
		// Remove automatically installed packages nothing depends on any
		// more; roll back any removal that breaks something.
		for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
			if p.CurrentVer().IsEnd() || !dc.IsAuto(p) {
				continue
			}
			dc.MarkDelete(p, false)
			if dc.Counters().Broken > 0 {
				dc.MarkKeep(p, false)
			}
		}
		return nil
	})
}
