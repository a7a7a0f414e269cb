// Package cmdutil is the bootstrap shared by every CLI binary: host
// config, the configuration tree with its file and -o overrides, resolved
// paths, and the wiring that turns those into an opened cache and a
// planning session.
package cmdutil

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/cachegen"
	"github.com/arc-language/goapt/internal/config"
	"github.com/arc-language/goapt/internal/depcache"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/indexfile"
	"github.com/arc-language/goapt/internal/layout"
	"github.com/arc-language/goapt/internal/platform"
	"github.com/arc-language/goapt/internal/policy"
	"github.com/arc-language/goapt/internal/sourcelist"
)

// Exit codes per the CLI contract.
const (
	ExitOK      = 0
	ExitFailure = 100
)

// CommonFlags carries the options every command accepts.
type CommonFlags struct {
	ConfigFile string
	Options    []string
	Quiet      int
	AssumeYes  bool
	Simulate   bool
}

// Register wires the common flags onto a root command.
func (cf *CommonFlags) Register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&cf.ConfigFile, "config-file", "c", "", "configuration file")
	pf.StringArrayVarP(&cf.Options, "option", "o", nil, "set a configuration option, KEY=VALUE")
	pf.CountVarP(&cf.Quiet, "quiet", "q", "quiet output (repeatable)")
	pf.BoolVarP(&cf.AssumeYes, "yes", "y", false, "assume yes to prompts")
	pf.BoolVarP(&cf.Simulate, "simulate", "s", false, "simulate; do not download or change anything")
}

// Env is the assembled runtime context.
type Env struct {
	Host   *config.HostConfig
	Cfg    *config.Tree
	Paths  layout.Paths
	Arch   platform.Arch
	ES     *errstack.Stack
	Logger *log.Logger
	Flags  *CommonFlags
}

// Bootstrap builds the Env: defaults, host config, apt.conf-dialect file,
// TOML overrides, then -o options, in that precedence order.
func Bootstrap(cf *CommonFlags) (*Env, error) {
	host, err := config.LoadHostConfig("")
	if err != nil {
		return nil, err
	}

	cfg := config.New()
	cfg.SetDefaults()
	if host.RootDir != "" {
		cfg.Set("Dir", host.RootDir)
	}

	confFile := cf.ConfigFile
	if confFile == "" {
		confFile = host.ConfFile
	}
	if confFile == "" {
		candidate := filepath.Join(layout.Resolve(cfg).EtcDir, "goapt.conf")
		if _, err := os.Stat(candidate); err == nil {
			confFile = candidate
		}
	}
	if confFile != "" {
		if err := cfg.LoadFile(confFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", confFile, err)
		}
	}
	if host.OverrideTOML != "" {
		if err := cfg.LoadOverrides(host.OverrideTOML); err != nil {
			return nil, err
		}
	}
	for _, opt := range cf.Options {
		if err := cfg.ParseCommandLineOption(opt); err != nil {
			return nil, err
		}
	}

	arch := platform.Arch(cfg.Find("APT::Architecture", ""))
	if !arch.Valid() {
		detected, err := platform.Detect()
		if err != nil {
			return nil, err
		}
		arch = detected
		cfg.Set("APT::Architecture", string(arch))
	}

	return &Env{
		Host:   host,
		Cfg:    cfg,
		Paths:  layout.Resolve(cfg),
		Arch:   arch,
		ES:     &errstack.Stack{},
		Logger: host.Logger("[goapt] "),
		Flags:  cf,
	}, nil
}

// SourceList parses the configured sources.list and fragment directory.
func (e *Env) SourceList() (*sourcelist.List, error) {
	main := filepath.Join(e.Paths.EtcDir, e.Cfg.Find("Dir::Etc::SourceList", "sources.list"))
	parts := filepath.Join(e.Paths.EtcDir, e.Cfg.Find("Dir::Etc::SourceParts", "sources.list.d"))
	return sourcelist.ParseDir(main, parts, e.Arch, e.ES)
}

// OpenCache opens (rebuilding when stale) the package cache over the
// stored index files.
func (e *Env) OpenCache(readOnly bool) (*acache.Cache, []cachegen.IndexSource, error) {
	list, err := e.SourceList()
	if err != nil {
		return nil, nil, err
	}
	sources := indexfile.SourcesFromDisk(e.Paths, list, e.Arch)
	c, err := cachegen.OpenOrRebuild(e.Paths, sources, e.Arch, e.ES, readOnly)
	if err != nil {
		return nil, nil, err
	}
	return c, sources, nil
}

// NewPolicy builds the pin policy with the preferences directory loaded.
func (e *Env) NewPolicy(c *acache.Cache) (*policy.Policy, error) {
	pol := policy.New(c)
	dir := filepath.Join(e.Paths.EtcDir, e.Cfg.Find("Dir::Etc::PreferencesParts", "preferences.d"))
	if err := pol.LoadDir(dir, e.ES); err != nil {
		return nil, err
	}
	return pol, nil
}

// NewDepCache assembles the full planning stack.
func (e *Env) NewDepCache(c *acache.Cache) (*depcache.DepCache, error) {
	pol, err := e.NewPolicy(c)
	if err != nil {
		return nil, err
	}
	return depcache.New(c, pol), nil
}

// ReportErrors prints the error stack and returns the process exit code.
// Warnings print but do not fail; any real error forces ExitFailure.
func (e *Env) ReportErrors(err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "E: %v\n", err)
	}
	for _, it := range e.ES.Items() {
		if it.IsWarning() {
			fmt.Fprintf(os.Stderr, "W: %s\n", it.Message)
		} else {
			fmt.Fprintf(os.Stderr, "E: %s\n", it.Error())
		}
	}
	if err != nil || e.ES.Pending() {
		return ExitFailure
	}
	return ExitOK
}

// PrintPlan summarizes a planning session the way the interactive tools
// do before asking for confirmation.
func PrintPlan(dc *depcache.DepCache) {
	c := dc.Cache()
	var install, remove, upgrade []string
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		switch dc.GetMode(p) {
		case depcache.ModeInstall:
			cand := dc.CandidateVer(p)
			if cand.IsEnd() || cand.Same(p.CurrentVer()) {
				continue
			}
			if p.CurrentVer().IsEnd() {
				install = append(install, p.Name())
			} else {
				upgrade = append(upgrade, p.Name())
			}
		case depcache.ModeDelete:
			if !p.CurrentVer().IsEnd() {
				remove = append(remove, p.Name())
			}
		}
	}
	if len(install) > 0 {
		fmt.Printf("The following NEW packages will be installed:\n  %v\n", install)
	}
	if len(upgrade) > 0 {
		fmt.Printf("The following packages will be upgraded:\n  %v\n", upgrade)
	}
	if len(remove) > 0 {
		fmt.Printf("The following packages will be REMOVED:\n  %v\n", remove)
	}
	ct := dc.Counters()
	fmt.Printf("%d upgraded, %d newly installed, %d to remove and %d not upgraded.\n",
		len(upgrade), len(install), ct.Delete, ct.Keep)
	if ct.DownloadSize > 0 {
		fmt.Printf("Need to get %d B of archives.\n", ct.DownloadSize)
	}
	if ct.UsrSize != 0 {
		fmt.Printf("After this operation, %d B of additional disk space will be used.\n", ct.UsrSize)
	}
}
