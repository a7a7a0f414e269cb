package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SetDefaults installs the stock directory layout and acquire settings a
// fresh tree starts from, before any file or -o override is applied.
func (t *Tree) SetDefaults() {
	t.Set("Dir", "/")
	t.Set("Dir::State", "var/lib/goapt")
	t.Set("Dir::State::Lists", "lists/")
	t.Set("Dir::State::Status", "status")
	t.Set("Dir::Cache", "var/cache/goapt")
	t.Set("Dir::Cache::PkgCache", "pkgcache.bin")
	t.Set("Dir::Cache::SrcPkgCache", "srcpkgcache.bin")
	t.Set("Dir::Cache::Archives", "archives/")
	t.Set("Dir::Etc", "etc/goapt")
	t.Set("Dir::Etc::SourceList", "sources.list")
	t.Set("Dir::Etc::SourceParts", "sources.list.d")
	t.Set("Dir::Etc::PreferencesParts", "preferences.d")
	t.Set("Dir::Etc::TrustedParts", "trusted.gpg.d")
	t.Set("Dir::Bin::Methods", "/usr/lib/goapt/methods")

	t.Set("Acquire::Queue-Mode", "host")
	t.Set("Acquire::Retries", "1")
	t.Set("Acquire::Max-Stall-Seconds", "120")

	t.Set("APT::Architecture", "amd64")
	t.Set("APT::Default-Release", "")
	t.Set("APT::Cache-Limit", "0")
}

// HostConfig is the small bootstrap file the CLI tools read before the
// Configuration tree proper, naming where that tree's files live. It is a
// YAML file in the user's config directory, loaded the same way the rest
// of the tooling here loads its per-user settings.
type HostConfig struct {
	RootDir     string `yaml:"root_dir"`
	ConfFile    string `yaml:"conf_file"`
	Debug       bool   `yaml:"debug"`
	Quiet       int    `yaml:"quiet"`
	OverrideTOML string `yaml:"overrides"`
}

// DefaultHostConfig returns the stock bootstrap settings.
func DefaultHostConfig() *HostConfig {
	return &HostConfig{RootDir: "/"}
}

// LoadHostConfig reads a HostConfig from path, or the default location when
// path is empty. A missing file yields the defaults.
func LoadHostConfig(path string) (*HostConfig, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultHostConfig(), nil
		}
		path = filepath.Join(home, ".config", "goapt", "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultHostConfig(), nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var hc HostConfig
	if err := yaml.Unmarshal(data, &hc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if hc.RootDir == "" {
		hc.RootDir = "/"
	}
	return &hc, nil
}

// Logger builds the subsystem logger the host config asks for: a real
// stdout logger under Debug, a discarding one otherwise.
func (hc *HostConfig) Logger(prefix string) *log.Logger {
	if hc.Debug {
		return log.New(os.Stdout, prefix, log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}
