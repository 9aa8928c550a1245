package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lifter/internal/arch"
	"lifter/internal/cfg"
)

// Config holds exploration settings. Values come from the defaults, then
// a JSON file given with --config, then explicitly set flags.
type Config struct {
	Arch            string   `json:"arch,omitempty" jsonschema:"title=Architecture,description=Decoder to use; detected from the ELF header when empty,enum=arm64,enum=amd64"`
	MaxBlocks       int      `json:"maxBlocks,omitempty" jsonschema:"title=Max Blocks,description=Abort exploration once the graph would grow past this many blocks; 0 is unlimited,minimum=0"`
	ResolveIndirect bool     `json:"resolveIndirect" jsonschema:"title=Resolve Indirect,description=Trace register jump targets back through the block"`
	Passes          []string `json:"passes" jsonschema:"title=Optimizer Passes,description=Block simplification passes in run order,enum=constprop,enum=branches"`
	Theme           string   `json:"theme,omitempty" jsonschema:"title=Theme,description=Markdown summary theme,enum=charm,enum=dark"`
	Debug           bool     `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
}

// DefaultConfig returns the settings used without a config file.
func DefaultConfig() Config {
	return Config{
		ResolveIndirect: true,
		Passes:          []string{"constprop", "branches"},
		Theme:           "charm",
	}
}

// LoadConfig reads a JSON config file over the defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	bts, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(bts, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks values that would otherwise fail deep inside
// exploration.
func (c Config) Validate() error {
	var errs []error
	if c.Arch != "" {
		if _, err := arch.Lookup(c.Arch); err != nil {
			errs = append(errs, err)
		}
	}
	if c.MaxBlocks < 0 {
		errs = append(errs, fmt.Errorf("maxBlocks must not be negative, got %d", c.MaxBlocks))
	}
	if _, err := cfg.PipelineByName(c.Passes); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Options turns the config into explorer options.
func (c Config) Options() ([]cfg.Option, error) {
	pipeline, err := cfg.PipelineByName(c.Passes)
	if err != nil {
		return nil, err
	}
	return []cfg.Option{
		cfg.WithOptimizer(pipeline),
		cfg.WithAnalyzer(cfg.BranchAnalyzer{ResolveIndirect: c.ResolveIndirect}),
		cfg.WithMaxBlocks(c.MaxBlocks),
	}, nil
}

// resolveConfig loads --config and applies the flags the user set.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	c, err := LoadConfig(path)
	if err != nil {
		return c, err
	}

	flags := cmd.Flags()
	if flags.Changed("arch") {
		c.Arch, _ = flags.GetString("arch")
	}
	if flags.Changed("max-blocks") {
		c.MaxBlocks, _ = flags.GetInt("max-blocks")
	}
	if flags.Changed("no-resolve") {
		noResolve, _ := flags.GetBool("no-resolve")
		c.ResolveIndirect = !noResolve
	}
	if flags.Changed("passes") {
		c.Passes, _ = flags.GetStringSlice("passes")
	}
	if flags.Changed("theme") {
		c.Theme, _ = flags.GetString("theme")
	}
	if debug, _ := flags.GetBool("debug"); debug {
		c.Debug = true
	}

	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}
