// Package config loads analysis settings from relift.conf files. Files
// found walking up from the working directory are merged over the built-in
// defaults, nearest file winning.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type config struct {
	cfg  Config
	meta toml.MetaData
}

// Config holds the tunables of the value-set analysis.
type Config struct {
	Valueset ValuesetConfig `toml:"valueset"`
}

// ValuesetConfig controls the fixpoint solver.
type ValuesetConfig struct {
	// MaxIterations caps the total node iterations of one solve.
	MaxIterations int `toml:"max_iterations"`
	// WidenAt is the iteration at which landmark widening kicks in.
	WidenAt int `toml:"widen_at"`
	// FreezeAt is the iteration at which a non-converged node is forced
	// to the full range.
	FreezeAt int `toml:"freeze_at"`
	// QuickFreeze selects the cheap freeze-only widening strategy.
	QuickFreeze bool `toml:"quick_freeze"`
	// TraceSolver enables per-iteration debug logging.
	TraceSolver bool `toml:"trace_solver"`
}

func (cfg config) Merge(ocfg config) config {
	if ocfg.meta.IsDefined("valueset", "max_iterations") {
		cfg.cfg.Valueset.MaxIterations = ocfg.cfg.Valueset.MaxIterations
	}
	if ocfg.meta.IsDefined("valueset", "widen_at") {
		cfg.cfg.Valueset.WidenAt = ocfg.cfg.Valueset.WidenAt
	}
	if ocfg.meta.IsDefined("valueset", "freeze_at") {
		cfg.cfg.Valueset.FreezeAt = ocfg.cfg.Valueset.FreezeAt
	}
	if ocfg.meta.IsDefined("valueset", "quick_freeze") {
		cfg.cfg.Valueset.QuickFreeze = ocfg.cfg.Valueset.QuickFreeze
	}
	if ocfg.meta.IsDefined("valueset", "trace_solver") {
		cfg.cfg.Valueset.TraceSolver = ocfg.cfg.Valueset.TraceSolver
	}
	return cfg
}

var defaultConfig = Config{
	Valueset: ValuesetConfig{
		MaxIterations: 10000,
		WidenAt:       2,
		FreezeAt:      5,
		QuickFreeze:   false,
		TraceSolver:   false,
	},
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig
}

const configName = "relift.conf"

func parseConfigs(dir string) ([]config, error) {
	var out []config

	for dir != "" {
		f, err := os.Open(filepath.Join(dir, configName))
		if os.IsNotExist(err) {
			ndir := filepath.Dir(dir)
			if ndir == dir {
				break
			}
			dir = ndir
			continue
		}
		if err != nil {
			return nil, err
		}
		var cfg Config
		meta, err := toml.DecodeReader(f, &cfg)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, config{cfg, meta})
		ndir := filepath.Dir(dir)
		if ndir == dir {
			break
		}
		dir = ndir
	}
	out = append(out, config{
		cfg:  defaultConfig,
		meta: toml.MetaData{}, // meta of the base config should never be accessed
	})
	for i := 0; i < len(out)/2; i++ {
		out[i], out[len(out)-1-i] = out[len(out)-1-i], out[i]
	}
	return out, nil
}

func mergeConfigs(confs []config) Config {
	if len(confs) == 0 {
		// This shouldn't happen because we always have at least a
		// default config.
		panic("trying to merge zero configs")
	}
	if len(confs) == 1 {
		return confs[0].cfg
	}
	conf := confs[0]
	for _, oconf := range confs[1:] {
		conf = conf.Merge(oconf)
	}
	return conf.cfg
}

// Load reads and merges every relift.conf from dir upward.
func Load(dir string) (Config, error) {
	confs, err := parseConfigs(dir)
	if err != nil {
		return Config{}, err
	}
	return mergeConfigs(confs), nil
}
