// Package config handles symrun.toml engine configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the engine configuration.
type Config struct {
	Solver  Solver  `toml:"solver"`
	Explore Explore `toml:"explore"`
	Native  Native  `toml:"native"`
	Log     Log     `toml:"log"`
}

// Solver bounds how far symbolic values are enumerated.
type Solver struct {
	// SymbolicFanout caps the candidate count of a symbolic index, address
	// or jump target.
	SymbolicFanout int `toml:"symbolic-fanout"`
	// EvalLimit caps the values the engine asks the solver for when it
	// enumerates a symbolic address; reaching it is treated like exceeding
	// the fan-out.
	EvalLimit int `toml:"eval-limit"`
}

// Explore configures the path exploration manager.
type Explore struct {
	Workers  int `toml:"workers"`
	MaxSteps int `toml:"max-steps"`
	MaxPaths int `toml:"max-paths"`
}

// Native places the native stack, the JNI environment and borrowed
// buffers in the flat address space.
type Native struct {
	StackBase  uint64 `toml:"stack-base"`
	StackSize  uint64 `toml:"stack-size"`
	JNIEnv     uint64 `toml:"jni-env"`
	JNIHooks   uint64 `toml:"jni-hooks"`
	BufferBase uint64 `toml:"buffer-base"`
}

type Log struct {
	Level   string `toml:"level"`
	Modules string `toml:"modules"`
}

func Default() Config {
	return Config{
		Solver: Solver{
			SymbolicFanout: 256,
			EvalLimit:      257,
		},
		Explore: Explore{
			Workers:  4,
			MaxSteps: 100000,
			MaxPaths: 4096,
		},
		Native: Native{
			StackBase:  0x7fff0000,
			StackSize:  0x10000,
			JNIEnv:     0x6f000000,
			JNIHooks:   0x6f100000,
			BufferBase: 0x6f200000,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Solver.SymbolicFanout < 1 {
		return fmt.Errorf("solver.symbolic-fanout must be positive")
	}
	if c.Solver.EvalLimit < 2 {
		return fmt.Errorf("solver.eval-limit must be at least 2")
	}
	if c.Explore.Workers < 1 {
		return fmt.Errorf("explore.workers must be positive")
	}
	if c.Native.StackSize == 0 || c.Native.StackSize > c.Native.StackBase {
		return fmt.Errorf("native.stack-size must fit below native.stack-base")
	}
	return nil
}
