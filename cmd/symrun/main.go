// symrun explores the bundled mixed bytecode/native sample programs.
package main

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/jnisym/config"
	log "github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/samples"
	"github.com/colorfulnotion/jnisym/sim"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

type globalFlags struct {
	configPath string
	logLevel   string
	debug      string
	workers    int
	maxSteps   int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	rootCmd := &cobra.Command{
		Use:           "symrun",
		Short:         "Symbolic execution across bytecode and JNI native code",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "TOML config file (defaults apply when empty)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&g.debug, "debug", "", "Debug modules to enable (state,bridge,native,bytecode,explore,solver,lanes or all)")
	pf.IntVar(&g.workers, "workers", 0, "Parallel stepping workers (overrides config)")
	pf.IntVar(&g.maxSteps, "max-steps", 0, "Step budget (overrides config)")

	rootCmd.AddCommand(newRunCmd(&g), newDisasmCmd(), newReplCmd(&g), newSamplesCmd())
	return rootCmd
}

// setup loads the config and initializes logging from the flags.
func (g *globalFlags) setup(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("workers") {
		cfg.Explore.Workers = g.workers
	}
	if cmd.Flags().Changed("max-steps") {
		cfg.Explore.MaxSteps = g.maxSteps
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.debug != "" {
		cfg.Log.Modules = g.debug
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return cfg, err
	}
	log.InitLogger(cfg.Log.Level)
	log.EnableModules(cfg.Log.Modules)
	return cfg, nil
}

// load builds the named sample and its initial state.
func load(name string, cfg config.Config) (samples.Sample, *sim.State, error) {
	smp, ok := samples.Lookup(name)
	if !ok {
		return smp, nil, fmt.Errorf("unknown sample %q (see symrun samples)", name)
	}
	p, err := smp.Program()
	if err != nil {
		return smp, nil, err
	}
	m := sim.NewMachine(p, cfg)
	if smp.Native {
		addr, ok := p.Symbol(smp.Entry)
		if !ok {
			return smp, nil, fmt.Errorf("sample %s: no symbol %s", name, smp.Entry)
		}
		s, err := m.BlankState(sim.NativeAddr(addr))
		return smp, s, err
	}
	s, err := m.EntryState(smp.Entry)
	return smp, s, err
}

func newSamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "List the bundled sample programs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, s := range samples.All() {
				kind := "bytecode"
				if s.Native {
					kind = "native"
				}
				fmt.Fprintf(out, "%-12s %-8s %s\n", s.Name, kind, s.Doc)
			}
		},
	}
}
